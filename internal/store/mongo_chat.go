package store

import (
	"context"
	"errors"
	"fmt"

	"fieldops/inquiry/internal/db"
	"fieldops/inquiry/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoRoomStore struct {
	db *mongo.Database
}

// NewMongoRoomStore creates a RoomStore backed by the chats collection.
func NewMongoRoomStore(database *mongo.Database) RoomStore {
	return &mongoRoomStore{db: database}
}

func (s *mongoRoomStore) findOne(ctx context.Context, filter bson.M) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.db.Collection(db.ChatsCollection).FindOne(ctx, filter).Decode(&room)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding chat room: %w", err)
	}
	return &room, nil
}

func (s *mongoRoomStore) FindByInquiry(ctx context.Context, inquiryID primitive.ObjectID) (*models.ChatRoom, error) {
	return s.findOne(ctx, bson.M{"inquiry_id": inquiryID})
}

func (s *mongoRoomStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.ChatRoom, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *mongoRoomStore) Insert(ctx context.Context, room *models.ChatRoom) error {
	if room.ID.IsZero() {
		room.ID = primitive.NewObjectID()
	}
	if _, err := s.db.Collection(db.ChatsCollection).InsertOne(ctx, room); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return fmt.Errorf("chat room for inquiry %s: %w", room.InquiryID.Hex(), ErrDuplicate)
		}
		return fmt.Errorf("failed to insert chat room: %w", err)
	}
	return nil
}

// ReserveMessageID runs as a single pipeline update, so concurrent writers on
// any instance are serialized by the document lock.
func (s *mongoRoomStore) ReserveMessageID(ctx context.Context, roomID, senderID primitive.ObjectID, candidate int64) (int64, error) {
	participants := bson.D{{Key: "$ifNull", Value: bson.A{"$participants", bson.A{}}}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "msg_seq", Value: bson.D{{Key: "$max", Value: bson.A{
				candidate,
				bson.D{{Key: "$add", Value: bson.A{
					bson.D{{Key: "$ifNull", Value: bson.A{"$msg_seq", int64(0)}}},
					int64(1),
				}}},
			}}}},
			{Key: "participants", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$in", Value: bson.A{senderID, participants}}},
				participants,
				bson.D{{Key: "$concatArrays", Value: bson.A{participants, bson.A{senderID}}}},
			}}}},
		}}},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"msg_seq": 1})

	var room models.ChatRoom
	err := s.db.Collection(db.ChatsCollection).FindOneAndUpdate(ctx, bson.M{"_id": roomID}, update, opts).Decode(&room)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to reserve message id in chat room %s: %w", roomID.Hex(), err)
	}
	return room.MessageSeq, nil
}

func (s *mongoRoomStore) RecordMessage(ctx context.Context, roomID primitive.ObjectID, msg *models.Message) error {
	coll := s.db.Collection(db.ChatsCollection)
	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{"$max": bson.M{"last_message_id": msg.ID}},
	)
	if err != nil {
		return fmt.Errorf("failed to update chat room %s: %w", roomID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	// Only the message that currently holds last_message_id may write the preview,
	// so a slower writer of an older message cannot overwrite a newer one.
	_, err = coll.UpdateOne(ctx,
		bson.M{"_id": roomID, "last_message_id": msg.ID},
		bson.M{"$set": bson.M{"last_message": msg.Text, "last_message_at": msg.CreatedAt}},
	)
	if err != nil {
		return fmt.Errorf("failed to update last message of chat room %s: %w", roomID.Hex(), err)
	}
	return nil
}

func (s *mongoRoomStore) FindByParticipant(ctx context.Context, userID primitive.ObjectID) ([]models.ChatRoom, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}})
	cursor, err := s.db.Collection(db.ChatsCollection).Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat rooms: %w", err)
	}
	defer cursor.Close(ctx)

	rooms := []models.ChatRoom{}
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, fmt.Errorf("failed to decode chat rooms: %w", err)
	}
	return rooms, nil
}
