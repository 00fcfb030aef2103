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

type mongoMessageStore struct {
	db *mongo.Database
}

// NewMongoMessageStore creates a MessageStore backed by the msgs collection.
func NewMongoMessageStore(database *mongo.Database) MessageStore {
	return &mongoMessageStore{db: database}
}

func (s *mongoMessageStore) Insert(ctx context.Context, msg *models.Message) error {
	if msg.ReadBy == nil {
		msg.ReadBy = []primitive.ObjectID{}
	}
	if _, err := s.db.Collection(db.MessagesCollection).InsertOne(ctx, msg); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return fmt.Errorf("message %d: %w", msg.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *mongoMessageStore) Page(ctx context.Context, chatID primitive.ObjectID, limit int, before *int64) ([]models.Message, error) {
	filter := bson.M{"chat_id": chatID}
	if before != nil {
		filter["_id"] = bson.M{"$lt": *before}
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.db.Collection(db.MessagesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := []models.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

func (s *mongoMessageStore) LatestID(ctx context.Context, chatID primitive.ObjectID) (int64, error) {
	var latest struct {
		ID int64 `bson:"_id"`
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}).SetProjection(bson.M{"_id": 1})
	err := s.db.Collection(db.MessagesCollection).FindOne(ctx, bson.M{"chat_id": chatID}, opts).Decode(&latest)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to find latest message: %w", err)
	}
	return latest.ID, nil
}

func (s *mongoMessageStore) MarkReadUpTo(ctx context.Context, chatID, userID primitive.ObjectID, upTo int64) error {
	_, err := s.db.Collection(db.MessagesCollection).UpdateMany(ctx,
		bson.M{"chat_id": chatID, "_id": bson.M{"$lte": upTo}, "read_by": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}

func (s *mongoMessageStore) CountUnread(ctx context.Context, chatID, userID primitive.ObjectID, after int64) (int64, error) {
	n, err := s.db.Collection(db.MessagesCollection).CountDocuments(ctx, bson.M{
		"chat_id":   chatID,
		"_id":       bson.M{"$gt": after},
		"sender_id": bson.M{"$ne": userID},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}
