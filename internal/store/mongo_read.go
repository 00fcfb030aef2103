package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldops/inquiry/internal/db"
	"fieldops/inquiry/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoReadStore struct {
	db *mongo.Database
}

// NewMongoReadStore creates a ReadStore backed by the chat_reads collection.
func NewMongoReadStore(database *mongo.Database) ReadStore {
	return &mongoReadStore{db: database}
}

// Advance upserts the marker with $max so it never moves backwards.
func (s *mongoReadStore) Advance(ctx context.Context, chatID, userID primitive.ObjectID, lastReadID int64, at time.Time) (int64, error) {
	var marker models.ReadMarker
	operation := func(ctx context.Context) error {
		return s.db.Collection(db.ReadsCollection).FindOneAndUpdate(ctx,
			bson.M{"chat_id": chatID, "user_id": userID},
			bson.M{
				"$max": bson.M{"last_read_id": lastReadID},
				"$set": bson.M{"updated_at": at},
			},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&marker)
	}
	// Two first reads can race on the unique index; the loser retries as an update.
	if err := db.RetryOnDuplicate(ctx, db.DefaultUpsertAttempts, operation); err != nil {
		return 0, fmt.Errorf("failed to advance read marker: %w", err)
	}
	return marker.LastReadID, nil
}

func (s *mongoReadStore) Get(ctx context.Context, chatID, userID primitive.ObjectID) (int64, error) {
	var marker models.ReadMarker
	err := s.db.Collection(db.ReadsCollection).FindOne(ctx, bson.M{"chat_id": chatID, "user_id": userID}).Decode(&marker)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get read marker: %w", err)
	}
	return marker.LastReadID, nil
}

func (s *mongoReadStore) ForUser(ctx context.Context, userID primitive.ObjectID) (map[primitive.ObjectID]int64, error) {
	cursor, err := s.db.Collection(db.ReadsCollection).Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to query read markers: %w", err)
	}
	defer cursor.Close(ctx)

	markers := make(map[primitive.ObjectID]int64)
	for cursor.Next(ctx) {
		var marker models.ReadMarker
		if err := cursor.Decode(&marker); err != nil {
			return nil, fmt.Errorf("failed to decode read marker: %w", err)
		}
		markers[marker.ChatID] = marker.LastReadID
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("read marker cursor error: %w", err)
	}
	return markers, nil
}
