package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names shared by the store layer.
const (
	InquiriesCollection = "inquiries"
	ChatsCollection     = "chats"
	MessagesCollection  = "msgs"
	ReadsCollection     = "chat_reads"
	EmployeesCollection = "employees"
	UsersCollection     = "users"
	CountersCollection  = "counters"
)

// ConnectDB initializes and returns a MongoDB client and database instance.
func ConnectDB(uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the primary node
	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	fmt.Println("Successfully connected to MongoDB!")

	return client, db, nil
}

// DisconnectDB closes the MongoDB client connection.
func DisconnectDB(client *mongo.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	fmt.Println("MongoDB connection closed.")
	return nil
}

// EnsureIndexes creates the indexes the chat and inquiry stores rely on.
// The unique index on chats.inquiry_id is what makes room get-or-create safe
// across concurrent senders and across instances.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		ChatsCollection: {
			{Keys: bson.D{{Key: "inquiry_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_inquiry")},
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}}, Options: options.Index().SetName("participants_recent")},
		},
		MessagesCollection: {
			{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "_id", Value: -1}}, Options: options.Index().SetName("chat_order")},
		},
		ReadsCollection: {
			{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_chat_user")},
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetName("by_user")},
		},
		InquiriesCollection: {
			{Keys: bson.D{{Key: "follow_up_date", Value: 1}}, Options: options.Index().SetName("follow_up")},
			{Keys: bson.D{{Key: "employee", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("by_employee")},
			{Keys: bson.D{{Key: "inquiry_number", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_number")},
		},
	}

	for collection, models := range specs {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return nil
}
