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

type mongoDirectoryStore struct {
	db *mongo.Database
}

// NewMongoDirectoryStore creates a read-only DirectoryStore over employees and users.
func NewMongoDirectoryStore(database *mongo.Database) DirectoryStore {
	return &mongoDirectoryStore{db: database}
}

func (s *mongoDirectoryStore) FindEmployeeByUser(ctx context.Context, userID primitive.ObjectID) (*models.Employee, error) {
	var employee models.Employee
	err := s.db.Collection(db.EmployeesCollection).FindOne(ctx, bson.M{"user": userID}).Decode(&employee)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding employee for user %s: %w", userID.Hex(), err)
	}
	return &employee, nil
}

func (s *mongoDirectoryStore) FindUsers(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	users := []models.User{}
	if len(ids) == 0 {
		return users, nil
	}
	opts := options.Find().SetProjection(bson.M{"username": 1, "level": 1})
	cursor, err := s.db.Collection(db.UsersCollection).Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer cursor.Close(ctx)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}
