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

const inquiryCounterID = "inquiry_number"

type mongoInquiryStore struct {
	db *mongo.Database
}

// NewMongoInquiryStore creates an InquiryStore backed by the inquiries collection.
func NewMongoInquiryStore(database *mongo.Database) InquiryStore {
	return &mongoInquiryStore{db: database}
}

func (s *mongoInquiryStore) NextInquiryNumber(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.db.Collection(db.CountersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": inquiryCounterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to increment inquiry counter: %w", err)
	}
	return counter.Seq, nil
}

func (s *mongoInquiryStore) Insert(ctx context.Context, inquiry *models.Inquiry) error {
	if inquiry.ID.IsZero() {
		inquiry.ID = primitive.NewObjectID()
	}
	if _, err := s.db.Collection(db.InquiriesCollection).InsertOne(ctx, inquiry); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return fmt.Errorf("inquiry %s: %w", inquiry.ID.Hex(), ErrDuplicate)
		}
		return fmt.Errorf("failed to insert inquiry: %w", err)
	}
	return nil
}

func (s *mongoInquiryStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Inquiry, error) {
	var inquiry models.Inquiry
	err := s.db.Collection(db.InquiriesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&inquiry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding inquiry %s: %w", id.Hex(), err)
	}
	return &inquiry, nil
}

func (s *mongoInquiryStore) FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Inquiry, error) {
	if len(ids) == 0 {
		return []models.Inquiry{}, nil
	}
	return s.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, nil)
}

func (s *mongoInquiryStore) FindAll(ctx context.Context) ([]models.Inquiry, error) {
	return s.find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

// FindAlerting selects inquiries that are not completed and either miss one of
// the material flags or have a follow-up date in the past.
func (s *mongoInquiryStore) FindAlerting(ctx context.Context, now time.Time) ([]models.Inquiry, error) {
	filter := bson.M{
		"status": bson.M{"$ne": models.StatusCompleted},
		"$or": bson.A{
			bson.M{"ready_mix": bson.M{"$ne": true}},
			bson.M{"blocks": bson.M{"$ne": true}},
			bson.M{"building_material": bson.M{"$ne": true}},
			bson.M{"follow_up_date": bson.M{"$lt": now}},
		},
	}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (s *mongoInquiryStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Inquiry, error) {
	if opts == nil {
		opts = options.Find()
	}
	cursor, err := s.db.Collection(db.InquiriesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query inquiries: %w", err)
	}
	defer cursor.Close(ctx)

	inquiries := []models.Inquiry{}
	if err := cursor.All(ctx, &inquiries); err != nil {
		return nil, fmt.Errorf("failed to decode inquiries: %w", err)
	}
	return inquiries, nil
}

func (s *mongoInquiryStore) Apply(ctx context.Context, id primitive.ObjectID, m InquiryMutation) (*models.Inquiry, error) {
	set := bson.M{"updated_at": m.UpdatedAt}
	if m.Status != nil {
		set["status"] = *m.Status
	}
	if m.FollowUpDate != nil {
		set["follow_up_date"] = *m.FollowUpDate
	}
	if m.ReadyMix != nil {
		set["ready_mix"] = *m.ReadyMix
	}
	if m.Blocks != nil {
		set["blocks"] = *m.Blocks
	}
	if m.BuildingMaterial != nil {
		set["building_material"] = *m.BuildingMaterial
	}
	if m.Remarks != nil {
		set["remarks"] = *m.Remarks
	}
	if m.ClientName != nil {
		set["client.name"] = *m.ClientName
	}
	if m.ClientPhone != nil {
		set["client.phone"] = *m.ClientPhone
	}
	if m.ClientAddress != nil {
		set["client.address"] = *m.ClientAddress
	}
	update := bson.M{"$set": set}
	if len(m.PushRemarks) > 0 {
		update["$push"] = bson.M{"admin_remarks": bson.M{"$each": m.PushRemarks}}
	}

	filter := bson.M{"_id": id}
	if m.Status != nil {
		filter["$or"] = bson.A{
			bson.M{"status": bson.M{"$nin": models.TerminalStatuses}},
			bson.M{"status": *m.Status},
		}
	}

	var updated models.Inquiry
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.db.Collection(db.InquiriesCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update inquiry %s: %w", id.Hex(), err)
	}
	if m.Status == nil {
		return nil, ErrNotFound
	}
	// The guard may have rejected the write; tell that apart from a missing document.
	n, countErr := s.db.Collection(db.InquiriesCollection).CountDocuments(ctx, bson.M{"_id": id})
	if countErr != nil {
		return nil, fmt.Errorf("failed to check inquiry %s: %w", id.Hex(), countErr)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrTransitionRejected
}
