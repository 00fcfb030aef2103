package store

import (
	"context"
	"errors"
	"time"

	"fieldops/inquiry/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrNotFound is returned when no document matches.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when a unique index rejects an insert.
	ErrDuplicate = errors.New("duplicate key")
	// ErrTransitionRejected is returned when a status write would leave a terminal state.
	ErrTransitionRejected = errors.New("status transition rejected")
)

// InquiryMutation is the set of field writes applied to one inquiry in a single update.
// Nil fields are left untouched.
type InquiryMutation struct {
	Status           *models.InquiryStatus
	FollowUpDate     *time.Time
	ReadyMix         *bool
	Blocks           *bool
	BuildingMaterial *bool
	Remarks          *string
	ClientName       *string
	ClientPhone      *string
	ClientAddress    *string
	PushRemarks      []models.AdminRemark
	UpdatedAt        time.Time
}

// Empty reports whether the mutation writes nothing besides UpdatedAt.
func (m *InquiryMutation) Empty() bool {
	return m.Status == nil && m.FollowUpDate == nil && m.ReadyMix == nil && m.Blocks == nil &&
		m.BuildingMaterial == nil && m.Remarks == nil && m.ClientName == nil && m.ClientPhone == nil &&
		m.ClientAddress == nil && len(m.PushRemarks) == 0
}

// InquiryStore persists inquiry records.
type InquiryStore interface {
	NextInquiryNumber(ctx context.Context) (int64, error)
	Insert(ctx context.Context, inquiry *models.Inquiry) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Inquiry, error)
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Inquiry, error)
	FindAll(ctx context.Context) ([]models.Inquiry, error)
	FindAlerting(ctx context.Context, now time.Time) ([]models.Inquiry, error)
	// Apply writes the mutation atomically and returns the updated document.
	// A status write is rejected with ErrTransitionRejected when the stored
	// status is terminal and differs from the new one.
	Apply(ctx context.Context, id primitive.ObjectID, mutation InquiryMutation) (*models.Inquiry, error)
}

// RoomStore persists chat rooms.
type RoomStore interface {
	FindByInquiry(ctx context.Context, inquiryID primitive.ObjectID) (*models.ChatRoom, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.ChatRoom, error)
	// Insert returns ErrDuplicate when a room for the same inquiry already exists.
	Insert(ctx context.Context, room *models.ChatRoom) error
	// ReserveMessageID adds the sender to the participants and allocates the
	// room's next message id: the larger of candidate and the previous
	// allocation plus one. Ids grow in allocation order across instances.
	ReserveMessageID(ctx context.Context, roomID, senderID primitive.ObjectID, candidate int64) (int64, error)
	// RecordMessage refreshes the last-message cache unless a newer message
	// is already cached.
	RecordMessage(ctx context.Context, roomID primitive.ObjectID, msg *models.Message) error
	FindByParticipant(ctx context.Context, userID primitive.ObjectID) ([]models.ChatRoom, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	Insert(ctx context.Context, msg *models.Message) error
	// Page returns up to limit messages newest first, strictly older than before when set.
	Page(ctx context.Context, chatID primitive.ObjectID, limit int, before *int64) ([]models.Message, error)
	// LatestID returns the newest message id in the room, or 0 when empty.
	LatestID(ctx context.Context, chatID primitive.ObjectID) (int64, error)
	MarkReadUpTo(ctx context.Context, chatID, userID primitive.ObjectID, upTo int64) error
	// CountUnread counts messages newer than after that were not sent by userID.
	CountUnread(ctx context.Context, chatID, userID primitive.ObjectID, after int64) (int64, error)
}

// ReadStore persists per-user read markers.
type ReadStore interface {
	// Advance raises the marker to at least lastReadID and returns the stored value.
	Advance(ctx context.Context, chatID, userID primitive.ObjectID, lastReadID int64, at time.Time) (int64, error)
	// Get returns the marker, or 0 when the user never read the room.
	Get(ctx context.Context, chatID, userID primitive.ObjectID) (int64, error)
	ForUser(ctx context.Context, userID primitive.ObjectID) (map[primitive.ObjectID]int64, error)
}

// DirectoryStore reads the employee and user directories owned by other services.
type DirectoryStore interface {
	FindEmployeeByUser(ctx context.Context, userID primitive.ObjectID) (*models.Employee, error)
	FindUsers(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error)
}

// Stores bundles every store the services depend on.
type Stores struct {
	Inquiries InquiryStore
	Rooms     RoomStore
	Messages  MessageStore
	Reads     ReadStore
	Directory DirectoryStore
}

// NewMongoStores builds the MongoDB-backed stores.
func NewMongoStores(database *mongo.Database) *Stores {
	return &Stores{
		Inquiries: NewMongoInquiryStore(database),
		Rooms:     NewMongoRoomStore(database),
		Messages:  NewMongoMessageStore(database),
		Reads:     NewMongoReadStore(database),
		Directory: NewMongoDirectoryStore(database),
	}
}
