package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChatRoom is the single conversation bound to an inquiry.
type ChatRoom struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	InquiryID    primitive.ObjectID   `bson:"inquiry_id" json:"inquiry_id"`
	Participants []primitive.ObjectID `bson:"participants" json:"participants"`
	// Cached copies of the newest message, written at send time.
	LastMessage   string    `bson:"last_message" json:"last_message"`
	LastMessageAt time.Time `bson:"last_message_at" json:"last_message_at"`
	LastMessageID int64     `bson:"last_message_id,omitempty" json:"last_message_id,string,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	// MessageSeq is the highest message id allocated in the room.
	MessageSeq int64 `bson:"msg_seq,omitempty" json:"-"`
}

// HasParticipant reports whether userID is in the persisted participant set.
func (r *ChatRoom) HasParticipant(userID primitive.ObjectID) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is one chat utterance. Immutable apart from ReadBy.
type Message struct {
	ID         int64                `bson:"_id" json:"id,string"`
	ChatID     primitive.ObjectID   `bson:"chat_id" json:"chat_id"`
	SenderID   primitive.ObjectID   `bson:"sender_id" json:"sender_id"`
	SenderName string               `bson:"sender_name" json:"sender_name"`
	Text       string               `bson:"text" json:"text"`
	ReadBy     []primitive.ObjectID `bson:"read_by" json:"read_by"`
	CreatedAt  time.Time            `bson:"created_at" json:"created_at"`
}

// ReadMarker is the per (room, user) watermark of the newest acknowledged message.
type ReadMarker struct {
	ChatID     primitive.ObjectID `bson:"chat_id" json:"chat_id"`
	UserID     primitive.ObjectID `bson:"user_id" json:"user_id"`
	LastReadID int64              `bson:"last_read_id" json:"last_read_id,string"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
}

// InquirySummary is the slice of an inquiry shown next to a room in listings.
type InquirySummary struct {
	ID            primitive.ObjectID `json:"id"`
	InquiryNumber int64              `json:"inquiry_number,omitempty"`
	Status        InquiryStatus      `json:"status"`
	ClientName    string             `json:"client_name"`
}

// ParticipantSummary pairs a participant with a display name.
type ParticipantSummary struct {
	ID       primitive.ObjectID `json:"id"`
	Username string             `json:"username,omitempty"`
}

// ChatSummary is a room as returned by the chat listing operations.
type ChatSummary struct {
	ChatRoom

	Inquiry     *InquirySummary      `json:"inquiry,omitempty"`
	Members     []ParticipantSummary `json:"members"`
	Unread      bool                 `json:"unread"`
	UnreadCount int64                `json:"unread_count"`
	LastReadID  int64                `json:"last_read_id,string,omitempty"`
}
