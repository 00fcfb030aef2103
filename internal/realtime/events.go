package realtime

import (
	"encoding/json"

	"fieldops/inquiry/internal/models"
)

// Client to server events.
const (
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventSendMessage = "sendMessage"
)

// Server to client events.
const (
	EventRoomJoined  = "roomJoined"
	EventNewMessage  = "newMessage"
	EventMessageSent = "messageSent"
	EventError       = "error"
)

// Envelope is the frame exchanged over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoomRequest is the payload of joinRoom and leaveRoom.
type JoinRoomRequest struct {
	InquiryID string `json:"inquiry_id"`
}

// SendMessageRequest is the payload of sendMessage. One of InquiryID or ChatID is required.
type SendMessageRequest struct {
	InquiryID string `json:"inquiry_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	Text      string `json:"text"`
}

// RoomJoined is pushed once after a successful join.
type RoomJoined struct {
	InquiryID string           `json:"inquiry_id"`
	History   []models.Message `json:"history"`
}

// MessageEvent wraps a message for newMessage and messageSent.
type MessageEvent struct {
	Message *models.Message `json:"message"`
}

// ErrorEvent reports a failed client request.
type ErrorEvent struct {
	Error string `json:"error"`
}

// Encode builds a ready-to-write frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
