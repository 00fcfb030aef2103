package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"fieldops/inquiry/internal/config"
	"fieldops/inquiry/internal/models"
	"fieldops/inquiry/internal/store"
	"fieldops/inquiry/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	maxMessageLength = 4000
	maxIDAttempts    = 3
)

// RoomOutcome tells whether EnsureRoom found or created the room.
type RoomOutcome int

const (
	RoomExisting RoomOutcome = iota
	RoomCreated
)

func (o RoomOutcome) String() string {
	if o == RoomCreated {
		return "created"
	}
	return "existing"
}

// Broadcaster delivers live messages to the members of a room.
// Sequence runs fn while holding the room's send lock so that
// messages are published in the order they were appended.
type Broadcaster interface {
	Sequence(key string, fn func() error) error
	Publish(key string, msg *models.Message)
}

// IChatService defines the chat room, message log and unread operations.
type IChatService interface {
	EnsureRoom(ctx context.Context, inquiryID, userID primitive.ObjectID) (*models.ChatRoom, RoomOutcome, error)
	FindRoom(ctx context.Context, roomID primitive.ObjectID) (*models.ChatRoom, error)
	Append(ctx context.Context, roomID, senderID primitive.ObjectID, senderName, text string) (*models.Message, error)
	Page(ctx context.Context, roomID primitive.ObjectID, limit int, before *int64) ([]models.Message, error)
	PageByInquiry(ctx context.Context, inquiryID primitive.ObjectID, limit int, before *int64) ([]models.Message, error)
	SendMessage(ctx context.Context, actor models.Actor, inquiryID primitive.ObjectID, text string) (*models.Message, error)
	SendToRoom(ctx context.Context, actor models.Actor, roomID primitive.ObjectID, text string) (*models.Message, error)
	ListChats(ctx context.Context, userID primitive.ObjectID) ([]models.ChatSummary, error)
	UnreadChats(ctx context.Context, userID primitive.ObjectID) ([]models.ChatSummary, error)
	MarkRead(ctx context.Context, roomID, userID primitive.ObjectID) (int64, error)
}

// chatService implements IChatService.
type chatService struct {
	stores       *store.Stores
	employees    IEmployeeService
	broadcaster  Broadcaster
	defaultLimit int
	maxLimit     int
	newID        func() int64
}

// NewChatService creates a new ChatService.
func NewChatService(stores *store.Stores, employees IEmployeeService, broadcaster Broadcaster, cfg *config.Config) IChatService {
	s := &chatService{
		stores:       stores,
		employees:    employees,
		broadcaster:  broadcaster,
		defaultLimit: cfg.ChatHistoryLimit,
		maxLimit:     cfg.ChatMaxPageSize,
		newID:        utils.NewMessageID,
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = 50
	}
	if s.maxLimit < s.defaultLimit {
		s.maxLimit = s.defaultLimit
	}
	return s
}

// EnsureRoom returns the room bound to the inquiry, creating it on first use.
// Concurrent creators race on the unique inquiry index; the loser re-reads the winner.
func (s *chatService) EnsureRoom(ctx context.Context, inquiryID, userID primitive.ObjectID) (*models.ChatRoom, RoomOutcome, error) {
	room, err := s.stores.Rooms.FindByInquiry(ctx, inquiryID)
	if err == nil {
		return room, RoomExisting, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, RoomExisting, storeErr("find room", err)
	}

	inquiry, err := s.stores.Inquiries.FindByID(ctx, inquiryID)
	if err != nil {
		return nil, RoomExisting, storeErr("inquiry "+inquiryID.Hex(), err)
	}

	participants := []primitive.ObjectID{userID}
	if inquiry.Employee != userID {
		participants = append(participants, inquiry.Employee)
	}
	now := time.Now().UTC()
	room = &models.ChatRoom{
		ID:            primitive.NewObjectID(),
		InquiryID:     inquiryID,
		Participants:  participants,
		LastMessage:   "",
		LastMessageAt: now,
		CreatedAt:     now,
	}
	err = s.stores.Rooms.Insert(ctx, room)
	if err == nil {
		log.Printf("Chat room %s created for inquiry %s", room.ID.Hex(), inquiryID.Hex())
		return room, RoomCreated, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return nil, RoomExisting, storeErr("create room", err)
	}

	existing, err := s.stores.Rooms.FindByInquiry(ctx, inquiryID)
	if err != nil {
		return nil, RoomExisting, storeErr("re-read room after conflict", err)
	}
	return existing, RoomExisting, nil
}

func (s *chatService) FindRoom(ctx context.Context, roomID primitive.ObjectID) (*models.ChatRoom, error) {
	room, err := s.stores.Rooms.FindByID(ctx, roomID)
	if err != nil {
		return nil, storeErr("room "+roomID.Hex(), err)
	}
	return room, nil
}

// Append persists a message and updates the room cache and the sender's read marker.
// The message insert is the commit point: once it succeeds the message is
// returned even if the cache or marker writes fail. It does not broadcast; see
// SendMessage.
func (s *chatService) Append(ctx context.Context, roomID, senderID primitive.ObjectID, senderName, text string) (*models.Message, error) {
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}
	var msg *models.Message
	for attempt := 0; ; attempt++ {
		id, err := s.stores.Rooms.ReserveMessageID(ctx, roomID, senderID, s.newID())
		if err != nil {
			return nil, storeErr("room "+roomID.Hex(), err)
		}
		msg = &models.Message{
			ID:         id,
			ChatID:     roomID,
			SenderID:   senderID,
			SenderName: senderName,
			Text:       text,
			ReadBy:     []primitive.ObjectID{senderID},
			CreatedAt:  utils.MessageIDTime(id),
		}
		err = s.stores.Messages.Insert(ctx, msg)
		if err == nil {
			break
		}
		// A bumped id can collide with another room's message; reserve past it.
		if !errors.Is(err, store.ErrDuplicate) || attempt+1 >= maxIDAttempts {
			return nil, storeErr("insert message", err)
		}
	}
	id := msg.ID
	if err := s.stores.Rooms.RecordMessage(ctx, roomID, msg); err != nil {
		// Paging reads the log; only the listing preview and unread flag lag
		// until the next message in the room.
		log.Printf("Failed to update last message of room %s to %d: %v", roomID.Hex(), id, err)
	}
	if _, err := s.stores.Reads.Advance(ctx, roomID, senderID, id, msg.CreatedAt); err != nil {
		// The message is stored; a stale sender marker only shows the room as unread.
		log.Printf("Failed to advance read marker of %s in room %s: %v", senderID.Hex(), roomID.Hex(), err)
	}
	return msg, nil
}

// Page returns up to limit messages older than before, oldest first.
func (s *chatService) Page(ctx context.Context, roomID primitive.ObjectID, limit int, before *int64) ([]models.Message, error) {
	if _, err := s.stores.Rooms.FindByID(ctx, roomID); err != nil {
		return nil, storeErr("room "+roomID.Hex(), err)
	}
	return s.page(ctx, roomID, limit, before)
}

// PageByInquiry is Page addressed by inquiry. A missing room yields an empty page.
func (s *chatService) PageByInquiry(ctx context.Context, inquiryID primitive.ObjectID, limit int, before *int64) ([]models.Message, error) {
	room, err := s.stores.Rooms.FindByInquiry(ctx, inquiryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []models.Message{}, nil
		}
		return nil, storeErr("find room", err)
	}
	return s.page(ctx, room.ID, limit, before)
}

func (s *chatService) page(ctx context.Context, roomID primitive.ObjectID, limit int, before *int64) ([]models.Message, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	messages, err := s.stores.Messages.Page(ctx, roomID, limit, before)
	if err != nil {
		return nil, storeErr("page messages", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SendMessage posts text to the inquiry's room, creating the room if needed,
// and broadcasts it to live members.
func (s *chatService) SendMessage(ctx context.Context, actor models.Actor, inquiryID primitive.ObjectID, text string) (*models.Message, error) {
	if actor.UserID.IsZero() {
		return nil, fmt.Errorf("send message: %w", ErrUnauthorized)
	}
	if _, err := cleanText(text); err != nil {
		return nil, err
	}
	inquiry, err := s.stores.Inquiries.FindByID(ctx, inquiryID)
	if err != nil {
		return nil, storeErr("inquiry "+inquiryID.Hex(), err)
	}
	room, err := s.stores.Rooms.FindByInquiry(ctx, inquiryID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr("find room", err)
	}
	if err := authorizeSender(actor, inquiry, room); err != nil {
		return nil, err
	}
	if room == nil {
		if room, _, err = s.EnsureRoom(ctx, inquiryID, actor.UserID); err != nil {
			return nil, err
		}
	}
	return s.post(ctx, room, actor, text)
}

// SendToRoom posts text to an existing room.
func (s *chatService) SendToRoom(ctx context.Context, actor models.Actor, roomID primitive.ObjectID, text string) (*models.Message, error) {
	if actor.UserID.IsZero() {
		return nil, fmt.Errorf("send message: %w", ErrUnauthorized)
	}
	if _, err := cleanText(text); err != nil {
		return nil, err
	}
	room, err := s.stores.Rooms.FindByID(ctx, roomID)
	if err != nil {
		return nil, storeErr("room "+roomID.Hex(), err)
	}
	inquiry, err := s.stores.Inquiries.FindByID(ctx, room.InquiryID)
	if err != nil {
		return nil, storeErr("inquiry "+room.InquiryID.Hex(), err)
	}
	if err := authorizeSender(actor, inquiry, room); err != nil {
		return nil, err
	}
	return s.post(ctx, room, actor, text)
}

// post appends and publishes under the room's send lock. The caller's
// cancellation is dropped so a disconnecting sender still completes both steps.
func (s *chatService) post(ctx context.Context, room *models.ChatRoom, actor models.Actor, text string) (*models.Message, error) {
	ctx = context.WithoutCancel(ctx)
	key := room.InquiryID.Hex()
	var msg *models.Message
	err := s.broadcaster.Sequence(key, func() error {
		m, err := s.Append(ctx, room.ID, actor.UserID, actor.Username, text)
		if err != nil {
			return err
		}
		msg = m
		s.broadcaster.Publish(key, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListChats returns the rooms the user participates in, most recent first.
func (s *chatService) ListChats(ctx context.Context, userID primitive.ObjectID) ([]models.ChatSummary, error) {
	rooms, err := s.stores.Rooms.FindByParticipant(ctx, userID)
	if err != nil {
		return nil, storeErr("list rooms", err)
	}
	markers, err := s.stores.Reads.ForUser(ctx, userID)
	if err != nil {
		return nil, storeErr("list read markers", err)
	}

	inquiryIDs := make([]primitive.ObjectID, 0, len(rooms))
	var participantIDs []primitive.ObjectID
	for _, r := range rooms {
		inquiryIDs = append(inquiryIDs, r.InquiryID)
		participantIDs = append(participantIDs, r.Participants...)
	}
	inquiries, err := s.stores.Inquiries.FindByIDs(ctx, inquiryIDs)
	if err != nil {
		return nil, storeErr("load inquiries", err)
	}
	byInquiry := make(map[primitive.ObjectID]*models.Inquiry, len(inquiries))
	for i := range inquiries {
		byInquiry[inquiries[i].ID] = &inquiries[i]
	}
	names := map[primitive.ObjectID]string{}
	if s.employees != nil {
		if names, err = s.employees.Usernames(ctx, participantIDs); err != nil {
			log.Printf("Failed to resolve participant names: %v", err)
			names = map[primitive.ObjectID]string{}
		}
	}

	summaries := make([]models.ChatSummary, 0, len(rooms))
	for _, r := range rooms {
		marker := markers[r.ID]
		summary := models.ChatSummary{
			ChatRoom:   r,
			Unread:     r.LastMessageID > marker,
			LastReadID: marker,
			Members:    make([]models.ParticipantSummary, 0, len(r.Participants)),
		}
		if inq, ok := byInquiry[r.InquiryID]; ok {
			summary.Inquiry = &models.InquirySummary{
				ID:            inq.ID,
				InquiryNumber: inq.InquiryNumber,
				Status:        inq.Status,
				ClientName:    inq.Client.Name,
			}
		}
		for _, p := range r.Participants {
			summary.Members = append(summary.Members, models.ParticipantSummary{ID: p, Username: names[p]})
		}
		if summary.Unread {
			if summary.UnreadCount, err = s.stores.Messages.CountUnread(ctx, r.ID, userID, marker); err != nil {
				return nil, storeErr("count unread", err)
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// UnreadChats returns the rooms holding a message newer than the user's marker.
func (s *chatService) UnreadChats(ctx context.Context, userID primitive.ObjectID) ([]models.ChatSummary, error) {
	all, err := s.ListChats(ctx, userID)
	if err != nil {
		return nil, err
	}
	unread := make([]models.ChatSummary, 0, len(all))
	for _, c := range all {
		if c.Unread {
			unread = append(unread, c)
		}
	}
	return unread, nil
}

// MarkRead moves the user's marker to the newest message in the room and
// returns the stored marker. The marker never moves backwards.
func (s *chatService) MarkRead(ctx context.Context, roomID, userID primitive.ObjectID) (int64, error) {
	if _, err := s.stores.Rooms.FindByID(ctx, roomID); err != nil {
		return 0, storeErr("room "+roomID.Hex(), err)
	}
	latest, err := s.stores.Messages.LatestID(ctx, roomID)
	if err != nil {
		return 0, storeErr("latest message", err)
	}
	if latest == 0 {
		marker, err := s.stores.Reads.Get(ctx, roomID, userID)
		if err != nil {
			return 0, storeErr("read marker", err)
		}
		return marker, nil
	}
	marker, err := s.stores.Reads.Advance(ctx, roomID, userID, latest, time.Now().UTC())
	if err != nil {
		return 0, storeErr("advance read marker", err)
	}
	if err := s.stores.Messages.MarkReadUpTo(ctx, roomID, userID, marker); err != nil {
		return 0, storeErr("mark messages read", err)
	}
	return marker, nil
}

// authorizeSender allows administrators, the inquiry's employee and anyone
// already taking part in the room.
func authorizeSender(actor models.Actor, inquiry *models.Inquiry, room *models.ChatRoom) error {
	if actor.IsAdmin || inquiry.Employee == actor.UserID {
		return nil
	}
	if room != nil && room.HasParticipant(actor.UserID) {
		return nil
	}
	return fmt.Errorf("user %s may not post on inquiry %s: %w", actor.UserID.Hex(), inquiry.ID.Hex(), ErrForbidden)
}

func cleanText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", fmt.Errorf("message text is empty: %w", ErrValidation)
	}
	if utf8.RuneCountInString(trimmed) > maxMessageLength {
		return "", fmt.Errorf("message text exceeds %d characters: %w", maxMessageLength, ErrValidation)
	}
	return trimmed, nil
}
