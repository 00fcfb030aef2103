// Package memstore provides in-memory implementations of the store interfaces.
// It honours the same uniqueness and monotonicity rules as the MongoDB stores
// and is used by service tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldops/inquiry/internal/models"
	"fieldops/inquiry/internal/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type readKey struct {
	chat primitive.ObjectID
	user primitive.ObjectID
}

// Memory holds every collection behind one mutex.
type Memory struct {
	mu        sync.Mutex
	counter   int64
	inquiries map[primitive.ObjectID]models.Inquiry
	rooms     map[primitive.ObjectID]models.ChatRoom
	messages  map[primitive.ObjectID][]models.Message
	messageID map[int64]struct{}
	reads     map[readKey]models.ReadMarker
	employees map[primitive.ObjectID]models.Employee
	users     map[primitive.ObjectID]models.User
}

// New returns an empty in-memory database.
func New() *Memory {
	return &Memory{
		inquiries: map[primitive.ObjectID]models.Inquiry{},
		rooms:     map[primitive.ObjectID]models.ChatRoom{},
		messages:  map[primitive.ObjectID][]models.Message{},
		messageID: map[int64]struct{}{},
		reads:     map[readKey]models.ReadMarker{},
		employees: map[primitive.ObjectID]models.Employee{},
		users:     map[primitive.ObjectID]models.User{},
	}
}

// Stores exposes the memory as the service-facing store bundle.
func (m *Memory) Stores() *store.Stores {
	return &store.Stores{
		Inquiries: inquiryStore{m},
		Rooms:     roomStore{m},
		Messages:  messageStore{m},
		Reads:     readStore{m},
		Directory: directoryStore{m},
	}
}

// PutUser seeds the user directory.
func (m *Memory) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutEmployee seeds the employee directory.
func (m *Memory) PutEmployee(e models.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
}

// RoomCount returns the number of stored rooms.
func (m *Memory) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Messages returns a copy of a room's messages in insertion order.
func (m *Memory) Messages(chatID primitive.ObjectID) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages[chatID]...)
}

func copyInquiry(in models.Inquiry) *models.Inquiry {
	in.PhotoURLs = append([]string(nil), in.PhotoURLs...)
	in.AdminRemarks = append([]models.AdminRemark{}, in.AdminRemarks...)
	return &in
}

func copyRoom(r models.ChatRoom) *models.ChatRoom {
	r.Participants = append([]primitive.ObjectID(nil), r.Participants...)
	return &r
}

type inquiryStore struct{ m *Memory }

func (s inquiryStore) NextInquiryNumber(ctx context.Context) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.counter++
	return s.m.counter, nil
}

func (s inquiryStore) Insert(ctx context.Context, inquiry *models.Inquiry) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if inquiry.ID.IsZero() {
		inquiry.ID = primitive.NewObjectID()
	}
	if _, ok := s.m.inquiries[inquiry.ID]; ok {
		return fmt.Errorf("inquiry %s: %w", inquiry.ID.Hex(), store.ErrDuplicate)
	}
	s.m.inquiries[inquiry.ID] = *copyInquiry(*inquiry)
	return nil
}

func (s inquiryStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Inquiry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	inq, ok := s.m.inquiries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyInquiry(inq), nil
}

func (s inquiryStore) FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Inquiry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []models.Inquiry{}
	for _, id := range ids {
		if inq, ok := s.m.inquiries[id]; ok {
			out = append(out, *copyInquiry(inq))
		}
	}
	return out, nil
}

func (s inquiryStore) FindAll(ctx context.Context) ([]models.Inquiry, error) {
	return s.filter(func(*models.Inquiry) bool { return true }), nil
}

func (s inquiryStore) FindAlerting(ctx context.Context, now time.Time) ([]models.Inquiry, error) {
	return s.filter(func(inq *models.Inquiry) bool { return inq.IsAlerting(now) }), nil
}

func (s inquiryStore) filter(keep func(*models.Inquiry) bool) []models.Inquiry {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []models.Inquiry{}
	for _, inq := range s.m.inquiries {
		if keep(&inq) {
			out = append(out, *copyInquiry(inq))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s inquiryStore) Apply(ctx context.Context, id primitive.ObjectID, mut store.InquiryMutation) (*models.Inquiry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	inq, ok := s.m.inquiries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if mut.Status != nil && inq.Status.Terminal() && inq.Status != *mut.Status {
		return nil, store.ErrTransitionRejected
	}
	if mut.Status != nil {
		inq.Status = *mut.Status
	}
	if mut.FollowUpDate != nil {
		d := *mut.FollowUpDate
		inq.FollowUpDate = &d
	}
	if mut.ReadyMix != nil {
		inq.ReadyMix = *mut.ReadyMix
	}
	if mut.Blocks != nil {
		inq.Blocks = *mut.Blocks
	}
	if mut.BuildingMaterial != nil {
		inq.BuildingMaterial = *mut.BuildingMaterial
	}
	if mut.Remarks != nil {
		inq.Remarks = *mut.Remarks
	}
	if mut.ClientName != nil {
		inq.Client.Name = *mut.ClientName
	}
	if mut.ClientPhone != nil {
		inq.Client.Phone = *mut.ClientPhone
	}
	if mut.ClientAddress != nil {
		inq.Client.Address = *mut.ClientAddress
	}
	inq.AdminRemarks = append(append([]models.AdminRemark{}, inq.AdminRemarks...), mut.PushRemarks...)
	inq.UpdatedAt = mut.UpdatedAt
	s.m.inquiries[id] = inq
	return copyInquiry(inq), nil
}

type roomStore struct{ m *Memory }

func (s roomStore) FindByInquiry(ctx context.Context, inquiryID primitive.ObjectID) (*models.ChatRoom, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, r := range s.m.rooms {
		if r.InquiryID == inquiryID {
			return copyRoom(r), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s roomStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.ChatRoom, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyRoom(r), nil
}

func (s roomStore) Insert(ctx context.Context, room *models.ChatRoom) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, r := range s.m.rooms {
		if r.InquiryID == room.InquiryID {
			return fmt.Errorf("chat room for inquiry %s: %w", room.InquiryID.Hex(), store.ErrDuplicate)
		}
	}
	if room.ID.IsZero() {
		room.ID = primitive.NewObjectID()
	}
	s.m.rooms[room.ID] = *copyRoom(*room)
	return nil
}

func (s roomStore) ReserveMessageID(ctx context.Context, roomID, senderID primitive.ObjectID, candidate int64) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.rooms[roomID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if !r.HasParticipant(senderID) {
		r.Participants = append(append([]primitive.ObjectID(nil), r.Participants...), senderID)
	}
	r.MessageSeq = max(candidate, r.MessageSeq+1)
	s.m.rooms[roomID] = r
	return r.MessageSeq, nil
}

func (s roomStore) RecordMessage(ctx context.Context, roomID primitive.ObjectID, msg *models.Message) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	if msg.ID >= r.LastMessageID {
		r.LastMessageID = msg.ID
		r.LastMessage = msg.Text
		r.LastMessageAt = msg.CreatedAt
	}
	s.m.rooms[roomID] = r
	return nil
}

func (s roomStore) FindByParticipant(ctx context.Context, userID primitive.ObjectID) ([]models.ChatRoom, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []models.ChatRoom{}
	for _, r := range s.m.rooms {
		if r.HasParticipant(userID) {
			out = append(out, *copyRoom(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

type messageStore struct{ m *Memory }

func (s messageStore) Insert(ctx context.Context, msg *models.Message) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, taken := s.m.messageID[msg.ID]; taken {
		return fmt.Errorf("message %d: %w", msg.ID, store.ErrDuplicate)
	}
	s.m.messageID[msg.ID] = struct{}{}
	if msg.ReadBy == nil {
		msg.ReadBy = []primitive.ObjectID{}
	}
	cp := *msg
	cp.ReadBy = append([]primitive.ObjectID{}, msg.ReadBy...)
	s.m.messages[msg.ChatID] = append(s.m.messages[msg.ChatID], cp)
	return nil
}

// sorted returns the room's messages newest first. Caller holds the lock.
func (s messageStore) sorted(chatID primitive.ObjectID) []models.Message {
	msgs := append([]models.Message(nil), s.m.messages[chatID]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID > msgs[j].ID })
	return msgs
}

func (s messageStore) Page(ctx context.Context, chatID primitive.ObjectID, limit int, before *int64) ([]models.Message, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []models.Message{}
	for _, msg := range s.sorted(chatID) {
		if before != nil && msg.ID >= *before {
			continue
		}
		if len(out) == limit {
			break
		}
		msg.ReadBy = append([]primitive.ObjectID{}, msg.ReadBy...)
		out = append(out, msg)
	}
	return out, nil
}

func (s messageStore) LatestID(ctx context.Context, chatID primitive.ObjectID) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var latest int64
	for _, msg := range s.m.messages[chatID] {
		if msg.ID > latest {
			latest = msg.ID
		}
	}
	return latest, nil
}

func (s messageStore) MarkReadUpTo(ctx context.Context, chatID, userID primitive.ObjectID, upTo int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	msgs := s.m.messages[chatID]
	for i := range msgs {
		if msgs[i].ID > upTo {
			continue
		}
		seen := false
		for _, r := range msgs[i].ReadBy {
			if r == userID {
				seen = true
				break
			}
		}
		if !seen {
			msgs[i].ReadBy = append(msgs[i].ReadBy, userID)
		}
	}
	return nil
}

func (s messageStore) CountUnread(ctx context.Context, chatID, userID primitive.ObjectID, after int64) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, msg := range s.m.messages[chatID] {
		if msg.ID > after && msg.SenderID != userID {
			n++
		}
	}
	return n, nil
}

type readStore struct{ m *Memory }

func (s readStore) Advance(ctx context.Context, chatID, userID primitive.ObjectID, lastReadID int64, at time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	key := readKey{chatID, userID}
	marker, ok := s.m.reads[key]
	if !ok {
		marker = models.ReadMarker{ChatID: chatID, UserID: userID}
	}
	if lastReadID > marker.LastReadID {
		marker.LastReadID = lastReadID
	}
	marker.UpdatedAt = at
	s.m.reads[key] = marker
	return marker.LastReadID, nil
}

func (s readStore) Get(ctx context.Context, chatID, userID primitive.ObjectID) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.reads[readKey{chatID, userID}].LastReadID, nil
}

func (s readStore) ForUser(ctx context.Context, userID primitive.ObjectID) (map[primitive.ObjectID]int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := map[primitive.ObjectID]int64{}
	for k, v := range s.m.reads {
		if k.user == userID {
			out[k.chat] = v.LastReadID
		}
	}
	return out, nil
}

type directoryStore struct{ m *Memory }

func (s directoryStore) FindEmployeeByUser(ctx context.Context, userID primitive.ObjectID) (*models.Employee, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, e := range s.m.employees {
		if e.User == userID {
			cp := e
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s directoryStore) FindUsers(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []models.User{}
	for _, id := range ids {
		if u, ok := s.m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
