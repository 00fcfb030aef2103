package handlers_test

import (
	"context"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"fieldops/inquiry/internal/models"
	"fieldops/inquiry/internal/services"
)

// --- Mocks ---

// MockInquiryService implements services.IInquiryService
type MockInquiryService struct {
	mock.Mock
}

func (m *MockInquiryService) inquiryResult(args mock.Arguments) (*models.Inquiry, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Inquiry), args.Error(1)
}

func (m *MockInquiryService) inquiriesResult(args mock.Arguments) ([]models.Inquiry, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Inquiry), args.Error(1)
}

func (m *MockInquiryService) Submit(ctx context.Context, employeeID primitive.ObjectID, payload services.InquiryPayload) (*models.Inquiry, error) {
	return m.inquiryResult(m.Called(ctx, employeeID, payload))
}
func (m *MockInquiryService) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Inquiry, error) {
	return m.inquiryResult(m.Called(ctx, id))
}
func (m *MockInquiryService) List(ctx context.Context) ([]models.Inquiry, error) {
	return m.inquiriesResult(m.Called(ctx))
}
func (m *MockInquiryService) ListAlerts(ctx context.Context, now time.Time) ([]models.Inquiry, error) {
	return m.inquiriesResult(m.Called(ctx, now))
}
func (m *MockInquiryService) Resolve(ctx context.Context, id primitive.ObjectID, patch services.ResolvePatch) (*models.Inquiry, error) {
	return m.inquiryResult(m.Called(ctx, id, patch))
}
func (m *MockInquiryService) Edit(ctx context.Context, id primitive.ObjectID, patch services.EditPatch) (*models.Inquiry, error) {
	return m.inquiryResult(m.Called(ctx, id, patch))
}
func (m *MockInquiryService) Update(ctx context.Context, id primitive.ObjectID, patch services.UpdatePatch) (*models.Inquiry, error) {
	return m.inquiryResult(m.Called(ctx, id, patch))
}

// MockChatService implements services.IChatService
type MockChatService struct {
	mock.Mock
}

func messagesResult(args mock.Arguments) ([]models.Message, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func messageResult(args mock.Arguments) (*models.Message, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func summariesResult(args mock.Arguments) ([]models.ChatSummary, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatSummary), args.Error(1)
}

func (m *MockChatService) EnsureRoom(ctx context.Context, inquiryID, userID primitive.ObjectID) (*models.ChatRoom, services.RoomOutcome, error) {
	args := m.Called(ctx, inquiryID, userID)
	if args.Get(0) == nil {
		return nil, args.Get(1).(services.RoomOutcome), args.Error(2)
	}
	return args.Get(0).(*models.ChatRoom), args.Get(1).(services.RoomOutcome), args.Error(2)
}
func (m *MockChatService) FindRoom(ctx context.Context, roomID primitive.ObjectID) (*models.ChatRoom, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatRoom), args.Error(1)
}
func (m *MockChatService) Append(ctx context.Context, roomID, senderID primitive.ObjectID, senderName, text string) (*models.Message, error) {
	return messageResult(m.Called(ctx, roomID, senderID, senderName, text))
}
func (m *MockChatService) Page(ctx context.Context, roomID primitive.ObjectID, limit int, before *int64) ([]models.Message, error) {
	return messagesResult(m.Called(ctx, roomID, limit, before))
}
func (m *MockChatService) PageByInquiry(ctx context.Context, inquiryID primitive.ObjectID, limit int, before *int64) ([]models.Message, error) {
	return messagesResult(m.Called(ctx, inquiryID, limit, before))
}
func (m *MockChatService) SendMessage(ctx context.Context, actor models.Actor, inquiryID primitive.ObjectID, text string) (*models.Message, error) {
	return messageResult(m.Called(ctx, actor, inquiryID, text))
}
func (m *MockChatService) SendToRoom(ctx context.Context, actor models.Actor, roomID primitive.ObjectID, text string) (*models.Message, error) {
	return messageResult(m.Called(ctx, actor, roomID, text))
}
func (m *MockChatService) ListChats(ctx context.Context, userID primitive.ObjectID) ([]models.ChatSummary, error) {
	return summariesResult(m.Called(ctx, userID))
}
func (m *MockChatService) UnreadChats(ctx context.Context, userID primitive.ObjectID) ([]models.ChatSummary, error) {
	return summariesResult(m.Called(ctx, userID))
}
func (m *MockChatService) MarkRead(ctx context.Context, roomID, userID primitive.ObjectID) (int64, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Get(0).(int64), args.Error(1)
}

// MockS3Storage implements storage.IS3Storage
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) GeneratePresignedPutURL(ctx context.Context, userID, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, userID, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}
func (m *MockS3Storage) GetObject(ctx context.Context, key string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}
func (m *MockS3Storage) PutObject(ctx context.Context, key string, body io.Reader, contentType string) error {
	args := m.Called(ctx, key, body, contentType)
	return args.Error(0)
}
func (m *MockS3Storage) PublicURL(key string) string {
	return m.Called(key).String(0)
}

// MockAsynqClient implements handlers.IAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	mockArgs := []interface{}{ctx, task}
	for _, opt := range opts {
		mockArgs = append(mockArgs, opt)
	}
	args := m.Called(mockArgs...)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}
