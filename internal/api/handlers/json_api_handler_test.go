package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"fieldops/inquiry/internal/api/handlers"
	"fieldops/inquiry/internal/auth"
	"fieldops/inquiry/internal/config"
	"fieldops/inquiry/internal/models"
	"fieldops/inquiry/internal/services"
	"fieldops/inquiry/internal/tasks"
)

// --- Test Setup ---

type apiFixture struct {
	router   *gin.Engine
	cfg      *config.Config
	inquiry  *MockInquiryService
	chat     *MockChatService
	storage  *MockS3Storage
	taskQ    *MockAsynqClient
	employee primitive.ObjectID
	admin    primitive.ObjectID
}

func setupTestRouter() *apiFixture {
	gin.SetMode(gin.TestMode)
	f := &apiFixture{
		cfg: &config.Config{
			JwtSecret:        "testsecret",
			JwtTTL:           time.Hour,
			ChatHistoryLimit: 50,
			AppName:          "TestApp",
		},
		inquiry:  new(MockInquiryService),
		chat:     new(MockChatService),
		storage:  new(MockS3Storage),
		taskQ:    new(MockAsynqClient),
		employee: primitive.NewObjectID(),
		admin:    primitive.NewObjectID(),
	}
	handler := handlers.NewJsonApiHandler(f.cfg, f.taskQ, f.inquiry, f.chat, f.storage)
	f.router = gin.New()
	f.router.POST("/v1/api", handler.HandleRequest)
	return f
}

func (f *apiFixture) token(t *testing.T, userID primitive.ObjectID, username string, isAdmin bool) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID.Hex(), username, isAdmin, f.cfg.JwtSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) employeeToken(t *testing.T) string {
	return f.token(t, f.employee, "tama", false)
}

func (f *apiFixture) adminToken(t *testing.T) string {
	return f.token(t, f.admin, "office", true)
}

// call posts a JSON API request with a single argument (or none when arg is nil).
func (f *apiFixture) call(t *testing.T, token, method string, arg interface{}) handlers.JsonApiResponse {
	t.Helper()
	reqBody := handlers.JsonApiRequest{Method: method}
	if arg != nil {
		raw, err := json.Marshal([]interface{}{arg})
		require.NoError(t, err)
		reqBody.Arguments = raw
	}
	jsonBody, _ := json.Marshal(reqBody)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/api", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.JsonApiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// --- Tests ---

func TestJsonApiHandler_Ping(t *testing.T) {
	f := setupTestRouter()
	resp := f.call(t, "", "ping", nil)
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Data)
	assert.Empty(t, resp.Error)
}

func TestJsonApiHandler_UnknownMethod(t *testing.T) {
	f := setupTestRouter()
	resp := f.call(t, "", "dropDatabase", nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "Unknown method: dropDatabase", resp.Error)
}

func TestJsonApiHandler_AuthRequired(t *testing.T) {
	f := setupTestRouter()
	for _, method := range []string{"submitInquiry", "listChats", "sendMessage", "markRead", "getUploadURL"} {
		resp := f.call(t, "", method, nil)
		assert.False(t, resp.Success, method)
		assert.Contains(t, resp.Error, "uthorization", method)
	}
}

func TestJsonApiHandler_InvalidToken(t *testing.T) {
	f := setupTestRouter()
	resp := f.call(t, "not-a-jwt", "listChats", nil)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Invalid or expired token")
}

func TestJsonApiHandler_AdminRequired(t *testing.T) {
	f := setupTestRouter()
	for _, method := range []string{"listInquiries", "listAlerts", "updateInquiry", "resolveInquiry", "editInquiry"} {
		resp := f.call(t, f.employeeToken(t), method, nil)
		assert.False(t, resp.Success, method)
		assert.Equal(t, "Administrator privileges required", resp.Error, method)
	}
	f.inquiry.AssertNotCalled(t, "List", mock.Anything)
}

func TestJsonApiHandler_SubmitInquiry(t *testing.T) {
	f := setupTestRouter()
	photoKey := fmt.Sprintf("inquiries/%s/abc_site.jpg", f.employee.Hex())
	created := &models.Inquiry{
		ID:            primitive.NewObjectID(),
		InquiryNumber: 7,
		Employee:      f.employee,
		Status:        models.StatusPending,
		PhotoURLs:     []string{"https://img.example.com/" + photoKey},
	}
	f.inquiry.On("Submit", mock.Anything, f.employee, mock.MatchedBy(func(p services.InquiryPayload) bool {
		return p.Client.Name == "Acme" && len(p.PhotoURLs) == 1 && p.ReadyMix
	})).Return(created, nil)

	resp := f.call(t, f.employeeToken(t), "submitInquiry", map[string]interface{}{
		"location":   map[string]float64{"lat": -36.85, "lng": 174.76},
		"photo_urls": []string{photoKey},
		"client":     map[string]string{"name": "Acme", "phone": "021 555", "address": "1 Queen St"},
		"ready_mix":  true,
	})

	require.True(t, resp.Success, resp.Error)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(7), data["inquiry_number"])
	assert.Equal(t, "pending", data["status"])
	f.inquiry.AssertExpectations(t)
}

func TestJsonApiHandler_SubmitInquiry_ForeignPhotoKey(t *testing.T) {
	f := setupTestRouter()
	foreign := fmt.Sprintf("inquiries/%s/abc_site.jpg", primitive.NewObjectID().Hex())

	resp := f.call(t, f.employeeToken(t), "submitInquiry", map[string]interface{}{
		"photo_urls": []string{foreign},
		"client":     map[string]string{"name": "Acme", "phone": "1", "address": "x"},
	})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "does not belong")
	f.inquiry.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
}

func TestJsonApiHandler_SubmitInquiry_ValidationError(t *testing.T) {
	f := setupTestRouter()
	f.inquiry.On("Submit", mock.Anything, f.employee, mock.Anything).
		Return(nil, fmt.Errorf("photo_urls is required: %w", services.ErrValidation))

	resp := f.call(t, f.employeeToken(t), "submitInquiry", map[string]interface{}{})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "photo_urls is required")
}

func TestJsonApiHandler_ListAlerts(t *testing.T) {
	f := setupTestRouter()
	alerting := []models.Inquiry{{ID: primitive.NewObjectID(), Status: models.StatusFollowUp}}
	f.inquiry.On("ListAlerts", mock.Anything, mock.AnythingOfType("time.Time")).Return(alerting, nil)

	resp := f.call(t, f.adminToken(t), "listAlerts", nil)

	require.True(t, resp.Success, resp.Error)
	assert.Len(t, resp.Data, 1)
	f.inquiry.AssertExpectations(t)
}

func TestJsonApiHandler_ResolveInquiry(t *testing.T) {
	f := setupTestRouter()
	id := primitive.NewObjectID()
	followUp := models.StatusFollowUp
	resolved := &models.Inquiry{ID: id, Status: models.StatusFollowUp}
	f.inquiry.On("Resolve", mock.Anything, id, mock.MatchedBy(func(p services.ResolvePatch) bool {
		return p.Status != nil && *p.Status == followUp && p.Remarks != nil && *p.Remarks == "call back"
	})).Return(resolved, nil)

	resp := f.call(t, f.adminToken(t), "resolveInquiry", map[string]interface{}{
		"id":      id.Hex(),
		"status":  "followup",
		"remarks": "call back",
	})

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "followup", resp.Data.(map[string]interface{})["status"])
	f.inquiry.AssertExpectations(t)
}

func TestJsonApiHandler_ResolveInquiry_CalendarFollowUpDate(t *testing.T) {
	f := setupTestRouter()
	id := primitive.NewObjectID()
	want := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	f.inquiry.On("Resolve", mock.Anything, id, mock.MatchedBy(func(p services.ResolvePatch) bool {
		return p.FollowUpDate != nil && p.FollowUpDate.Equal(want) &&
			p.Remarks != nil && *p.Remarks == "call back Friday"
	})).Return(&models.Inquiry{ID: id, Status: models.StatusFollowUp, FollowUpDate: &want}, nil)

	resp := f.call(t, f.adminToken(t), "resolveInquiry", map[string]interface{}{
		"id":             id.Hex(),
		"status":         "followup",
		"remarks":        "call back Friday",
		"follow_up_date": "2025-01-10",
	})

	require.True(t, resp.Success, resp.Error)
	f.inquiry.AssertExpectations(t)

	resp = f.call(t, f.adminToken(t), "resolveInquiry", map[string]interface{}{
		"id":             id.Hex(),
		"follow_up_date": "next friday",
	})
	assert.False(t, resp.Success)
}

func TestJsonApiHandler_ResolveInquiry_Errors(t *testing.T) {
	f := setupTestRouter()

	resp := f.call(t, f.adminToken(t), "resolveInquiry", map[string]interface{}{"id": "nope"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid id format", resp.Error)

	missing := primitive.NewObjectID()
	f.inquiry.On("Resolve", mock.Anything, missing, mock.Anything).
		Return(nil, fmt.Errorf("resolve inquiry: %w", services.ErrNotFound))
	resp = f.call(t, f.adminToken(t), "resolveInquiry", map[string]interface{}{"id": missing.Hex(), "status": "approved"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Not found", resp.Error)

	final := primitive.NewObjectID()
	f.inquiry.On("Resolve", mock.Anything, final, mock.Anything).
		Return(nil, fmt.Errorf("resolve inquiry: status is final: %w", services.ErrValidation))
	resp = f.call(t, f.adminToken(t), "resolveInquiry", map[string]interface{}{"id": final.Hex(), "status": "pending"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "status is final")
}

func TestJsonApiHandler_EditAndUpdateInquiry(t *testing.T) {
	f := setupTestRouter()
	id := primitive.NewObjectID()
	f.inquiry.On("Edit", mock.Anything, id, mock.MatchedBy(func(p services.EditPatch) bool {
		return p.Client != nil && p.Client.Phone != nil && *p.Client.Phone == "09 123" && p.Client.Name == nil
	})).Return(&models.Inquiry{ID: id}, nil)
	f.inquiry.On("Update", mock.Anything, id, mock.MatchedBy(func(p services.UpdatePatch) bool {
		return p.Status != nil && *p.Status == models.StatusInProgress && len(p.AdminRemarks) == 1
	})).Return(&models.Inquiry{ID: id, Status: models.StatusInProgress}, nil)

	resp := f.call(t, f.adminToken(t), "editInquiry", map[string]interface{}{
		"id":     id.Hex(),
		"client": map[string]string{"phone": "09 123"},
	})
	assert.True(t, resp.Success, resp.Error)

	resp = f.call(t, f.adminToken(t), "updateInquiry", map[string]interface{}{
		"id":            id.Hex(),
		"status":        "in_progress",
		"admin_remarks": []map[string]string{{"content": "site visit booked"}},
	})
	assert.True(t, resp.Success, resp.Error)
	f.inquiry.AssertExpectations(t)
}

func TestJsonApiHandler_GetMessages(t *testing.T) {
	f := setupTestRouter()
	inquiryID := primitive.NewObjectID()
	before := int64(1800000000000000000)
	page := []models.Message{{ID: before - 1, Text: "Hello", SenderName: "tama"}}
	f.chat.On("PageByInquiry", mock.Anything, inquiryID, 20, mock.MatchedBy(func(b *int64) bool {
		return b != nil && *b == before
	})).Return(page, nil)

	resp := f.call(t, f.employeeToken(t), "getMessages", map[string]interface{}{
		"inquiry_id": inquiryID.Hex(),
		"limit":      20,
		"before":     fmt.Sprint(before),
	})

	require.True(t, resp.Success, resp.Error)
	msgs := resp.Data.([]interface{})
	require.Len(t, msgs, 1)
	assert.Equal(t, fmt.Sprint(before-1), msgs[0].(map[string]interface{})["id"])

	resp = f.call(t, f.employeeToken(t), "getMessages", map[string]interface{}{"inquiry_id": inquiryID.Hex(), "before": "abc"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid before cursor", resp.Error)

	resp = f.call(t, f.employeeToken(t), "getMessages", map[string]interface{}{})
	assert.False(t, resp.Success)
	f.chat.AssertExpectations(t)
}

func TestJsonApiHandler_SendMessage(t *testing.T) {
	f := setupTestRouter()
	inquiryID := primitive.NewObjectID()
	roomID := primitive.NewObjectID()
	sent := &models.Message{ID: 42, ChatID: roomID, SenderID: f.employee, SenderName: "tama", Text: "Hello"}
	f.chat.On("SendMessage", mock.Anything, models.Actor{UserID: f.employee, Username: "tama"}, inquiryID, "Hello").Return(sent, nil)
	f.chat.On("SendToRoom", mock.Anything, mock.Anything, roomID, "hi").
		Return(nil, fmt.Errorf("user may not post: %w", services.ErrForbidden))

	resp := f.call(t, f.employeeToken(t), "sendMessage", map[string]interface{}{"inquiry_id": inquiryID.Hex(), "text": "Hello"})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "42", resp.Data.(map[string]interface{})["id"])

	resp = f.call(t, f.employeeToken(t), "sendMessage", map[string]interface{}{"chat_id": roomID.Hex(), "text": "hi"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Not allowed to send message", resp.Error)
	f.chat.AssertExpectations(t)
}

func TestJsonApiHandler_MarkReadAndListChats(t *testing.T) {
	f := setupTestRouter()
	roomID := primitive.NewObjectID()
	f.chat.On("MarkRead", mock.Anything, roomID, f.employee).Return(int64(99), nil)
	f.chat.On("UnreadChats", mock.Anything, f.employee).Return([]models.ChatSummary{}, nil)

	resp := f.call(t, f.employeeToken(t), "markRead", roomID.Hex())
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "99", resp.Data.(map[string]interface{})["last_read_id"])

	resp = f.call(t, f.employeeToken(t), "listUnreadChats", nil)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, []interface{}{}, resp.Data)
	f.chat.AssertExpectations(t)
}

func TestJsonApiHandler_GetUploadURL(t *testing.T) {
	f := setupTestRouter()
	key := fmt.Sprintf("inquiries/%s/u_site.jpg", f.employee.Hex())
	f.storage.On("GeneratePresignedPutURL", mock.Anything, f.employee.Hex(), "site.jpg", "image/jpeg").
		Return("https://bucket.example.com/put", key, nil)

	resp := f.call(t, f.employeeToken(t), "getUploadURL", map[string]string{"filename": "site.jpg", "content_type": "image/jpeg"})
	require.True(t, resp.Success, resp.Error)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, key, data["object_key"])
	assert.Equal(t, "https://bucket.example.com/put", data["upload_url"])

	resp = f.call(t, f.employeeToken(t), "getUploadURL", map[string]string{"filename": "notes.pdf", "content_type": "application/pdf"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Only image uploads are accepted", resp.Error)
	f.storage.AssertExpectations(t)
}

func TestJsonApiHandler_ConfirmPhotoUpload(t *testing.T) {
	f := setupTestRouter()
	key := fmt.Sprintf("inquiries/%s/u_site.jpg", f.employee.Hex())
	f.taskQ.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		var payload tasks.PhotoTaskPayload
		return task.Type() == tasks.TypePhotoNormalize &&
			json.Unmarshal(task.Payload(), &payload) == nil &&
			payload.ObjectKey == key
	})).Return(&asynq.TaskInfo{ID: "task-1"}, nil)
	f.storage.On("PublicURL", key).Return("https://img.example.com/" + key)

	resp := f.call(t, f.employeeToken(t), "confirmPhotoUpload", map[string]string{"object_key": key})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "task-1", resp.Data.(map[string]interface{})["task_id"])

	foreign := fmt.Sprintf("inquiries/%s/u_site.jpg", f.admin.Hex())
	resp = f.call(t, f.employeeToken(t), "confirmPhotoUpload", map[string]string{"object_key": foreign})
	assert.False(t, resp.Success)
	assert.Equal(t, "Object key does not belong to the caller", resp.Error)
	f.taskQ.AssertNumberOfCalls(t, "EnqueueContext", 1)
}
