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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"fieldops/inquiry/internal/api/handlers"
	"fieldops/inquiry/internal/api/middleware"
	"fieldops/inquiry/internal/auth"
	"fieldops/inquiry/internal/models"
	"fieldops/inquiry/internal/services"
)

const restSecret = "rest-secret"

func setupChatRouter(chatSvc services.IChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := handlers.NewRestChatHandler(chatSvc)
	r := gin.New()
	r.Use(middleware.OptionalAuthMiddleware(restSecret))
	chats := r.Group("/v1/chats")
	chats.GET("/inquiry/:inquiry_id/messages", handler.GetInquiryMessages)
	chats.GET("/:chat_id/messages", handler.GetChatMessages)
	authed := chats.Group("", middleware.AuthMiddleware(restSecret))
	authed.GET("", handler.ListChats)
	authed.GET("/unread", handler.ListUnreadChats)
	authed.POST("/inquiry/:inquiry_id/messages", handler.SendInquiryMessage)
	authed.POST("/:chat_id/read", handler.MarkRead)
	return r
}

func restRequest(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func restToken(t *testing.T, userID primitive.ObjectID, username string) string {
	token, err := auth.GenerateJWT(userID.Hex(), username, false, restSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func TestRestChatHandler_GetInquiryMessages_NoRoomYieldsEmptyArray(t *testing.T) {
	mockChat := new(MockChatService)
	r := setupChatRouter(mockChat)
	inquiryID := primitive.NewObjectID()
	mockChat.On("PageByInquiry", mock.Anything, inquiryID, 0, (*int64)(nil)).Return([]models.Message{}, nil)

	w := restRequest(t, r, "GET", "/v1/chats/inquiry/"+inquiryID.Hex()+"/messages", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	mockChat.AssertExpectations(t)
}

func TestRestChatHandler_GetChatMessages(t *testing.T) {
	mockChat := new(MockChatService)
	r := setupChatRouter(mockChat)
	roomID := primitive.NewObjectID()
	before := int64(1800000000000000000)
	mockChat.On("Page", mock.Anything, roomID, 10, mock.MatchedBy(func(b *int64) bool { return b != nil && *b == before })).
		Return([]models.Message{{ID: before - 5, ChatID: roomID, Text: "older"}}, nil)

	w := restRequest(t, r, "GET", fmt.Sprintf("/v1/chats/%s/messages?limit=10&before=%d", roomID.Hex(), before), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, fmt.Sprint(before-5), got[0]["id"])

	missing := primitive.NewObjectID()
	mockChat.On("Page", mock.Anything, missing, 0, (*int64)(nil)).Return(nil, fmt.Errorf("room: %w", services.ErrNotFound))
	w = restRequest(t, r, "GET", "/v1/chats/"+missing.Hex()+"/messages", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = restRequest(t, r, "GET", "/v1/chats/"+roomID.Hex()+"/messages?limit=ten", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = restRequest(t, r, "GET", "/v1/chats/zzz/messages", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestChatHandler_SendInquiryMessage(t *testing.T) {
	mockChat := new(MockChatService)
	r := setupChatRouter(mockChat)
	userID := primitive.NewObjectID()
	inquiryID := primitive.NewObjectID()
	actor := models.Actor{UserID: userID, Username: "tama"}
	mockChat.On("SendMessage", mock.Anything, actor, inquiryID, "Hello").
		Return(&models.Message{ID: 1, SenderID: userID, SenderName: "tama", Text: "Hello"}, nil)
	mockChat.On("SendMessage", mock.Anything, actor, inquiryID, "   ").
		Return(nil, fmt.Errorf("message text is empty: %w", services.ErrValidation))

	path := "/v1/chats/inquiry/" + inquiryID.Hex() + "/messages"

	w := restRequest(t, r, "POST", path, "", map[string]string{"text": "Hello"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = restRequest(t, r, "POST", path, restToken(t, userID, "tama"), map[string]string{"text": "Hello"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"text":"Hello"`)

	w = restRequest(t, r, "POST", path, restToken(t, userID, "tama"), map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockChat.AssertExpectations(t)
}

func TestRestChatHandler_SendInquiryMessage_Forbidden(t *testing.T) {
	mockChat := new(MockChatService)
	r := setupChatRouter(mockChat)
	userID := primitive.NewObjectID()
	inquiryID := primitive.NewObjectID()
	mockChat.On("SendMessage", mock.Anything, mock.Anything, inquiryID, "hi").
		Return(nil, fmt.Errorf("user may not post: %w", services.ErrForbidden))

	w := restRequest(t, r, "POST", "/v1/chats/inquiry/"+inquiryID.Hex()+"/messages", restToken(t, userID, "stranger"), map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRestChatHandler_ListAndMarkRead(t *testing.T) {
	mockChat := new(MockChatService)
	r := setupChatRouter(mockChat)
	userID := primitive.NewObjectID()
	roomID := primitive.NewObjectID()
	token := restToken(t, userID, "tama")
	summaries := []models.ChatSummary{{ChatRoom: models.ChatRoom{ID: roomID}, Unread: true, UnreadCount: 2}}
	mockChat.On("ListChats", mock.Anything, userID).Return(summaries, nil)
	mockChat.On("UnreadChats", mock.Anything, userID).Return(summaries, nil)
	mockChat.On("MarkRead", mock.Anything, roomID, userID).Return(int64(1234), nil)

	w := restRequest(t, r, "GET", "/v1/chats", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = restRequest(t, r, "GET", "/v1/chats/unread", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), roomID.Hex())

	w = restRequest(t, r, "POST", "/v1/chats/"+roomID.Hex()+"/read", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"chat_id":%q,"last_read_id":"1234"}`, roomID.Hex()), w.Body.String())

	w = restRequest(t, r, "GET", "/v1/chats/unread", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	mockChat.AssertExpectations(t)
}
