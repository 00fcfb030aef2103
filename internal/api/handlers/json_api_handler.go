package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"fieldops/inquiry/internal/api/middleware"
	"fieldops/inquiry/internal/config"
	"fieldops/inquiry/internal/models"
	"fieldops/inquiry/internal/services"
	"fieldops/inquiry/internal/storage"
	"fieldops/inquiry/internal/tasks"
	"fieldops/inquiry/internal/utils"
)

// Context key type for AuthResult
type authContextKey string

const authResultKey authContextKey = "authResult"

// Helper to get AuthResult from context
func getAuthFromContext(ctx context.Context) (*AuthResult, bool) {
	val, ok := ctx.Value(authResultKey).(*AuthResult)
	return val, ok
}

// IAsynqClient defines the interface for the Asynq client methods used by the handler.
// This allows easier mocking than using the concrete asynq.Client.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// JsonApiHandler holds dependencies for handling JSON API requests.
type JsonApiHandler struct {
	cfg            *config.Config
	inquiryService services.IInquiryService
	chatService    services.IChatService
	storageService storage.IS3Storage
	taskClient     IAsynqClient
	methods        map[string]apiMethodFunc
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
func NewJsonApiHandler(
	cfg *config.Config,
	taskClient IAsynqClient,
	inquiryService services.IInquiryService,
	chatService services.IChatService,
	storageService storage.IS3Storage,
) *JsonApiHandler {
	h := &JsonApiHandler{
		cfg:            cfg,
		taskClient:     taskClient,
		inquiryService: inquiryService,
		chatService:    chatService,
		storageService: storageService,
	}
	h.methods = map[string]apiMethodFunc{
		"ping":               h.ping,
		"submitInquiry":      h.submitInquiry,
		"listInquiries":      h.listInquiries,
		"listAlerts":         h.listAlerts,
		"updateInquiry":      h.updateInquiry,
		"resolveInquiry":     h.resolveInquiry,
		"editInquiry":        h.editInquiry,
		"listChats":          h.listChats,
		"listUnreadChats":    h.listUnreadChats,
		"getMessages":        h.getMessages,
		"sendMessage":        h.sendMessage,
		"markRead":           h.markRead,
		"getUploadURL":       h.getUploadURL,
		"confirmPhotoUpload": h.confirmPhotoUpload,
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, "Failed to read request body")
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, "Invalid JSON request format")
		return
	}

	handlerFunc, ok := h.methods[req.Method]
	if !ok {
		h.sendErrorResponse(c, fmt.Sprintf("Unknown method: %s", req.Method))
		return
	}

	if authErr := h.checkAuthForMethod(c, req.Method); authErr != nil {
		h.sendErrorResponse(c, authErr.Message)
		return
	}

	result, apiErr := handlerFunc(c, req.Arguments)
	if apiErr != nil {
		h.sendErrorResponse(c, apiErr.Message)
		return
	}

	h.sendSuccessResponse(c, result)
}

// AuthResult holds optional authentication details
type AuthResult struct {
	UserID   primitive.ObjectID // NilObjectID for guests
	Username string
	IsAdmin  bool
}

// Guest reports whether the request carried no valid token.
func (a *AuthResult) Guest() bool {
	return a == nil || a.UserID.IsZero()
}

func (a *AuthResult) actor() models.Actor {
	return models.Actor{UserID: a.UserID, Username: a.Username, IsAdmin: a.IsAdmin}
}

// checkAuthForMethod checks if auth is needed and validates/extracts details if so.
// It stores the AuthResult in c.Request.Context().
func (h *JsonApiHandler) checkAuthForMethod(c *gin.Context, method string) *ApiError {
	needsAuth := h.methodRequiresAuth(method)
	needsAdmin := h.methodRequiresAdmin(method)
	authRes := &AuthResult{}

	tokenString, tokenErr := middleware.BearerToken(c)
	if tokenErr == nil {
		actor, err := middleware.Authenticate(tokenString, h.cfg.JwtSecret)
		switch {
		case err == nil:
			authRes = &AuthResult{UserID: actor.UserID, Username: actor.Username, IsAdmin: actor.IsAdmin}
		case needsAuth || needsAdmin:
			log.Printf("DEBUG: Token validation failed for method %s: %v", method, err)
			return NewApiError(fmt.Sprintf("Invalid or expired token: %v", err))
		default:
			// Invalid optional token? Log it but proceed as guest
			log.Printf("DEBUG: Invalid optional auth token provided for method %s: %v", method, err)
		}
	} else if needsAuth || needsAdmin {
		return NewApiError(tokenErr.Error())
	}

	if needsAdmin && !authRes.IsAdmin {
		log.Printf("DEBUG: Admin privileges required but not present for method %s", method)
		return NewApiError("Administrator privileges required")
	}

	ctx := context.WithValue(c.Request.Context(), authResultKey, authRes)
	c.Request = c.Request.WithContext(ctx)
	return nil
}

// methodRequiresAuth checks if a given API method requires authentication.
func (h *JsonApiHandler) methodRequiresAuth(method string) bool {
	switch method {
	case "submitInquiry",
		"listInquiries",
		"listAlerts",
		"updateInquiry",
		"resolveInquiry",
		"editInquiry",
		"listChats",
		"listUnreadChats",
		"getMessages",
		"sendMessage",
		"markRead",
		"getUploadURL",
		"confirmPhotoUpload":
		return true

	case "ping":
		return false

	default:
		log.Printf("Warning: methodRequiresAuth check for unlisted method '%s', defaulting to true", method)
		return true
	}
}

// methodRequiresAdmin checks if a given API method requires admin privileges.
func (h *JsonApiHandler) methodRequiresAdmin(method string) bool {
	switch method {
	case "listInquiries",
		"listAlerts",
		"updateInquiry",
		"resolveInquiry",
		"editInquiry":
		return true
	default:
		return false
	}
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	resp := JsonApiResponse{Success: true, Data: data}
	c.JSON(http.StatusOK, resp)
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, message string) {
	resp := JsonApiResponse{Success: false, Error: message}
	c.JSON(http.StatusOK, resp)
}

func (h *JsonApiHandler) requireUser(c *gin.Context) (*AuthResult, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.Guest() {
		return nil, NewApiError("Authentication required")
	}
	return authInfo, nil
}

type ApiError struct {
	Message string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message}
}

// apiErrorFromService maps service sentinels to client-facing messages.
// Internal details are logged, never returned.
func apiErrorFromService(action string, err error) *ApiError {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return NewApiError("Not found")
	case errors.Is(err, services.ErrValidation):
		return NewApiError(err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		return NewApiError("Authentication required")
	case errors.Is(err, services.ErrForbidden):
		return NewApiError("Not allowed to " + action)
	default:
		log.Printf("ERROR: failed to %s: %v", action, err)
		return NewApiError("Failed to " + action)
	}
}

func parseIDArg(raw, field string) (primitive.ObjectID, *ApiError) {
	if raw == "" {
		return primitive.NilObjectID, NewApiError(fmt.Sprintf("Missing required argument (%s)", field))
	}
	id, err := utils.ParseObjectID(raw)
	if err != nil {
		return primitive.NilObjectID, NewApiError(fmt.Sprintf("Invalid %s format", field))
	}
	return id, nil
}

// --- API Method Implementations ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args // Explicitly ignore unused args
	return "pong", nil
}

// --- Inquiries ---

func (h *JsonApiHandler) submitInquiry(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := h.requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var payload services.InquiryPayload
	if apiErr := h.parseRequiredSingleArgFromArray(args, &payload); apiErr != nil {
		return nil, apiErr
	}

	for _, key := range payload.PhotoURLs {
		if strings.HasPrefix(key, storage.PhotoPrefix) && !storage.OwnsPhotoKey(authInfo.UserID.Hex(), key) {
			return nil, NewApiError("Photo reference does not belong to the caller: " + key)
		}
	}

	inquiry, err := h.inquiryService.Submit(c.Request.Context(), authInfo.UserID, payload)
	if err != nil {
		return nil, apiErrorFromService("submit inquiry", err)
	}
	log.Printf("Inquiry %d submitted by %s", inquiry.InquiryNumber, authInfo.UserID.Hex())
	return inquiry, nil
}

func (h *JsonApiHandler) listInquiries(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	inquiries, err := h.inquiryService.List(c.Request.Context())
	if err != nil {
		return nil, apiErrorFromService("list inquiries", err)
	}
	return inquiries, nil
}

func (h *JsonApiHandler) listAlerts(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	inquiries, err := h.inquiryService.ListAlerts(c.Request.Context(), time.Now())
	if err != nil {
		return nil, apiErrorFromService("list alerts", err)
	}
	return inquiries, nil
}

type UpdateInquiryArgs struct {
	ID string `json:"id"`
	services.UpdatePatch
}

func (h *JsonApiHandler) updateInquiry(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs UpdateInquiryArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	id, apiErr := parseIDArg(reqArgs.ID, "id")
	if apiErr != nil {
		return nil, apiErr
	}
	inquiry, err := h.inquiryService.Update(c.Request.Context(), id, reqArgs.UpdatePatch)
	if err != nil {
		return nil, apiErrorFromService("update inquiry", err)
	}
	return inquiry, nil
}

type ResolveInquiryArgs struct {
	ID string `json:"id"`
	services.ResolvePatch
}

func (h *JsonApiHandler) resolveInquiry(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ResolveInquiryArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	id, apiErr := parseIDArg(reqArgs.ID, "id")
	if apiErr != nil {
		return nil, apiErr
	}
	inquiry, err := h.inquiryService.Resolve(c.Request.Context(), id, reqArgs.ResolvePatch)
	if err != nil {
		return nil, apiErrorFromService("resolve inquiry", err)
	}
	return inquiry, nil
}

type EditInquiryArgs struct {
	ID string `json:"id"`
	services.EditPatch
}

func (h *JsonApiHandler) editInquiry(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs EditInquiryArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	id, apiErr := parseIDArg(reqArgs.ID, "id")
	if apiErr != nil {
		return nil, apiErr
	}
	inquiry, err := h.inquiryService.Edit(c.Request.Context(), id, reqArgs.EditPatch)
	if err != nil {
		return nil, apiErrorFromService("edit inquiry", err)
	}
	return inquiry, nil
}

// --- Chat ---

func (h *JsonApiHandler) listChats(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	authInfo, apiErr := h.requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	chats, err := h.chatService.ListChats(c.Request.Context(), authInfo.UserID)
	if err != nil {
		return nil, apiErrorFromService("list chats", err)
	}
	return chats, nil
}

func (h *JsonApiHandler) listUnreadChats(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	authInfo, apiErr := h.requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	chats, err := h.chatService.UnreadChats(c.Request.Context(), authInfo.UserID)
	if err != nil {
		return nil, apiErrorFromService("list unread chats", err)
	}
	return chats, nil
}

// GetMessagesArgs selects a room either directly or through its inquiry.
type GetMessagesArgs struct {
	ChatID    string `json:"chat_id"`
	InquiryID string `json:"inquiry_id"`
	Limit     int    `json:"limit"`
	Before    string `json:"before"`
}

func (h *JsonApiHandler) getMessages(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs GetMessagesArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	before, err := utils.ParseCursor(reqArgs.Before)
	if err != nil {
		return nil, NewApiError("Invalid before cursor")
	}

	ctx := c.Request.Context()
	var messages []models.Message
	switch {
	case reqArgs.ChatID != "":
		roomID, apiErr := parseIDArg(reqArgs.ChatID, "chat_id")
		if apiErr != nil {
			return nil, apiErr
		}
		messages, err = h.chatService.Page(ctx, roomID, reqArgs.Limit, before)
	case reqArgs.InquiryID != "":
		inquiryID, apiErr := parseIDArg(reqArgs.InquiryID, "inquiry_id")
		if apiErr != nil {
			return nil, apiErr
		}
		messages, err = h.chatService.PageByInquiry(ctx, inquiryID, reqArgs.Limit, before)
	default:
		return nil, NewApiError("Missing required argument (chat_id or inquiry_id)")
	}
	if err != nil {
		return nil, apiErrorFromService("load messages", err)
	}
	return messages, nil
}

// SendMessageArgs addresses a message by room or by inquiry.
type SendMessageArgs struct {
	ChatID    string `json:"chat_id"`
	InquiryID string `json:"inquiry_id"`
	Text      string `json:"text"`
}

func (h *JsonApiHandler) sendMessage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := h.requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs SendMessageArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	var (
		msg *models.Message
		err error
	)
	switch {
	case reqArgs.ChatID != "":
		roomID, apiErr := parseIDArg(reqArgs.ChatID, "chat_id")
		if apiErr != nil {
			return nil, apiErr
		}
		msg, err = h.chatService.SendToRoom(ctx, authInfo.actor(), roomID, reqArgs.Text)
	case reqArgs.InquiryID != "":
		inquiryID, apiErr := parseIDArg(reqArgs.InquiryID, "inquiry_id")
		if apiErr != nil {
			return nil, apiErr
		}
		msg, err = h.chatService.SendMessage(ctx, authInfo.actor(), inquiryID, reqArgs.Text)
	default:
		return nil, NewApiError("Missing required argument (chat_id or inquiry_id)")
	}
	if err != nil {
		return nil, apiErrorFromService("send message", err)
	}
	return msg, nil
}

func (h *JsonApiHandler) markRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := h.requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var chatID string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &chatID); apiErr != nil {
		return nil, apiErr
	}
	roomID, apiErr := parseIDArg(chatID, "chat_id")
	if apiErr != nil {
		return nil, apiErr
	}
	lastRead, err := h.chatService.MarkRead(c.Request.Context(), roomID, authInfo.UserID)
	if err != nil {
		return nil, apiErrorFromService("mark chat read", err)
	}
	return gin.H{"chat_id": chatID, "last_read_id": fmt.Sprint(lastRead)}, nil
}

// --- Photos ---

// Define structure for getUploadURL arguments
type GetUploadURLArgs struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

func (h *JsonApiHandler) getUploadURL(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := h.requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	userIDHex := authInfo.UserID.Hex()

	var reqArgs GetUploadURLArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.Filename == "" || reqArgs.ContentType == "" {
		return nil, NewApiError("Missing required arguments (filename, content_type)")
	}
	if !strings.HasPrefix(reqArgs.ContentType, "image/") {
		return nil, NewApiError("Only image uploads are accepted")
	}

	presignedURL, objectKey, err := h.storageService.GeneratePresignedPutURL(c.Request.Context(),
		userIDHex,
		reqArgs.Filename,
		reqArgs.ContentType,
	)
	if err != nil {
		log.Printf("Error generating presigned URL for user %s: %v", userIDHex, err)
		return nil, NewApiError("Failed to generate upload URL")
	}

	// The client puts object_key into photo_urls when submitting the inquiry.
	return gin.H{
		"upload_url": presignedURL,
		"object_key": objectKey,
	}, nil
}

// Define structure for confirmPhotoUpload arguments
type ConfirmPhotoUploadArgs struct {
	ObjectKey string `json:"object_key"` // The key returned by getUploadURL
}

func (h *JsonApiHandler) confirmPhotoUpload(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := h.requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	userIDHex := authInfo.UserID.Hex()

	var reqArgs ConfirmPhotoUploadArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ObjectKey == "" {
		return nil, NewApiError("Missing required argument (object_key)")
	}
	if !storage.OwnsPhotoKey(userIDHex, reqArgs.ObjectKey) {
		return nil, NewApiError("Object key does not belong to the caller")
	}

	task, err := tasks.NewPhotoNormalizeTask(tasks.PhotoTaskPayload{ObjectKey: reqArgs.ObjectKey, UserID: userIDHex})
	if err != nil {
		log.Printf("ERROR building photo task for key %s: %v", reqArgs.ObjectKey, err)
		return nil, NewApiError("Failed to schedule photo processing")
	}
	taskInfo, err := h.taskClient.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		log.Printf("ERROR enqueuing photo task for key %s: %v", reqArgs.ObjectKey, err)
		return nil, NewApiError("Failed to schedule photo processing")
	}

	log.Printf("Enqueued photo task ID %s for key %s", taskInfo.ID, reqArgs.ObjectKey)
	return gin.H{
		"message":   "Photo upload confirmed, processing scheduled.",
		"task_id":   taskInfo.ID,
		"photo_url": h.storageService.PublicURL(reqArgs.ObjectKey),
	}, nil
}

// parseRequiredSingleArgFromArray takes the raw JSON message for 'arguments',
// expects it to be a JSON array with at least one element,
// and unmarshals that first element into targetVarPtr.
func (h *JsonApiHandler) parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	var argArray []json.RawMessage
	if rawArgPayload == nil {
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}

	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}

	if len(argArray) == 0 {
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}

	if err := json.Unmarshal(argArray[0], targetVarPtr); err != nil {
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}
