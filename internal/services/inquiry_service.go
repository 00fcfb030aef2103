package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"fieldops/inquiry/internal/models"
	"fieldops/inquiry/internal/store"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IInquiryService defines the inquiry record and workflow operations.
type IInquiryService interface {
	Submit(ctx context.Context, employeeID primitive.ObjectID, payload InquiryPayload) (*models.Inquiry, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Inquiry, error)
	List(ctx context.Context) ([]models.Inquiry, error)
	ListAlerts(ctx context.Context, now time.Time) ([]models.Inquiry, error)
	Resolve(ctx context.Context, id primitive.ObjectID, patch ResolvePatch) (*models.Inquiry, error)
	Edit(ctx context.Context, id primitive.ObjectID, patch EditPatch) (*models.Inquiry, error)
	Update(ctx context.Context, id primitive.ObjectID, patch UpdatePatch) (*models.Inquiry, error)
}

// PhotoURLResolver turns a stored object key into a URL clients can fetch.
type PhotoURLResolver interface {
	PublicURL(key string) string
}

// InquiryPayload is what a field employee submits from the mobile app.
type InquiryPayload struct {
	Location         models.Location   `json:"location"`
	Remarks          string            `json:"remarks" validate:"max=4000"`
	PhotoURLs        []string          `json:"photo_urls" validate:"required,min=1,dive,required"`
	Client           models.ClientInfo `json:"client"`
	FollowUpDate     *models.Date      `json:"follow_up_date"`
	ReadyMix         bool              `json:"ready_mix"`
	Blocks           bool              `json:"blocks"`
	BuildingMaterial bool              `json:"building_material"`
}

// ResolvePatch is an administrator's review decision.
type ResolvePatch struct {
	Status           *models.InquiryStatus `json:"status"`
	Remarks          *string               `json:"remarks"`
	FollowUpDate     *models.Date          `json:"follow_up_date"`
	ReadyMix         *bool                 `json:"ready_mix"`
	Blocks           *bool                 `json:"blocks"`
	BuildingMaterial *bool                 `json:"building_material"`
}

// ClientPatch carries individual client sub-field edits.
type ClientPatch struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

// EditPatch corrects data captured in the field.
type EditPatch struct {
	Client           *ClientPatch `json:"client"`
	Remarks          *string      `json:"remarks"`
	ReadyMix         *bool        `json:"ready_mix"`
	Blocks           *bool        `json:"blocks"`
	BuildingMaterial *bool        `json:"building_material"`
}

// RemarkInput is one admin remark appended through the update path.
type RemarkInput struct {
	Content      string                `json:"content"`
	Status       *models.InquiryStatus `json:"status"`
	FollowUpDate *models.Date          `json:"follow_up_date"`
}

// UpdatePatch is the secondary update path used by the back office list view.
type UpdatePatch struct {
	Status       *models.InquiryStatus `json:"status"`
	AdminRemarks []RemarkInput         `json:"admin_remarks"`
}

// inquiryService implements IInquiryService.
type inquiryService struct {
	inquiries store.InquiryStore
	employees IEmployeeService
	photos    PhotoURLResolver
	validate  *validator.Validate
	now       func() time.Time
}

// NewInquiryService creates a new InquiryService. photos may be nil, in which
// case listings return raw object keys.
func NewInquiryService(inquiries store.InquiryStore, employees IEmployeeService, photos PhotoURLResolver) IInquiryService {
	return &inquiryService{
		inquiries: inquiries,
		employees: employees,
		photos:    photos,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates and stores a new inquiry in the pending state.
func (s *inquiryService) Submit(ctx context.Context, employeeID primitive.ObjectID, payload InquiryPayload) (*models.Inquiry, error) {
	if err := s.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid inquiry: %v: %w", err, ErrValidation)
	}
	if s.employees != nil {
		if _, err := s.employees.FindByUserID(ctx, employeeID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("user %s has no employee profile: %w", employeeID.Hex(), ErrForbidden)
			}
			return nil, err
		}
	}

	number, err := s.inquiries.NextInquiryNumber(ctx)
	if err != nil {
		return nil, storeErr("allocate inquiry number", err)
	}

	now := s.now()
	inquiry := &models.Inquiry{
		ID:               primitive.NewObjectID(),
		InquiryNumber:    number,
		Employee:         employeeID,
		Location:         payload.Location,
		Remarks:          strings.TrimSpace(payload.Remarks),
		PhotoURLs:        payload.PhotoURLs,
		Client:           payload.Client,
		Status:           models.StatusPending,
		AdminRemarks:     []models.AdminRemark{},
		FollowUpDate:     payload.FollowUpDate.TimePtr(),
		ReadyMix:         payload.ReadyMix,
		Blocks:           payload.Blocks,
		BuildingMaterial: payload.BuildingMaterial,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.inquiries.Insert(ctx, inquiry); err != nil {
		return nil, storeErr("insert inquiry", err)
	}
	log.Printf("Inquiry #%d (%s) submitted by %s", inquiry.InquiryNumber, inquiry.ID.Hex(), employeeID.Hex())
	return inquiry, nil
}

func (s *inquiryService) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Inquiry, error) {
	inquiry, err := s.inquiries.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr("inquiry "+id.Hex(), err)
	}
	return s.expandPhotos(inquiry), nil
}

// List returns every inquiry, newest first, with photo keys expanded.
func (s *inquiryService) List(ctx context.Context) ([]models.Inquiry, error) {
	inquiries, err := s.inquiries.FindAll(ctx)
	if err != nil {
		return nil, storeErr("list inquiries", err)
	}
	for i := range inquiries {
		s.expandPhotos(&inquiries[i])
	}
	return inquiries, nil
}

// ListAlerts returns the inquiries needing attention at now. The store filter
// is re-checked in process so both sides always agree on the predicate.
func (s *inquiryService) ListAlerts(ctx context.Context, now time.Time) ([]models.Inquiry, error) {
	candidates, err := s.inquiries.FindAlerting(ctx, now)
	if err != nil {
		return nil, storeErr("list alerts", err)
	}
	alerts := make([]models.Inquiry, 0, len(candidates))
	for i := range candidates {
		if candidates[i].IsAlerting(now) {
			alerts = append(alerts, *s.expandPhotos(&candidates[i]))
		}
	}
	return alerts, nil
}

// Resolve applies a review decision. When remarks are given they are appended
// as a new admin remark in the same write; the field-captured remarks are never touched.
func (s *inquiryService) Resolve(ctx context.Context, id primitive.ObjectID, patch ResolvePatch) (*models.Inquiry, error) {
	if patch.Status != nil && !isResolveStatus(*patch.Status) {
		return nil, fmt.Errorf("status %q cannot be set on resolve: %w", *patch.Status, ErrValidation)
	}
	now := s.now()
	mutation := store.InquiryMutation{
		Status:           patch.Status,
		FollowUpDate:     patch.FollowUpDate.TimePtr(),
		ReadyMix:         patch.ReadyMix,
		Blocks:           patch.Blocks,
		BuildingMaterial: patch.BuildingMaterial,
		UpdatedAt:        now,
	}
	if patch.Remarks != nil {
		content := strings.TrimSpace(*patch.Remarks)
		if content == "" {
			return nil, fmt.Errorf("remark must not be empty: %w", ErrValidation)
		}
		mutation.PushRemarks = []models.AdminRemark{{
			Content:      content,
			Status:       patch.Status,
			Added:        now,
			FollowUpDate: patch.FollowUpDate.TimePtr(),
		}}
	}
	return s.apply(ctx, id, mutation)
}

// Edit overwrites client details, the material flags and the field remarks.
func (s *inquiryService) Edit(ctx context.Context, id primitive.ObjectID, patch EditPatch) (*models.Inquiry, error) {
	mutation := store.InquiryMutation{
		Remarks:          patch.Remarks,
		ReadyMix:         patch.ReadyMix,
		Blocks:           patch.Blocks,
		BuildingMaterial: patch.BuildingMaterial,
		UpdatedAt:        s.now(),
	}
	if patch.Client != nil {
		for _, v := range []*string{patch.Client.Name, patch.Client.Phone, patch.Client.Address} {
			if v != nil && strings.TrimSpace(*v) == "" {
				return nil, fmt.Errorf("client fields must not be blank: %w", ErrValidation)
			}
		}
		mutation.ClientName = patch.Client.Name
		mutation.ClientPhone = patch.Client.Phone
		mutation.ClientAddress = patch.Client.Address
	}
	return s.apply(ctx, id, mutation)
}

// Update sets any canonical status and appends a batch of admin remarks.
func (s *inquiryService) Update(ctx context.Context, id primitive.ObjectID, patch UpdatePatch) (*models.Inquiry, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", *patch.Status, ErrValidation)
	}
	now := s.now()
	mutation := store.InquiryMutation{Status: patch.Status, UpdatedAt: now}
	for _, r := range patch.AdminRemarks {
		content := strings.TrimSpace(r.Content)
		if content == "" {
			return nil, fmt.Errorf("remark must not be empty: %w", ErrValidation)
		}
		if r.Status != nil && !r.Status.Valid() {
			return nil, fmt.Errorf("unknown remark status %q: %w", *r.Status, ErrValidation)
		}
		mutation.PushRemarks = append(mutation.PushRemarks, models.AdminRemark{
			Content:      content,
			Status:       r.Status,
			Added:        now,
			FollowUpDate: r.FollowUpDate.TimePtr(),
		})
	}
	return s.apply(ctx, id, mutation)
}

func (s *inquiryService) apply(ctx context.Context, id primitive.ObjectID, mutation store.InquiryMutation) (*models.Inquiry, error) {
	if mutation.Empty() {
		return nil, fmt.Errorf("nothing to update: %w", ErrValidation)
	}
	updated, err := s.inquiries.Apply(ctx, id, mutation)
	if err != nil {
		return nil, storeErr("inquiry "+id.Hex(), err)
	}
	if mutation.Status != nil {
		log.Printf("Inquiry %s status set to %s", id.Hex(), *mutation.Status)
	}
	return s.expandPhotos(updated), nil
}

func (s *inquiryService) expandPhotos(inquiry *models.Inquiry) *models.Inquiry {
	if s.photos == nil {
		return inquiry
	}
	urls := make([]string, len(inquiry.PhotoURLs))
	for i, key := range inquiry.PhotoURLs {
		urls[i] = s.photos.PublicURL(key)
	}
	inquiry.PhotoURLs = urls
	return inquiry
}

func isResolveStatus(status models.InquiryStatus) bool {
	for _, s := range models.ResolveStatuses {
		if s == status {
			return true
		}
	}
	return false
}
