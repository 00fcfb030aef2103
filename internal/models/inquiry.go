package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InquiryStatus is the workflow state of an inquiry.
type InquiryStatus string

const (
	StatusPending    InquiryStatus = "pending"
	StatusInProgress InquiryStatus = "in_progress"
	StatusApproved   InquiryStatus = "approved"
	StatusDenied     InquiryStatus = "denied"
	StatusFollowUp   InquiryStatus = "followup"
	StatusCompleted  InquiryStatus = "completed"
)

// ResolveStatuses are the values an administrator may set via resolve.
// in_progress is only reachable through the update path.
var ResolveStatuses = []InquiryStatus{StatusPending, StatusApproved, StatusDenied, StatusFollowUp, StatusCompleted}

// AllStatuses is the canonical status vocabulary.
var AllStatuses = append([]InquiryStatus{StatusInProgress}, ResolveStatuses...)

// Valid reports whether s is part of the canonical vocabulary.
func (s InquiryStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further status change is allowed.
func (s InquiryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDenied
}

// TerminalStatuses lists the states an inquiry cannot leave.
var TerminalStatuses = []InquiryStatus{StatusCompleted, StatusDenied}

// Location is a WGS84 point reported by the mobile client.
type Location struct {
	Lat float64 `bson:"lat" json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `bson:"lng" json:"lng" validate:"gte=-180,lte=180"`
}

// ClientInfo is the contact on site.
type ClientInfo struct {
	Name    string `bson:"name" json:"name" validate:"required"`
	Phone   string `bson:"phone" json:"phone" validate:"required"`
	Address string `bson:"address" json:"address" validate:"required"`
}

// AdminRemark is one append-only entry in an inquiry's review log.
type AdminRemark struct {
	Content      string         `bson:"content" json:"content"`
	Status       *InquiryStatus `bson:"status,omitempty" json:"status,omitempty"`
	Added        time.Time      `bson:"added" json:"added"`
	FollowUpDate *time.Time     `bson:"follow_up_date,omitempty" json:"follow_up_date,omitempty"`
}

// Inquiry represents one field-reported lead or site visit.
type Inquiry struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	InquiryNumber    int64              `bson:"inquiry_number,omitempty" json:"inquiry_number,omitempty"`
	Employee         primitive.ObjectID `bson:"employee" json:"employee"`
	Location         Location           `bson:"location" json:"location"`
	Remarks          string             `bson:"remarks" json:"remarks"`
	PhotoURLs        []string           `bson:"photo_urls" json:"photo_urls"`
	Client           ClientInfo         `bson:"client" json:"client"`
	Status           InquiryStatus      `bson:"status" json:"status"`
	AdminRemarks     []AdminRemark      `bson:"admin_remarks" json:"admin_remarks"`
	FollowUpDate     *time.Time         `bson:"follow_up_date,omitempty" json:"follow_up_date,omitempty"`
	ReadyMix         bool               `bson:"ready_mix" json:"ready_mix"`
	Blocks           bool               `bson:"blocks" json:"blocks"`
	BuildingMaterial bool               `bson:"building_material" json:"building_material"`
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
}

// IsAlerting reports whether the inquiry needs administrative attention at now.
// It is evaluated on read and never stored.
func (i *Inquiry) IsAlerting(now time.Time) bool {
	if i.Status == StatusCompleted {
		return false
	}
	if !i.ReadyMix || !i.Blocks || !i.BuildingMaterial {
		return true
	}
	return i.FollowUpDate != nil && i.FollowUpDate.Before(now)
}
