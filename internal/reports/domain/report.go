// Package domain defines the report aggregate and its value types.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a report. A report always holds one of
// the six enumerated values; absence of prior moderation is represented as
// StatusPendingApproval, never as an empty status.
type Status string

const (
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusAssigned        Status = "ASSIGNED"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusSuspended       Status = "SUSPENDED"
	StatusRejected        Status = "REJECTED"
	StatusResolved        Status = "RESOLVED"
)

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusAssigned, StatusInProgress,
		StatusSuspended, StatusRejected, StatusResolved:
		return true
	}
	return false
}

// Terminal reports whether s admits no outbound transitions.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusResolved
}

// Category classifies the reported issue and determines which technicians
// and external offices may handle it.
type Category string

const (
	CategoryRoads    Category = "roads"
	CategoryLighting Category = "lighting"
	CategoryWaste    Category = "waste"
	CategoryWater    Category = "water"
	CategoryParks    Category = "parks"
	CategorySignage  Category = "signage"
	CategoryOther    Category = "other"
)

// Categories lists every valid report category.
func Categories() []Category {
	return []Category{
		CategoryRoads, CategoryLighting, CategoryWaste, CategoryWater,
		CategoryParks, CategorySignage, CategoryOther,
	}
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Role is an actor role as supplied by the auth boundary. The core trusts
// the identity and role it is given.
type Role string

const (
	RoleCitizen            Role = "citizen"
	RoleOfficer            Role = "officer"
	RoleTechnician         Role = "technician"
	RoleExternalMaintainer Role = "external_maintainer"
	RoleAdmin              Role = "admin"
)

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCitizen, RoleOfficer, RoleTechnician, RoleExternalMaintainer, RoleAdmin:
		return true
	}
	return false
}

// Report is a citizen-submitted issue record. It is created by submission,
// mutated only through the lifecycle engine, and never hard-deleted:
// rejection and resolution are terminal states, not deletions.
type Report struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Address     string    `json:"address"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Anonymous   bool      `json:"anonymous"`
	// ReporterID is never nil internally; public DTOs omit it when the
	// report is anonymous.
	ReporterID       uuid.UUID  `json:"reporterId"`
	ContactPhone     string     `json:"contactPhone,omitempty"`
	PhotoRefs        []string   `json:"photoRefs"`
	Status           Status     `json:"status"`
	ExternalOfficeID *uuid.UUID `json:"externalOfficeId,omitempty"`
	TrackingToken    string     `json:"trackingToken,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// RejectionRecord holds the mandatory motivation for a rejected report.
// It is created atomically with the REJECTED transition and is immutable.
type RejectionRecord struct {
	ReportID   uuid.UUID `json:"reportId"`
	OfficerID  uuid.UUID `json:"officerId"`
	Motivation string    `json:"motivation"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MinMotivationLen is the minimum length of a rejection motivation.
const MinMotivationLen = 10

// Message is citizen-visible correspondence on a report. Append-only.
type Message struct {
	ID        uuid.UUID `json:"id"`
	ReportID  uuid.UUID `json:"reportId"`
	SenderID  uuid.UUID `json:"senderId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// InternalComment is staff-only correspondence on a report. It must never
// reach the citizen-facing API surface. Append-only.
type InternalComment struct {
	ID        uuid.UUID `json:"id"`
	ReportID  uuid.UUID `json:"reportId"`
	SenderID  uuid.UUID `json:"senderId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
