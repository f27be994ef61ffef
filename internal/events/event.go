// Package events defines the domain events exchanged between modules.
package events

import (
	platformevents "civicreport_backend/platform/events"

	"civicreport_backend/internal/reports/domain"

	"github.com/google/uuid"
)

// BaseEvent re-exports the platform base event.
type BaseEvent = platformevents.BaseEvent

// NewBaseEvent creates a base event stamped with the current time.
func NewBaseEvent() BaseEvent { return platformevents.NewBaseEvent() }

// ReportSubmitted fires when a citizen submission commits.
type ReportSubmitted struct {
	BaseEvent
	ReportID      uuid.UUID
	ReporterID    uuid.UUID
	Category      domain.Category
	Title         string
	TrackingToken string
	// OutboxSeq is the ledger row written in the same transaction as the
	// report insert; fan-out is deduplicated against it.
	OutboxSeq int64
}

// EventName returns the unique event identifier.
func (ReportSubmitted) EventName() string { return "report.submitted" }

// ReportStatusChanged fires when a lifecycle transition commits.
type ReportStatusChanged struct {
	BaseEvent
	ReportID       uuid.UUID
	ReporterID     uuid.UUID
	Category       domain.Category
	PreviousStatus domain.Status
	NewStatus      domain.Status
	ActorID        uuid.UUID
	ActorRole      domain.Role
	Motivation     string // set for rejections
	OutboxSeq      int64
}

// EventName returns the unique event identifier.
func (ReportStatusChanged) EventName() string { return "report.status_changed" }

// PublicMessagePosted fires when a citizen-visible message commits.
type PublicMessagePosted struct {
	BaseEvent
	ReportID   uuid.UUID
	MessageID  uuid.UUID
	SenderID   uuid.UUID
	ReporterID uuid.UUID
	Category   domain.Category
	Body       string
	OutboxSeq  int64
}

// EventName returns the unique event identifier.
func (PublicMessagePosted) EventName() string { return "report.message_posted" }

// InternalCommentPosted fires when a staff-only comment commits. Its
// fan-out must never reach the citizen.
type InternalCommentPosted struct {
	BaseEvent
	ReportID   uuid.UUID
	CommentID  uuid.UUID
	SenderID   uuid.UUID
	ReporterID uuid.UUID
	Category   domain.Category
	Body       string
	OutboxSeq  int64
}

// EventName returns the unique event identifier.
func (InternalCommentPosted) EventName() string { return "report.internal_comment_posted" }
