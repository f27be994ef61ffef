package repository

import (
	"context"

	"civicreport_backend/internal/reports/domain"

	"github.com/google/uuid"
)

// CreateParams contains parameters for persisting a new report.
type CreateParams struct {
	Title         string
	Description   string
	Category      domain.Category
	Address       string
	Latitude      float64
	Longitude     float64
	Anonymous     bool
	ReporterID    uuid.UUID
	ContactPhone  string
	PhotoRefs     []string
	TrackingToken string
}

// TransitionParams describes one lifecycle transition write. Expected is
// the status the caller observed; the write succeeds only if the row still
// holds it.
type TransitionParams struct {
	ReportID  uuid.UUID
	Expected  domain.Status
	Next      domain.Status
	ActorID   uuid.UUID
	ActorRole domain.Role
	// Motivation is required when Next is REJECTED and written as the
	// rejection record in the same transaction.
	Motivation string
	// RequireTechniciansFor, when set, aborts the transition unless the
	// category still holds at least one technician at commit time. Set for
	// approvals so a scope emptied after the service's pre-check cannot
	// yield an ASSIGNED report nobody sees.
	RequireTechniciansFor domain.Category
}

// ListParams pages a report listing.
type ListParams struct {
	Limit  int
	Offset int
}

// ReportReader provides read operations on reports.
type ReportReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Report, error)
	GetByTrackingToken(ctx context.Context, token string) (domain.Report, error)
	GetRejection(ctx context.Context, reportID uuid.UUID) (domain.RejectionRecord, error)
	ListByReporter(ctx context.Context, reporterID uuid.UUID, p ListParams) ([]domain.Report, int, error)
	ListByStatus(ctx context.Context, status domain.Status, p ListParams) ([]domain.Report, int, error)
	ListByCategories(ctx context.Context, categories []domain.Category, statuses []domain.Status, p ListParams) ([]domain.Report, int, error)
}

// ReportWriter provides lifecycle write operations. Every write that must
// trigger a notification returns the outbox seq committed with it.
type ReportWriter interface {
	Create(ctx context.Context, p CreateParams) (domain.Report, int64, error)
	TransitionStatus(ctx context.Context, p TransitionParams) (domain.Report, int64, error)
	AssignOffice(ctx context.Context, reportID uuid.UUID, officeID *uuid.UUID, allowed []domain.Status) (domain.Report, error)
}

// ThreadStore provides the append-only message and comment stores.
type ThreadStore interface {
	AddMessage(ctx context.Context, reportID, senderID uuid.UUID, body string) (domain.Message, int64, error)
	AddInternalComment(ctx context.Context, reportID, senderID uuid.UUID, body string) (domain.InternalComment, int64, error)
	ListMessages(ctx context.Context, reportID uuid.UUID) ([]domain.Message, error)
	ListInternalComments(ctx context.Context, reportID uuid.UUID) ([]domain.InternalComment, error)
	PublicParticipants(ctx context.Context, reportID uuid.UUID) ([]uuid.UUID, error)
	InternalParticipants(ctx context.Context, reportID uuid.UUID) ([]uuid.UUID, error)
}

// Repository is the full persistence contract of the reports module.
type Repository interface {
	ReportReader
	ReportWriter
	ThreadStore
}
