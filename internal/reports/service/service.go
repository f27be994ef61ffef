// Package service implements the report lifecycle use cases. Every status
// write flows through the lifecycle engine and a guarded repository write;
// the service publishes the matching event only after the commit.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"civicreport_backend/internal/events"
	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/internal/reports/lifecycle"
	"civicreport_backend/internal/reports/repository"
	"civicreport_backend/platform/apperr"
	"civicreport_backend/platform/logger"
	"civicreport_backend/platform/phone"
	"civicreport_backend/platform/sanitize"
)

// TechnicianDirectory resolves technician scope, provided by the
// assignment module.
type TechnicianDirectory interface {
	ResolveTechnicians(ctx context.Context, category domain.Category) ([]uuid.UUID, error)
	CategoriesFor(ctx context.Context, technicianID uuid.UUID) ([]domain.Category, error)
}

// OfficeDirectory answers whether an external office serves a category.
type OfficeDirectory interface {
	OfficeServesCategory(ctx context.Context, officeID uuid.UUID, category domain.Category) (bool, error)
}

// Service orchestrates report use cases.
type Service struct {
	repo        repository.Repository
	bus         events.Bus
	technicians TechnicianDirectory
	offices     OfficeDirectory
	log         *logger.Logger
}

// New creates the reports service.
func New(repo repository.Repository, bus events.Bus, technicians TechnicianDirectory, offices OfficeDirectory, log *logger.Logger) *Service {
	return &Service{
		repo:        repo,
		bus:         bus,
		technicians: technicians,
		offices:     offices,
		log:         log,
	}
}

// SubmitInput carries a citizen submission after DTO binding.
type SubmitInput struct {
	Title        string
	Description  string
	Category     domain.Category
	Address      string
	Latitude     float64
	Longitude    float64
	Anonymous    bool
	ReporterID   uuid.UUID
	ContactPhone string
	PhotoRefs    []string
}

// Submit validates and persists a new report in PENDING_APPROVAL and
// fires the submission event.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (domain.Report, error) {
	title := sanitize.Text(in.Title)
	description := sanitize.Text(in.Description)
	address := sanitize.Text(in.Address)

	if title == "" || description == "" {
		return domain.Report{}, apperr.Validation("title and description are required")
	}
	if !in.Category.Valid() {
		return domain.Report{}, apperr.Validation("unknown category " + string(in.Category))
	}
	if len(in.PhotoRefs) == 0 {
		return domain.Report{}, apperr.Validation("at least one photo is required")
	}
	if in.ReporterID == uuid.Nil {
		return domain.Report{}, apperr.Validation("reporter identity is required")
	}

	contactPhone := ""
	if strings.TrimSpace(in.ContactPhone) != "" {
		contactPhone = phone.NormalizeE164(in.ContactPhone)
		if contactPhone == "" {
			return domain.Report{}, apperr.Validation("contact phone is not a valid number")
		}
	}

	token, err := newTrackingToken()
	if err != nil {
		return domain.Report{}, fmt.Errorf("generate tracking token: %w", err)
	}

	rep, seq, err := s.repo.Create(ctx, repository.CreateParams{
		Title:         title,
		Description:   description,
		Category:      in.Category,
		Address:       address,
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		Anonymous:     in.Anonymous,
		ReporterID:    in.ReporterID,
		ContactPhone:  contactPhone,
		PhotoRefs:     in.PhotoRefs,
		TrackingToken: token,
	})
	if err != nil {
		return domain.Report{}, err
	}

	s.publish(ctx, events.ReportSubmitted{
		BaseEvent:     events.NewBaseEvent(),
		ReportID:      rep.ID,
		ReporterID:    rep.ReporterID,
		Category:      rep.Category,
		Title:         rep.Title,
		TrackingToken: rep.TrackingToken,
		OutboxSeq:     seq,
	})

	return rep, nil
}

// Approve moves a pending report to ASSIGNED. Approval requires the
// category scope to hold at least one technician; otherwise the report is
// left untouched.
func (s *Service) Approve(ctx context.Context, reportID, actorID uuid.UUID, role domain.Role) (domain.Report, error) {
	rep, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	if err := lifecycle.Check(rep.Status, domain.StatusAssigned, role); err != nil {
		return domain.Report{}, err
	}

	techs, err := s.technicians.ResolveTechnicians(ctx, rep.Category)
	if err != nil {
		return domain.Report{}, fmt.Errorf("resolve technicians: %w", err)
	}
	if len(techs) == 0 {
		return domain.Report{}, lifecycle.NoAssignee(rep.Category)
	}

	return s.transition(ctx, rep, domain.StatusAssigned, actorID, role, "")
}

// Reject moves a pending report to REJECTED, recording the mandatory
// motivation. The motivation is validated before any write.
func (s *Service) Reject(ctx context.Context, reportID, actorID uuid.UUID, role domain.Role, motivation string) (domain.Report, error) {
	motivation = sanitize.Text(motivation)
	if len([]rune(motivation)) < domain.MinMotivationLen {
		return domain.Report{}, apperr.Validation(
			fmt.Sprintf("rejection motivation must be at least %d characters", domain.MinMotivationLen))
	}

	rep, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	if err := lifecycle.Check(rep.Status, domain.StatusRejected, role); err != nil {
		return domain.Report{}, err
	}

	return s.transition(ctx, rep, domain.StatusRejected, actorID, role, motivation)
}

// StartWork moves an assigned report to IN_PROGRESS. Restarting suspended
// work goes through Resume instead.
func (s *Service) StartWork(ctx context.Context, reportID, actorID uuid.UUID, role domain.Role) (domain.Report, error) {
	rep, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	if rep.Status != domain.StatusAssigned {
		return domain.Report{}, apperr.Conflict("transition not allowed").
			WithCode(lifecycle.CodeInvalidTransition).
			WithDetails(lifecycle.TransitionDetails{
				Current:   rep.Status,
				Requested: domain.StatusInProgress,
				Role:      role,
			})
	}
	if err := lifecycle.Check(rep.Status, domain.StatusInProgress, role); err != nil {
		return domain.Report{}, err
	}
	return s.transition(ctx, rep, domain.StatusInProgress, actorID, role, "")
}

// Suspend pauses active work.
func (s *Service) Suspend(ctx context.Context, reportID, actorID uuid.UUID, role domain.Role) (domain.Report, error) {
	return s.requestTransition(ctx, reportID, domain.StatusSuspended, actorID, role)
}

// Resume restarts suspended work.
func (s *Service) Resume(ctx context.Context, reportID, actorID uuid.UUID, role domain.Role) (domain.Report, error) {
	rep, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	if rep.Status != domain.StatusSuspended {
		return domain.Report{}, apperr.Conflict("transition not allowed").
			WithCode(lifecycle.CodeInvalidTransition).
			WithDetails(lifecycle.TransitionDetails{
				Current:   rep.Status,
				Requested: domain.StatusInProgress,
				Role:      role,
			})
	}
	if err := lifecycle.Check(rep.Status, domain.StatusInProgress, role); err != nil {
		return domain.Report{}, err
	}
	return s.transition(ctx, rep, domain.StatusInProgress, actorID, role, "")
}

// Resolve closes a report as RESOLVED from any active state.
func (s *Service) Resolve(ctx context.Context, reportID, actorID uuid.UUID, role domain.Role) (domain.Report, error) {
	return s.requestTransition(ctx, reportID, domain.StatusResolved, actorID, role)
}

func (s *Service) requestTransition(ctx context.Context, reportID uuid.UUID, next domain.Status, actorID uuid.UUID, role domain.Role) (domain.Report, error) {
	rep, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	if err := lifecycle.Check(rep.Status, next, role); err != nil {
		return domain.Report{}, err
	}
	return s.transition(ctx, rep, next, actorID, role, "")
}

// transition performs the guarded write against the status the service
// just observed and publishes the change after commit.
func (s *Service) transition(ctx context.Context, rep domain.Report, next domain.Status, actorID uuid.UUID, role domain.Role, motivation string) (domain.Report, error) {
	params := repository.TransitionParams{
		ReportID:   rep.ID,
		Expected:   rep.Status,
		Next:       next,
		ActorID:    actorID,
		ActorRole:  role,
		Motivation: motivation,
	}
	if next == domain.StatusAssigned {
		// The pre-check in Approve can go stale before the write lands;
		// the repository re-checks the scope inside the transaction.
		params.RequireTechniciansFor = rep.Category
	}

	updated, seq, err := s.repo.TransitionStatus(ctx, params)
	if err != nil {
		return domain.Report{}, err
	}

	s.publish(ctx, events.ReportStatusChanged{
		BaseEvent:      events.NewBaseEvent(),
		ReportID:       updated.ID,
		ReporterID:     updated.ReporterID,
		Category:       updated.Category,
		PreviousStatus: rep.Status,
		NewStatus:      next,
		ActorID:        actorID,
		ActorRole:      role,
		Motivation:     motivation,
		OutboxSeq:      seq,
	})

	return updated, nil
}

// AssignExternalOffice sets or clears the report's external office.
// Allowed only for officers and technicians while the report is workable.
func (s *Service) AssignExternalOffice(ctx context.Context, reportID uuid.UUID, officeID *uuid.UUID, actorRole domain.Role) (domain.Report, error) {
	if actorRole != domain.RoleOfficer && actorRole != domain.RoleTechnician {
		return domain.Report{}, apperr.Forbidden("only officers and technicians assign external offices")
	}

	rep, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return domain.Report{}, err
	}

	if officeID != nil {
		serves, err := s.offices.OfficeServesCategory(ctx, *officeID, rep.Category)
		if err != nil {
			return domain.Report{}, err
		}
		if !serves {
			return domain.Report{}, apperr.Validation(
				fmt.Sprintf("office does not serve category %s", rep.Category))
		}
	}

	return s.repo.AssignOffice(ctx, reportID, officeID, []domain.Status{
		domain.StatusAssigned, domain.StatusInProgress, domain.StatusSuspended,
	})
}

// PostPublicMessage appends a message to the citizen-visible thread.
// Citizens may only write on their own reports.
func (s *Service) PostPublicMessage(ctx context.Context, reportID, senderID uuid.UUID, role domain.Role, body string) (domain.Message, error) {
	body = sanitize.Text(body)
	if body == "" {
		return domain.Message{}, apperr.Validation("message body is required")
	}

	rep, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return domain.Message{}, err
	}
	if role == domain.RoleCitizen && rep.ReporterID != senderID {
		return domain.Message{}, apperr.Forbidden("citizens may only message their own reports")
	}

	msg, seq, err := s.repo.AddMessage(ctx, reportID, senderID, body)
	if err != nil {
		return domain.Message{}, err
	}

	s.publish(ctx, events.PublicMessagePosted{
		BaseEvent:  events.NewBaseEvent(),
		ReportID:   reportID,
		MessageID:  msg.ID,
		SenderID:   senderID,
		ReporterID: rep.ReporterID,
		Category:   rep.Category,
		Body:       body,
		OutboxSeq:  seq,
	})

	return msg, nil
}

// PostInternalComment appends a staff-only comment. The citizen surface
// can never reach this path; role checks are enforced again here.
func (s *Service) PostInternalComment(ctx context.Context, reportID, senderID uuid.UUID, role domain.Role, body string) (domain.InternalComment, error) {
	switch role {
	case domain.RoleOfficer, domain.RoleTechnician, domain.RoleExternalMaintainer, domain.RoleAdmin:
	default:
		return domain.InternalComment{}, apperr.Forbidden("internal comments are staff-only")
	}

	body = sanitize.Text(body)
	if body == "" {
		return domain.InternalComment{}, apperr.Validation("comment body is required")
	}

	rep, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return domain.InternalComment{}, err
	}

	cmt, seq, err := s.repo.AddInternalComment(ctx, reportID, senderID, body)
	if err != nil {
		return domain.InternalComment{}, err
	}

	s.publish(ctx, events.InternalCommentPosted{
		BaseEvent:  events.NewBaseEvent(),
		ReportID:   reportID,
		CommentID:  cmt.ID,
		SenderID:   senderID,
		ReporterID: rep.ReporterID,
		Category:   rep.Category,
		Body:       body,
		OutboxSeq:  seq,
	})

	return cmt, nil
}

// Get returns one report.
func (s *Service) Get(ctx context.Context, reportID uuid.UUID) (domain.Report, error) {
	return s.repo.GetByID(ctx, reportID)
}

// GetByTrackingToken returns the report behind a public tracking token.
func (s *Service) GetByTrackingToken(ctx context.Context, token string) (domain.Report, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Report{}, apperr.Validation("tracking token is required")
	}
	return s.repo.GetByTrackingToken(ctx, token)
}

// GetRejection returns the rejection record of a rejected report.
func (s *Service) GetRejection(ctx context.Context, reportID uuid.UUID) (domain.RejectionRecord, error) {
	return s.repo.GetRejection(ctx, reportID)
}

// ListOwn lists the caller's reports.
func (s *Service) ListOwn(ctx context.Context, reporterID uuid.UUID, p repository.ListParams) ([]domain.Report, int, error) {
	return s.repo.ListByReporter(ctx, reporterID, p)
}

// ListPending is the officer triage queue.
func (s *Service) ListPending(ctx context.Context, p repository.ListParams) ([]domain.Report, int, error) {
	return s.repo.ListByStatus(ctx, domain.StatusPendingApproval, p)
}

// ListQueue is the technician work queue: workable reports in the
// technician's category scope.
func (s *Service) ListQueue(ctx context.Context, technicianID uuid.UUID, p repository.ListParams) ([]domain.Report, int, error) {
	categories, err := s.technicians.CategoriesFor(ctx, technicianID)
	if err != nil {
		return nil, 0, err
	}
	if len(categories) == 0 {
		return []domain.Report{}, 0, nil
	}
	return s.repo.ListByCategories(ctx, categories, []domain.Status{
		domain.StatusAssigned, domain.StatusInProgress, domain.StatusSuspended,
	}, p)
}

// ListMessages returns the public thread.
func (s *Service) ListMessages(ctx context.Context, reportID, callerID uuid.UUID, role domain.Role) ([]domain.Message, error) {
	rep, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if role == domain.RoleCitizen && rep.ReporterID != callerID {
		return nil, apperr.Forbidden("citizens may only read their own report threads")
	}
	return s.repo.ListMessages(ctx, reportID)
}

// ListInternalComments returns the staff thread. Citizens are rejected
// regardless of report ownership.
func (s *Service) ListInternalComments(ctx context.Context, reportID uuid.UUID, role domain.Role) ([]domain.InternalComment, error) {
	switch role {
	case domain.RoleOfficer, domain.RoleTechnician, domain.RoleExternalMaintainer, domain.RoleAdmin:
	default:
		return nil, apperr.Forbidden("internal comments are staff-only")
	}
	return s.repo.ListInternalComments(ctx, reportID)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishSync(ctx, event); err != nil {
		// The outbox row is already committed; the sweeper redelivers.
		s.log.Warn("in-request fan-out failed, outbox will redispatch",
			"event", event.EventName(), "error", err)
	}
}

func newTrackingToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
