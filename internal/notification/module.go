// Package notification fans report events out to per-recipient persisted
// notifications, live session pushes, and fallback email. It subscribes to
// domain events on the bus and inverts the dependency: the reports module
// never needs to know who listens.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"civicreport_backend/internal/events"
	apphttp "civicreport_backend/internal/http"
	"civicreport_backend/internal/email"
	notifhandler "civicreport_backend/internal/notification/handler"
	"civicreport_backend/internal/notification/inapp"
	"civicreport_backend/internal/notification/outbox"
	"civicreport_backend/internal/notification/sessions"
	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/platform/config"
	"civicreport_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TechnicianResolver lists the technicians whose scope covers a category.
type TechnicianResolver interface {
	ResolveTechnicians(ctx context.Context, category domain.Category) ([]uuid.UUID, error)
}

// ParticipantReader resolves who belongs to a report's conversation.
type ParticipantReader interface {
	// PublicParticipants returns the reporter plus every staff member who
	// posted a public message on the report.
	PublicParticipants(ctx context.Context, reportID uuid.UUID) ([]uuid.UUID, error)
	// InternalParticipants returns prior internal commenters plus the
	// maintainers of the assigned external office. It never includes the
	// reporter.
	InternalParticipants(ctx context.Context, reportID uuid.UUID) ([]uuid.UUID, error)
}

// Contact is a recipient's email identity, used for offline fallback.
type Contact struct {
	Email       string
	DisplayName string
}

// ContactReader resolves a user's email contact.
type ContactReader interface {
	GetContact(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// ReportSummary is the minimum a notification text needs about a report.
type ReportSummary struct {
	Title         string
	TrackingToken string
}

// ReportSummaryReader resolves report titles for notification texts.
type ReportSummaryReader interface {
	GetReportSummary(ctx context.Context, reportID uuid.UUID) (ReportSummary, error)
}

// failed rows stay visible for operators but stop being retried
const maxDispatchAttempts = 5

// outboxLedger is the slice of the outbox repository the dispatcher needs.
type outboxLedger interface {
	GetBySeq(ctx context.Context, seq int64) (outbox.Record, error)
	MarkSucceeded(ctx context.Context, seq int64) error
	MarkFailed(ctx context.Context, seq int64, lastError string) error
	MarkPending(ctx context.Context, seq int64, lastError *string) error
}

// Module handles all notification-related event subscriptions.
type Module struct {
	pool         *pgxpool.Pool
	cfg          config.NotificationConfig
	log          *logger.Logger
	sender       email.Sender
	registry     *sessions.Registry
	outboxRepo   *outbox.Repository
	ledger       outboxLedger
	inAppService *inapp.Service
	inAppHandler *notifhandler.HTTPHandler
	technicians  TechnicianResolver
	participants ParticipantReader
	contacts     ContactReader
	summaries    ReportSummaryReader
}

// New creates the notification module with its owned sub-services.
func New(pool *pgxpool.Pool, sender email.Sender, cfg config.NotificationConfig, log *logger.Logger) *Module {
	registry := sessions.NewRegistry(log)
	inAppRepo := inapp.NewRepository(pool)
	inAppSvc := inapp.NewService(inAppRepo, registry, log)
	outboxRepo := outbox.New(pool)

	return &Module{
		pool:         pool,
		cfg:          cfg,
		log:          log,
		sender:       sender,
		registry:     registry,
		outboxRepo:   outboxRepo,
		ledger:       outboxRepo,
		inAppService: inAppSvc,
		inAppHandler: notifhandler.NewHTTPHandler(inAppSvc, registry),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// RegisterRoutes registers notification API routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	if m.inAppHandler == nil {
		return
	}

	notifications := ctx.Protected.Group("/notifications")
	m.inAppHandler.RegisterRoutes(notifications)
}

// Registry exposes the live session registry for composition.
func (m *Module) Registry() *sessions.Registry { return m.registry }

// Outbox exposes the outbox repository so the reports module can write
// ledger rows inside its transactions.
func (m *Module) Outbox() *outbox.Repository { return m.outboxRepo }

// SetTechnicianResolver injects the category scope resolver.
func (m *Module) SetTechnicianResolver(r TechnicianResolver) { m.technicians = r }

// SetParticipantReader injects the conversation participant reader.
func (m *Module) SetParticipantReader(r ParticipantReader) { m.participants = r }

// SetContactReader injects the user contact reader for email fallback.
func (m *Module) SetContactReader(r ContactReader) { m.contacts = r }

// SetReportSummaryReader injects the report title reader.
func (m *Module) SetReportSummaryReader(r ReportSummaryReader) { m.summaries = r }

// RegisterHandlers subscribes to all relevant domain events on the event bus.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.ReportSubmitted{}.EventName(), m)
	bus.Subscribe(events.ReportStatusChanged{}.EventName(), m)
	bus.Subscribe(events.PublicMessagePosted{}.EventName(), m)
	bus.Subscribe(events.InternalCommentPosted{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.ReportSubmitted:
		return m.handleReportSubmitted(ctx, e)
	case events.ReportStatusChanged:
		return m.handleReportStatusChanged(ctx, e)
	case events.PublicMessagePosted:
		return m.handlePublicMessagePosted(ctx, e)
	case events.InternalCommentPosted:
		return m.handleInternalCommentPosted(ctx, e)
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}

// Dispatch re-runs the fan-out for a ledger row. The worker calls it for
// rows whose in-request fan-out did not complete; every step downstream is
// idempotent on the row's seq, so re-running is safe.
func (m *Module) Dispatch(ctx context.Context, seq int64) error {
	rec, err := m.ledger.GetBySeq(ctx, seq)
	if err != nil {
		return fmt.Errorf("load outbox row %d: %w", seq, err)
	}
	if rec.Status == outbox.StatusSucceeded || rec.Status == outbox.StatusFailed {
		return nil
	}

	event, err := decodeOutboxEvent(rec)
	if err != nil {
		// Undecodable payloads never succeed; park them immediately.
		return m.ledger.MarkFailed(ctx, seq, err.Error())
	}

	if err := m.Handle(ctx, event); err != nil {
		if rec.Attempts >= maxDispatchAttempts {
			m.log.Error("outbox row exhausted retries", "seq", seq, "kind", rec.Kind, "error", err)
			return m.ledger.MarkFailed(ctx, seq, err.Error())
		}
		msg := err.Error()
		if markErr := m.ledger.MarkPending(ctx, seq, &msg); markErr != nil {
			return markErr
		}
		return err
	}

	return nil
}

func decodeOutboxEvent(rec outbox.Record) (events.Event, error) {
	switch rec.Kind {
	case events.ReportSubmitted{}.EventName():
		var e events.ReportSubmitted
		if err := json.Unmarshal(rec.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", rec.Kind, err)
		}
		e.OutboxSeq = rec.Seq
		return e, nil
	case events.ReportStatusChanged{}.EventName():
		var e events.ReportStatusChanged
		if err := json.Unmarshal(rec.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", rec.Kind, err)
		}
		e.OutboxSeq = rec.Seq
		return e, nil
	case events.PublicMessagePosted{}.EventName():
		var e events.PublicMessagePosted
		if err := json.Unmarshal(rec.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", rec.Kind, err)
		}
		e.OutboxSeq = rec.Seq
		return e, nil
	case events.InternalCommentPosted{}.EventName():
		var e events.InternalCommentPosted
		if err := json.Unmarshal(rec.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", rec.Kind, err)
		}
		e.OutboxSeq = rec.Seq
		return e, nil
	default:
		return nil, fmt.Errorf("unknown outbox kind %q", rec.Kind)
	}
}

// handleReportSubmitted sends the reporter a confirmation email with the
// public tracking link. No in-app notification exists for one's own
// submission.
func (m *Module) handleReportSubmitted(ctx context.Context, e events.ReportSubmitted) error {
	if contact := m.lookupContact(ctx, e.ReporterID); contact.Email != "" {
		trackingURL := m.buildTrackingURL(e.TrackingToken)
		if err := m.sender.SendReportReceivedEmail(ctx, contact.Email, e.Title, trackingURL); err != nil {
			m.log.Error("failed to send report received email",
				"reportId", e.ReportID,
				"error", err,
			)
			return err
		}
	}

	return m.ledger.MarkSucceeded(ctx, e.OutboxSeq)
}

func (m *Module) handleReportStatusChanged(ctx context.Context, e events.ReportStatusChanged) error {
	recipients := make([]uuid.UUID, 0, 4)

	if m.reporterShouldSee(e) {
		recipients = append(recipients, e.ReporterID)
	}

	// The moment a report first becomes workable, the whole category scope
	// hears about it.
	if e.NewStatus == domain.StatusAssigned && e.PreviousStatus == domain.StatusPendingApproval && m.technicians != nil {
		techs, err := m.technicians.ResolveTechnicians(ctx, e.Category)
		if err != nil {
			return fmt.Errorf("resolve technicians for %s: %w", e.Category, err)
		}
		recipients = append(recipients, techs...)
	}

	recipients = dedupRecipients(recipients, e.ActorID)

	summary := m.lookupSummary(ctx, e.ReportID)
	text := statusChangeText(summary.Title, e)

	for _, recipientID := range recipients {
		_, created, err := m.inAppService.Deliver(ctx, inapp.CreateParams{
			RecipientID: recipientID,
			ReportID:    e.ReportID,
			Kind:        inapp.KindStatusUpdate,
			Message:     text,
			OutboxSeq:   e.OutboxSeq,
		})
		if err != nil {
			return fmt.Errorf("deliver status notification to %s: %w", recipientID, err)
		}

		if created && recipientID == e.ReporterID {
			m.emailOfflineReporter(ctx, e.ReporterID, summary, text)
		}
	}

	return m.ledger.MarkSucceeded(ctx, e.OutboxSeq)
}

func (m *Module) handlePublicMessagePosted(ctx context.Context, e events.PublicMessagePosted) error {
	if m.participants == nil {
		return fmt.Errorf("participant reader not configured")
	}

	participants, err := m.participants.PublicParticipants(ctx, e.ReportID)
	if err != nil {
		return fmt.Errorf("resolve public participants: %w", err)
	}
	recipients := dedupRecipients(participants, e.SenderID)

	summary := m.lookupSummary(ctx, e.ReportID)
	text := newMessageText(summary.Title, e.Body)

	for _, recipientID := range recipients {
		_, created, err := m.inAppService.Deliver(ctx, inapp.CreateParams{
			RecipientID: recipientID,
			ReportID:    e.ReportID,
			Kind:        inapp.KindNewMessage,
			Message:     text,
			OutboxSeq:   e.OutboxSeq,
		})
		if err != nil {
			return fmt.Errorf("deliver message notification to %s: %w", recipientID, err)
		}

		if created && recipientID == e.ReporterID {
			m.emailOfflineMessage(ctx, e.ReporterID, summary, e.Body)
		}
	}

	return m.ledger.MarkSucceeded(ctx, e.OutboxSeq)
}

func (m *Module) handleInternalCommentPosted(ctx context.Context, e events.InternalCommentPosted) error {
	if m.participants == nil || m.technicians == nil {
		return fmt.Errorf("participant reader or technician resolver not configured")
	}

	scope, err := m.technicians.ResolveTechnicians(ctx, e.Category)
	if err != nil {
		return fmt.Errorf("resolve technicians for %s: %w", e.Category, err)
	}
	staff, err := m.participants.InternalParticipants(ctx, e.ReportID)
	if err != nil {
		return fmt.Errorf("resolve internal participants: %w", err)
	}

	recipients := dedupRecipients(append(scope, staff...), e.SenderID, e.ReporterID)

	summary := m.lookupSummary(ctx, e.ReportID)
	text := newMessageText(summary.Title, e.Body)

	for _, recipientID := range recipients {
		_, _, err := m.inAppService.Deliver(ctx, inapp.CreateParams{
			RecipientID: recipientID,
			ReportID:    e.ReportID,
			Kind:        inapp.KindNewMessage,
			Message:     text,
			OutboxSeq:   e.OutboxSeq,
		})
		if err != nil {
			return fmt.Errorf("deliver internal comment notification to %s: %w", recipientID, err)
		}
	}

	return m.ledger.MarkSucceeded(ctx, e.OutboxSeq)
}

// reporterShouldSee decides whether a transition is citizen-facing.
// Approval, rejection and resolution always are; suspension and resumption
// only when the policy flag says so.
func (m *Module) reporterShouldSee(e events.ReportStatusChanged) bool {
	switch e.NewStatus {
	case domain.StatusAssigned, domain.StatusRejected, domain.StatusResolved:
		return true
	case domain.StatusSuspended:
		return m.cfg.GetNotifyCitizenOnSuspend()
	case domain.StatusInProgress:
		if e.PreviousStatus == domain.StatusSuspended {
			return m.cfg.GetNotifyCitizenOnSuspend()
		}
		return true
	default:
		return false
	}
}

func (m *Module) emailOfflineReporter(ctx context.Context, reporterID uuid.UUID, summary ReportSummary, statusLine string) {
	if m.registry != nil && m.registry.IsOnline(reporterID) {
		return
	}
	contact := m.lookupContact(ctx, reporterID)
	if contact.Email == "" {
		return
	}
	trackingURL := m.buildTrackingURL(summary.TrackingToken)
	if err := m.sender.SendStatusUpdateEmail(ctx, contact.Email, summary.Title, statusLine, trackingURL); err != nil {
		m.log.Error("failed to send status update email", "error", err)
	}
}

func (m *Module) emailOfflineMessage(ctx context.Context, reporterID uuid.UUID, summary ReportSummary, body string) {
	if m.registry != nil && m.registry.IsOnline(reporterID) {
		return
	}
	contact := m.lookupContact(ctx, reporterID)
	if contact.Email == "" {
		return
	}
	trackingURL := m.buildTrackingURL(summary.TrackingToken)
	if err := m.sender.SendNewMessageEmail(ctx, contact.Email, summary.Title, truncate(body, 200), trackingURL); err != nil {
		m.log.Error("failed to send new message email", "error", err)
	}
}

func (m *Module) lookupContact(ctx context.Context, userID uuid.UUID) Contact {
	if m.contacts == nil || userID == uuid.Nil {
		return Contact{}
	}
	contact, err := m.contacts.GetContact(ctx, userID)
	if err != nil {
		m.log.Warn("failed to resolve contact", "userId", userID, "error", err)
		return Contact{}
	}
	return contact
}

func (m *Module) lookupSummary(ctx context.Context, reportID uuid.UUID) ReportSummary {
	if m.summaries == nil {
		return ReportSummary{}
	}
	summary, err := m.summaries.GetReportSummary(ctx, reportID)
	if err != nil {
		m.log.Warn("failed to resolve report summary", "reportId", reportID, "error", err)
		return ReportSummary{}
	}
	return summary
}

func (m *Module) buildTrackingURL(token string) string {
	if token == "" {
		return strings.TrimRight(m.cfg.GetAppBaseURL(), "/")
	}
	return strings.TrimRight(m.cfg.GetAppBaseURL(), "/") + "/track/" + token
}

// dedupRecipients removes duplicates and every excluded ID while keeping
// first-seen order.
func dedupRecipients(ids []uuid.UUID, exclude ...uuid.UUID) []uuid.UUID {
	excluded := make(map[uuid.UUID]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	result := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := excluded[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

func statusChangeText(title string, e events.ReportStatusChanged) string {
	if title == "" {
		title = "la sua segnalazione"
	}
	switch e.NewStatus {
	case domain.StatusAssigned:
		return fmt.Sprintf("La segnalazione %q è stata approvata e presa in carico.", title)
	case domain.StatusRejected:
		return fmt.Sprintf("La segnalazione %q è stata respinta: %s", title, e.Motivation)
	case domain.StatusInProgress:
		if e.PreviousStatus == domain.StatusSuspended {
			return fmt.Sprintf("I lavori sulla segnalazione %q sono ripresi.", title)
		}
		return fmt.Sprintf("I lavori sulla segnalazione %q sono iniziati.", title)
	case domain.StatusSuspended:
		return fmt.Sprintf("I lavori sulla segnalazione %q sono stati sospesi.", title)
	case domain.StatusResolved:
		return fmt.Sprintf("La segnalazione %q è stata risolta.", title)
	default:
		return fmt.Sprintf("La segnalazione %q è passata allo stato %s.", title, e.NewStatus)
	}
}

func newMessageText(title, body string) string {
	if title == "" {
		title = "una segnalazione"
	}
	return fmt.Sprintf("Nuovo messaggio su %q: %s", title, truncate(body, 140))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
