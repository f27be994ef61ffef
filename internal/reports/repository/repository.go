package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"civicreport_backend/internal/events"
	"civicreport_backend/internal/notification/outbox"
	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/internal/reports/lifecycle"
	"civicreport_backend/platform/apperr"
)

const reportNotFoundMessage = "report not found"

const reportColumns = `id, title, description, category, address, latitude, longitude,
	anonymous, reporter_id, contact_phone, photo_refs, status,
	external_office_id, tracking_token, created_at, updated_at`

// Repo implements the Repository interface with PostgreSQL. Lifecycle
// writes and their outbox ledger rows commit in one transaction.
type Repo struct {
	pool   *pgxpool.Pool
	outbox *outbox.Repository
}

// New creates a new reports repository.
func New(pool *pgxpool.Pool, outboxRepo *outbox.Repository) *Repo {
	return &Repo{pool: pool, outbox: outboxRepo}
}

var _ Repository = (*Repo)(nil)

func scanReport(row pgx.Row) (domain.Report, error) {
	var rep domain.Report
	var contactPhone *string
	var trackingToken *string
	err := row.Scan(
		&rep.ID, &rep.Title, &rep.Description, &rep.Category, &rep.Address,
		&rep.Latitude, &rep.Longitude, &rep.Anonymous, &rep.ReporterID,
		&contactPhone, &rep.PhotoRefs, &rep.Status, &rep.ExternalOfficeID,
		&trackingToken, &rep.CreatedAt, &rep.UpdatedAt,
	)
	if err != nil {
		return domain.Report{}, err
	}
	if contactPhone != nil {
		rep.ContactPhone = *contactPhone
	}
	if trackingToken != nil {
		rep.TrackingToken = *trackingToken
	}
	return rep, nil
}

// Create inserts the report and its submission ledger row in one
// transaction and returns the committed outbox seq.
func (r *Repo) Create(ctx context.Context, p CreateParams) (domain.Report, int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Report{}, 0, fmt.Errorf("begin create report: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO reports (title, description, category, address, latitude, longitude,
			anonymous, reporter_id, contact_phone, photo_refs, status, tracking_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)
		RETURNING `+reportColumns,
		p.Title, p.Description, string(p.Category), p.Address, p.Latitude, p.Longitude,
		p.Anonymous, p.ReporterID, p.ContactPhone, p.PhotoRefs,
		string(domain.StatusPendingApproval), p.TrackingToken,
	)
	rep, err := scanReport(row)
	if err != nil {
		return domain.Report{}, 0, fmt.Errorf("insert report: %w", err)
	}

	event := events.ReportSubmitted{
		BaseEvent:     events.NewBaseEvent(),
		ReportID:      rep.ID,
		ReporterID:    rep.ReporterID,
		Category:      rep.Category,
		Title:         rep.Title,
		TrackingToken: rep.TrackingToken,
	}
	seq, err := r.outbox.InsertTx(ctx, tx, event.EventName(), rep.ID.String(), event)
	if err != nil {
		return domain.Report{}, 0, fmt.Errorf("insert submission outbox row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Report{}, 0, fmt.Errorf("commit create report: %w", err)
	}

	return rep, seq, nil
}

// TransitionStatus performs the guarded status write. The UPDATE only
// matches when the row still holds the expected status; zero affected rows
// on an existing report means another actor won the race. Rejection record
// and ledger row commit with the transition.
func (r *Repo) TransitionStatus(ctx context.Context, p TransitionParams) (domain.Report, int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Report{}, 0, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE reports
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+reportColumns,
		p.ReportID, string(p.Expected), string(p.Next),
	)
	rep, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Report{}, 0, r.classifyTransitionMiss(ctx, p)
	}
	if err != nil {
		return domain.Report{}, 0, fmt.Errorf("transition report status: %w", err)
	}

	if p.RequireTechniciansFor != "" {
		var hasTechnician bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM technician_categories WHERE category = $1)`,
			string(p.RequireTechniciansFor),
		).Scan(&hasTechnician)
		if err != nil {
			return domain.Report{}, 0, fmt.Errorf("check technician scope: %w", err)
		}
		if !hasTechnician {
			// Rolls back via the deferred Rollback.
			return domain.Report{}, 0, lifecycle.NoAssignee(p.RequireTechniciansFor)
		}
	}

	if p.Next == domain.StatusRejected {
		_, err = tx.Exec(ctx, `
			INSERT INTO rejection_records (report_id, officer_id, motivation)
			VALUES ($1, $2, $3)`,
			rep.ID, p.ActorID, p.Motivation,
		)
		if err != nil {
			return domain.Report{}, 0, fmt.Errorf("insert rejection record: %w", err)
		}
	}

	event := events.ReportStatusChanged{
		BaseEvent:      events.NewBaseEvent(),
		ReportID:       rep.ID,
		ReporterID:     rep.ReporterID,
		Category:       rep.Category,
		PreviousStatus: p.Expected,
		NewStatus:      p.Next,
		ActorID:        p.ActorID,
		ActorRole:      p.ActorRole,
		Motivation:     p.Motivation,
	}
	seq, err := r.outbox.InsertTx(ctx, tx, event.EventName(), rep.ID.String(), event)
	if err != nil {
		return domain.Report{}, 0, fmt.Errorf("insert transition outbox row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Report{}, 0, fmt.Errorf("commit transition: %w", err)
	}

	return rep, seq, nil
}

// classifyTransitionMiss distinguishes a missing report from a lost race.
func (r *Repo) classifyTransitionMiss(ctx context.Context, p TransitionParams) error {
	var current string
	err := r.pool.QueryRow(ctx, `SELECT status FROM reports WHERE id = $1`, p.ReportID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(reportNotFoundMessage)
	}
	if err != nil {
		return fmt.Errorf("inspect report after transition miss: %w", err)
	}
	return apperr.Conflict(fmt.Sprintf("report status is %s, not %s", current, p.Expected)).
		WithCode("stale_status").
		WithDetails(map[string]any{
			"currentStatus":  current,
			"expectedStatus": string(p.Expected),
		})
}

// AssignOffice sets or clears the external office while the report is in
// one of the allowed statuses. It shares the CAS discipline of the status
// writes so a terminal report can never gain an office.
func (r *Repo) AssignOffice(ctx context.Context, reportID uuid.UUID, officeID *uuid.UUID, allowed []domain.Status) (domain.Report, error) {
	states := make([]string, 0, len(allowed))
	for _, s := range allowed {
		states = append(states, string(s))
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE reports
		SET external_office_id = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+reportColumns,
		reportID, officeID, states,
	)
	rep, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var current string
		lookupErr := r.pool.QueryRow(ctx, `SELECT status FROM reports WHERE id = $1`, reportID).Scan(&current)
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return domain.Report{}, apperr.NotFound(reportNotFoundMessage)
		}
		if lookupErr != nil {
			return domain.Report{}, fmt.Errorf("inspect report after assign miss: %w", lookupErr)
		}
		return domain.Report{}, apperr.Conflict(fmt.Sprintf("office assignment not allowed in status %s", current)).
			WithCode("stale_status")
	}
	if err != nil {
		return domain.Report{}, fmt.Errorf("assign external office: %w", err)
	}

	return rep, nil
}

// GetByID retrieves a report by its ID.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (domain.Report, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	rep, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Report{}, apperr.NotFound(reportNotFoundMessage)
	}
	if err != nil {
		return domain.Report{}, fmt.Errorf("get report by id: %w", err)
	}
	return rep, nil
}

// GetByTrackingToken retrieves a report by its public tracking token.
func (r *Repo) GetByTrackingToken(ctx context.Context, token string) (domain.Report, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE tracking_token = $1`, token)
	rep, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Report{}, apperr.NotFound(reportNotFoundMessage)
	}
	if err != nil {
		return domain.Report{}, fmt.Errorf("get report by tracking token: %w", err)
	}
	return rep, nil
}

// GetRejection retrieves the rejection record of a rejected report.
func (r *Repo) GetRejection(ctx context.Context, reportID uuid.UUID) (domain.RejectionRecord, error) {
	var rec domain.RejectionRecord
	err := r.pool.QueryRow(ctx, `
		SELECT report_id, officer_id, motivation, created_at
		FROM rejection_records
		WHERE report_id = $1`, reportID,
	).Scan(&rec.ReportID, &rec.OfficerID, &rec.Motivation, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RejectionRecord{}, apperr.NotFound("rejection record not found")
	}
	if err != nil {
		return domain.RejectionRecord{}, fmt.Errorf("get rejection record: %w", err)
	}
	return rec, nil
}

// ListByReporter lists a citizen's own reports, newest first.
func (r *Repo) ListByReporter(ctx context.Context, reporterID uuid.UUID, p ListParams) ([]domain.Report, int, error) {
	return r.list(ctx, `reporter_id = $1`, []any{reporterID}, p)
}

// ListByStatus lists reports in one status, oldest first so queues drain
// in arrival order.
func (r *Repo) ListByStatus(ctx context.Context, status domain.Status, p ListParams) ([]domain.Report, int, error) {
	return r.listAscending(ctx, `status = $1`, []any{string(status)}, p)
}

// ListByCategories lists reports whose category and status match, oldest
// first. This backs the technician work queue.
func (r *Repo) ListByCategories(ctx context.Context, categories []domain.Category, statuses []domain.Status, p ListParams) ([]domain.Report, int, error) {
	cats := make([]string, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, string(c))
	}
	states := make([]string, 0, len(statuses))
	for _, s := range statuses {
		states = append(states, string(s))
	}
	return r.listAscending(ctx, `category = ANY($1) AND status = ANY($2)`, []any{cats, states}, p)
}

func (r *Repo) list(ctx context.Context, where string, args []any, p ListParams) ([]domain.Report, int, error) {
	return r.listOrdered(ctx, where, "created_at DESC", args, p)
}

func (r *Repo) listAscending(ctx context.Context, where string, args []any, p ListParams) ([]domain.Report, int, error) {
	return r.listOrdered(ctx, where, "created_at ASC", args, p)
}

func (r *Repo) listOrdered(ctx context.Context, where, order string, args []any, p ListParams) ([]domain.Report, int, error) {
	if p.Limit < 1 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM reports WHERE ` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM reports WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		reportColumns, where, order, len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]domain.Report, 0)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report row: %w", err)
		}
		reports = append(reports, rep)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate report rows: %w", rows.Err())
	}

	return reports, total, nil
}
