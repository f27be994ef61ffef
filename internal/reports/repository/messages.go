package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"civicreport_backend/internal/events"
	"civicreport_backend/internal/reports/domain"
)

// AddMessage appends a public message and its ledger row in one
// transaction. The thread is append-only; there is no update or delete.
func (r *Repo) AddMessage(ctx context.Context, reportID, senderID uuid.UUID, body string) (domain.Message, int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Message{}, 0, fmt.Errorf("begin add message: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var msg domain.Message
	var reporterID uuid.UUID
	var category string
	err = tx.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO report_messages (report_id, sender_id, body)
			VALUES ($1, $2, $3)
			RETURNING id, report_id, sender_id, body, created_at
		)
		SELECT i.id, i.report_id, i.sender_id, i.body, i.created_at, r.reporter_id, r.category
		FROM inserted i
		JOIN reports r ON r.id = i.report_id`,
		reportID, senderID, body,
	).Scan(&msg.ID, &msg.ReportID, &msg.SenderID, &msg.Body, &msg.CreatedAt, &reporterID, &category)
	if err != nil {
		return domain.Message{}, 0, fmt.Errorf("insert public message: %w", err)
	}

	event := events.PublicMessagePosted{
		BaseEvent:  events.NewBaseEvent(),
		ReportID:   msg.ReportID,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReporterID: reporterID,
		Category:   domain.Category(category),
		Body:       msg.Body,
	}
	seq, err := r.outbox.InsertTx(ctx, tx, event.EventName(), reportID.String(), event)
	if err != nil {
		return domain.Message{}, 0, fmt.Errorf("insert message outbox row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Message{}, 0, fmt.Errorf("commit add message: %w", err)
	}

	return msg, seq, nil
}

// AddInternalComment appends a staff-only comment and its ledger row in
// one transaction.
func (r *Repo) AddInternalComment(ctx context.Context, reportID, senderID uuid.UUID, body string) (domain.InternalComment, int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.InternalComment{}, 0, fmt.Errorf("begin add internal comment: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cmt domain.InternalComment
	var reporterID uuid.UUID
	var category string
	err = tx.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO report_internal_comments (report_id, sender_id, body)
			VALUES ($1, $2, $3)
			RETURNING id, report_id, sender_id, body, created_at
		)
		SELECT i.id, i.report_id, i.sender_id, i.body, i.created_at, r.reporter_id, r.category
		FROM inserted i
		JOIN reports r ON r.id = i.report_id`,
		reportID, senderID, body,
	).Scan(&cmt.ID, &cmt.ReportID, &cmt.SenderID, &cmt.Body, &cmt.CreatedAt, &reporterID, &category)
	if err != nil {
		return domain.InternalComment{}, 0, fmt.Errorf("insert internal comment: %w", err)
	}

	event := events.InternalCommentPosted{
		BaseEvent:  events.NewBaseEvent(),
		ReportID:   cmt.ReportID,
		CommentID:  cmt.ID,
		SenderID:   cmt.SenderID,
		ReporterID: reporterID,
		Category:   domain.Category(category),
		Body:       cmt.Body,
	}
	seq, err := r.outbox.InsertTx(ctx, tx, event.EventName(), reportID.String(), event)
	if err != nil {
		return domain.InternalComment{}, 0, fmt.Errorf("insert comment outbox row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.InternalComment{}, 0, fmt.Errorf("commit add internal comment: %w", err)
	}

	return cmt, seq, nil
}

// ListMessages returns the public thread in chronological order.
func (r *Repo) ListMessages(ctx context.Context, reportID uuid.UUID) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, report_id, sender_id, body, created_at
		FROM report_messages
		WHERE report_id = $1
		ORDER BY created_at ASC, id ASC`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list public messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ReportID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan public message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListInternalComments returns the staff thread in chronological order.
// Handlers gate this behind staff roles; the citizen surface never calls it.
func (r *Repo) ListInternalComments(ctx context.Context, reportID uuid.UUID) ([]domain.InternalComment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, report_id, sender_id, body, created_at
		FROM report_internal_comments
		WHERE report_id = $1
		ORDER BY created_at ASC, id ASC`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list internal comments: %w", err)
	}
	defer rows.Close()

	comments := make([]domain.InternalComment, 0)
	for rows.Next() {
		var c domain.InternalComment
		if err := rows.Scan(&c.ID, &c.ReportID, &c.SenderID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan internal comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// PublicParticipants returns the reporter plus everyone who posted a
// public message on the report.
func (r *Repo) PublicParticipants(ctx context.Context, reportID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT reporter_id FROM reports WHERE id = $1
		UNION
		SELECT DISTINCT sender_id FROM report_messages WHERE report_id = $1`,
		reportID)
	if err != nil {
		return nil, fmt.Errorf("resolve public participants: %w", err)
	}
	defer rows.Close()

	return scanUUIDs(rows)
}

// InternalParticipants returns prior internal commenters plus the members
// of the assigned external office. The reporter is structurally excluded:
// neither source can contain a citizen.
func (r *Repo) InternalParticipants(ctx context.Context, reportID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT sender_id FROM report_internal_comments WHERE report_id = $1
		UNION
		SELECT m.user_id
		FROM external_office_members m
		JOIN reports r ON r.external_office_id = m.office_id
		WHERE r.id = $1`,
		reportID)
	if err != nil {
		return nil, fmt.Errorf("resolve internal participants: %w", err)
	}
	defer rows.Close()

	return scanUUIDs(rows)
}

func scanUUIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
