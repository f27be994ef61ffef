package inapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"civicreport_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opCreate      = "notification.inapp.repository.create"
	opList        = "notification.inapp.repository.list"
	opListUnread  = "notification.inapp.repository.list_unread"
	opCountUnread = "notification.inapp.repository.count_unread"
	opMarkRead    = "notification.inapp.repository.mark_read"
	opMarkAllRead = "notification.inapp.repository.mark_all_read"

	errRepoNotConfigured = "in-app notification repository not configured"
	errUserIDRequired    = "userId is required"
)

// Kind distinguishes what a notification announces.
type Kind string

const (
	KindStatusUpdate Kind = "STATUS_UPDATE"
	KindNewMessage   Kind = "NEW_MESSAGE"
)

// Notification is a persisted, per-recipient record of a status change or
// new message. It is never deleted; it accumulates as an audit trail of
// what was pushed. IsRead is mutated only by the mark-read operation and
// only unread→read.
type Notification struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipientId"`
	ReportID    uuid.UUID `json:"reportId"`
	Kind        Kind      `json:"kind"`
	Message     string    `json:"message"`
	IsRead      bool      `json:"isRead"`
	OutboxSeq   int64     `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreateParams describes one notification row to persist.
type CreateParams struct {
	RecipientID uuid.UUID
	ReportID    uuid.UUID
	Kind        Kind
	Message     string
	// OutboxSeq keys the idempotent insert: one row per (seq, recipient)
	// regardless of how many times the fan-out runs.
	OutboxSeq int64
}

// Store is the persistence contract for notifications. The pgx Repository
// implements it; tests substitute an in-memory fake.
type Store interface {
	Create(ctx context.Context, p CreateParams) (Notification, bool, error)
	ListUnread(ctx context.Context, userID uuid.UUID) ([]Notification, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Notification, int, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
}

// Repository is the PostgreSQL Store implementation.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// Create persists one notification row. The insert is idempotent on
// (outbox_seq, recipient_id); the bool result reports whether a new row was
// actually written.
func (r *Repository) Create(ctx context.Context, p CreateParams) (Notification, bool, error) {
	if r == nil || r.pool == nil {
		return Notification{}, false, apperr.Internal(errRepoNotConfigured).WithOp(opCreate)
	}
	if p.RecipientID == uuid.Nil || p.ReportID == uuid.Nil {
		return Notification{}, false, apperr.Validation("recipientId and reportId are required").WithOp(opCreate)
	}
	if p.Message == "" {
		return Notification{}, false, apperr.Validation("message is required").WithOp(opCreate)
	}

	var n Notification
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (recipient_id, report_id, kind, message, outbox_seq)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (outbox_seq, recipient_id) DO NOTHING
		RETURNING id, recipient_id, report_id, kind, message, is_read, outbox_seq, created_at
	`, p.RecipientID, p.ReportID, string(p.Kind), p.Message, p.OutboxSeq).Scan(
		&n.ID, &n.RecipientID, &n.ReportID, &n.Kind, &n.Message, &n.IsRead, &n.OutboxSeq, &n.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict: an earlier fan-out already wrote this row.
		existing, lookupErr := r.getBySeqAndRecipient(ctx, p.OutboxSeq, p.RecipientID)
		if lookupErr != nil {
			return Notification{}, false, lookupErr
		}
		return existing, false, nil
	}
	if err != nil {
		return Notification{}, false, apperr.Internal(fmt.Sprintf("create notification failed: %v", err)).WithOp(opCreate)
	}

	return n, true, nil
}

func (r *Repository) getBySeqAndRecipient(ctx context.Context, seq int64, recipientID uuid.UUID) (Notification, error) {
	var n Notification
	err := r.pool.QueryRow(ctx, `
		SELECT id, recipient_id, report_id, kind, message, is_read, outbox_seq, created_at
		FROM notifications
		WHERE outbox_seq = $1 AND recipient_id = $2
	`, seq, recipientID).Scan(
		&n.ID, &n.RecipientID, &n.ReportID, &n.Kind, &n.Message, &n.IsRead, &n.OutboxSeq, &n.CreatedAt,
	)
	if err != nil {
		return Notification{}, apperr.Internal(fmt.Sprintf("lookup notification failed: %v", err)).WithOp(opCreate)
	}
	return n, nil
}

// ListUnread returns the recipient's unread notifications in delivery order
// (outbox seq ascending), used for replay on reconnect.
func (r *Repository) ListUnread(ctx context.Context, userID uuid.UUID) ([]Notification, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opListUnread)
	}
	if userID == uuid.Nil {
		return nil, apperr.Validation(errUserIDRequired).WithOp(opListUnread)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, recipient_id, report_id, kind, message, is_read, outbox_seq, created_at
		FROM notifications
		WHERE recipient_id = $1 AND is_read = FALSE
		ORDER BY outbox_seq ASC
	`, userID)
	if err != nil {
		return nil, apperr.Internal(fmt.Sprintf("list unread notifications failed: %v", err)).WithOp(opListUnread)
	}
	defer rows.Close()

	return scanNotifications(rows, opListUnread)
}

// List returns a page of the recipient's notifications, newest first.
func (r *Repository) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Notification, int, error) {
	if r == nil || r.pool == nil {
		return nil, 0, apperr.Internal(errRepoNotConfigured).WithOp(opList)
	}
	if userID == uuid.Nil {
		return nil, 0, apperr.Validation(errUserIDRequired).WithOp(opList)
	}

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, apperr.Internal(fmt.Sprintf("count notifications failed: %v", err)).WithOp(opList)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, recipient_id, report_id, kind, message, is_read, outbox_seq, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY outbox_seq DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(fmt.Sprintf("list notifications query failed: %v", err)).WithOp(opList)
	}
	defer rows.Close()

	items, err := scanNotifications(rows, opList)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CountUnread returns the recipient's unread count.
func (r *Repository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	if r == nil || r.pool == nil {
		return 0, apperr.Internal(errRepoNotConfigured).WithOp(opCountUnread)
	}
	if userID == uuid.Nil {
		return 0, apperr.Validation(errUserIDRequired).WithOp(opCountUnread)
	}

	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND is_read = FALSE
	`, userID).Scan(&count)
	if err != nil {
		return 0, apperr.Internal(fmt.Sprintf("count unread notifications failed: %v", err)).WithOp(opCountUnread)
	}

	return count, nil
}

// MarkRead flips a notification to read. The flag is monotonic: the update
// only ever moves unread→read, and repeating the call is a no-op, so the
// operation is naturally idempotent.
func (r *Repository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opMarkRead)
	}
	if userID == uuid.Nil || notificationID == uuid.Nil {
		return apperr.Validation("userId and notificationId are required").WithOp(opMarkRead)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, now())
		WHERE id = $1 AND recipient_id = $2
	`, notificationID, userID)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("mark notification read failed: %v", err)).WithOp(opMarkRead)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1 AND recipient_id = $2)`,
			notificationID, userID).Scan(&exists); err == nil && !exists {
			return apperr.NotFound("notification not found").WithOp(opMarkRead)
		}
	}

	return nil
}

// MarkAllRead flips every unread notification for the recipient.
func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opMarkAllRead)
	}
	if userID == uuid.Nil {
		return apperr.Validation(errUserIDRequired).WithOp(opMarkAllRead)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, now())
		WHERE recipient_id = $1 AND is_read = FALSE
	`, userID)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("mark all notifications read failed: %v", err)).WithOp(opMarkAllRead)
	}

	return nil
}

func scanNotifications(rows pgx.Rows, op string) ([]Notification, error) {
	items := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.ReportID, &n.Kind, &n.Message, &n.IsRead, &n.OutboxSeq, &n.CreatedAt); err != nil {
			return nil, apperr.Internal(fmt.Sprintf("scan notifications failed: %v", err)).WithOp(op)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(fmt.Sprintf("iterate notifications failed: %v", err)).WithOp(op)
	}
	return items, nil
}
