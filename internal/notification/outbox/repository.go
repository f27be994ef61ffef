// Package outbox is the commit-implies-notify ledger. A row is inserted in
// the same transaction as the status or message write it describes, so a
// committed trigger can never lose its notification fan-out. Rows carry a
// bigserial seq which totally orders events per report.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	errRepoNotConfigured        = "outbox repository not configured"
)

// Record is one ledger row awaiting (or done with) notification fan-out.
type Record struct {
	Seq       int64
	Kind      string
	ReportID  string
	Payload   json.RawMessage
	Status    Status
	Attempts  int
	CreatedAt time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertTx writes a ledger row inside the caller's transaction and returns
// its seq. The caller commits the row together with the triggering write.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, kind, reportID string, payload any) (int64, error) {
	if kind == "" {
		return 0, fmt.Errorf("kind is required")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	var seq int64
	err = tx.QueryRow(ctx,
		`INSERT INTO notification_outbox (kind, report_id, payload, status)
		 VALUES ($1, $2, $3, 'pending')
		 RETURNING seq`,
		kind, reportID, payloadBytes,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// GetBySeq loads one ledger row.
func (r *Repository) GetBySeq(ctx context.Context, seq int64) (Record, error) {
	if r == nil || r.pool == nil {
		return Record{}, errors.New(errRepoNotConfigured)
	}

	var rec Record
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT seq, kind, report_id, payload, status, attempts, created_at
		 FROM notification_outbox
		 WHERE seq = $1`,
		seq,
	).Scan(&rec.Seq, &rec.Kind, &rec.ReportID, &rec.Payload, &status, &rec.Attempts, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

// ClaimStale picks pending rows older than minAge whose in-request fan-out
// apparently died, bumps their attempt count, and returns them in seq order
// so per-report delivery order is preserved on redispatch.
func (r *Repository) ClaimStale(ctx context.Context, minAge time.Duration, limit int) ([]Record, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT seq
		FROM notification_outbox
		WHERE status = 'pending' AND created_at < now() - $1::interval
		ORDER BY seq ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	UPDATE notification_outbox o
	SET attempts = o.attempts + 1, updated_at = now()
	FROM cte
	WHERE o.seq = cte.seq
	RETURNING o.seq, o.kind, o.report_id, o.payload, o.status, o.attempts, o.created_at`,
		fmt.Sprintf("%d seconds", int(minAge.Seconds())), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.Seq, &rec.Kind, &rec.ReportID, &rec.Payload, &status, &rec.Attempts, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		results = append(results, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// MarkSucceeded records a completed fan-out.
func (r *Repository) MarkSucceeded(ctx context.Context, seq int64) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox
		 SET status = 'succeeded', last_error = NULL, updated_at = now()
		 WHERE seq = $1`,
		seq,
	)
	return err
}

// MarkFailed records a fan-out failure; the row stays visible for operators
// but is no longer retried.
func (r *Repository) MarkFailed(ctx context.Context, seq int64, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox
		 SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE seq = $1`,
		seq, lastError,
	)
	return err
}

// MarkPending returns a claimed row to the pending pool after a transient
// redispatch error.
func (r *Repository) MarkPending(ctx context.Context, seq int64, lastError *string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox
		 SET status = 'pending', last_error = $2, updated_at = now()
		 WHERE seq = $1`,
		seq, lastError,
	)
	return err
}
