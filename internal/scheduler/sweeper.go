package scheduler

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"civicreport_backend/internal/notification/outbox"
	"civicreport_backend/platform/config"
	"civicreport_backend/platform/logger"
)

const (
	sweepInterval = 5 * time.Second
	// rows younger than this are assumed to still be in the fast path
	sweepMinAge    = 30 * time.Second
	sweepBatchSize = 50
)

// Sweeper claims stalled outbox rows and enqueues redispatch tasks. It is
// safe to run several sweepers; claiming uses row locks with SKIP LOCKED.
type Sweeper struct {
	client *asynq.Client
	queue  string
	repo   *outbox.Repository
	log    *logger.Logger
}

func NewSweeper(cfg config.SchedulerConfig, pool *pgxpool.Pool, log *logger.Logger) (*Sweeper, error) {
	opt, queue, err := queueFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &Sweeper{
		client: asynq.NewClient(opt),
		queue:  queue,
		repo:   outbox.New(pool),
		log:    log,
	}, nil
}

func (s *Sweeper) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.client == nil {
		return
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		records, err := s.repo.ClaimStale(ctx, sweepMinAge, sweepBatchSize)
		if err != nil {
			s.log.Warn("outbox claim failed", "error", err)
			continue
		}

		for _, rec := range records {
			task, err := NewNotificationOutboxDueTask(NotificationOutboxDuePayload{Seq: rec.Seq})
			if err != nil {
				msg := err.Error()
				_ = s.repo.MarkPending(ctx, rec.Seq, &msg)
				continue
			}

			if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue(s.queue)); err != nil {
				msg := err.Error()
				_ = s.repo.MarkPending(ctx, rec.Seq, &msg)
				continue
			}

			s.log.Info("outbox row queued for redispatch", "seq", rec.Seq, "kind", rec.Kind)
		}
	}
}
