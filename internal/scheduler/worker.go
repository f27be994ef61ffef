package scheduler

import (
	"context"

	"github.com/hibiken/asynq"

	"civicreport_backend/platform/config"
	"civicreport_backend/platform/logger"
)

// Dispatcher re-runs the notification fan-out for one outbox row.
// Satisfied by the notification module.
type Dispatcher interface {
	Dispatch(ctx context.Context, seq int64) error
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	dispatcher Dispatcher
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, dispatcher Dispatcher, log *logger.Logger) (*Worker, error) {
	opt, queue, err := queueFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:     server,
		mux:        mux,
		dispatcher: dispatcher,
		log:        log,
	}

	mux.HandleFunc(TaskNotificationOutboxDue, w.handleNotificationOutboxDue)

	return w, nil
}

func (w *Worker) handleNotificationOutboxDue(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseNotificationOutboxDuePayload(task)
	if err != nil {
		return err
	}

	if err := w.dispatcher.Dispatch(ctx, payload.Seq); err != nil {
		w.log.Warn("outbox redispatch failed", "seq", payload.Seq, "error", err)
		return err
	}
	return nil
}

// Run starts the worker and blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}

	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
