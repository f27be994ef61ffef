package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"civicreport_backend/internal/assignment"
	"civicreport_backend/internal/auth"
	"civicreport_backend/internal/email"
	"civicreport_backend/internal/events"
	"civicreport_backend/internal/notification"
	"civicreport_backend/internal/reports"
	"civicreport_backend/internal/scheduler"
	"civicreport_backend/platform/config"
	"civicreport_backend/platform/db"
	"civicreport_backend/platform/logger"
)

// The worker binary runs the notification outbox sweeper and the asynq
// consumer that dispatches claimed outbox rows. It shares the modules'
// wiring with the API binary so the fan-out resolves recipients the same
// way in both processes.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)
	sender := email.NewSender(cfg)

	notificationModule := notification.New(pool, sender, cfg, log)
	authModule := auth.NewModule(pool, cfg, sender)
	assignmentModule := assignment.NewModule(pool)
	reportsModule := reports.NewModule(
		pool,
		eventBus,
		assignmentModule.Service(),
		assignmentModule.Service(),
		nil,
		cfg,
		log,
	)

	notificationModule.SetTechnicianResolver(assignmentModule.Service())
	notificationModule.SetParticipantReader(reportsModule.Participants())
	notificationModule.SetReportSummaryReader(reportsModule.Summaries())
	notificationModule.SetContactReader(authModule.Contacts())

	sweeper, err := scheduler.NewSweeper(cfg, pool, log)
	if err != nil {
		log.Error("failed to initialize outbox sweeper", "error", err)
		panic("failed to initialize outbox sweeper: " + err.Error())
	}
	defer sweeper.Close()

	worker, err := scheduler.NewWorker(cfg, notificationModule, log)
	if err != nil {
		log.Error("failed to initialize task worker", "error", err)
		panic("failed to initialize task worker: " + err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped with error", "error", err)
		// Give in-flight log writes a moment before exiting non-zero.
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}
	log.Info("worker shut down cleanly")
}
