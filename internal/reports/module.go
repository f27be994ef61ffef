// Package reports provides the issue reporting bounded context module:
// submission, the approval and work lifecycle, threads, and photo intake.
package reports

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"civicreport_backend/internal/adapters/storage"
	"civicreport_backend/internal/events"
	apphttp "civicreport_backend/internal/http"
	"civicreport_backend/internal/notification"
	"civicreport_backend/internal/notification/outbox"
	"civicreport_backend/internal/reports/handler"
	"civicreport_backend/internal/reports/photos"
	"civicreport_backend/internal/reports/repository"
	"civicreport_backend/internal/reports/service"
	"civicreport_backend/platform/config"
	"civicreport_backend/platform/logger"
)

// Module is the reports bounded context module implementing http.Module.
type Module struct {
	repo          *repository.Repo
	svc           *service.Service
	handler       *handler.Handler
	publicHandler *handler.PublicHandler
	photoHandler  *handler.PhotoHandler
}

// NewModule creates and initializes the reports module. The technician and
// office directories come from the assignment module; photoStore may be nil
// when object storage is disabled.
func NewModule(
	pool *pgxpool.Pool,
	eventBus events.Bus,
	technicians service.TechnicianDirectory,
	offices service.OfficeDirectory,
	photoStore storage.PhotoStore,
	cfg *config.Config,
	log *logger.Logger,
) *Module {
	repo := repository.New(pool, outbox.New(pool))
	svc := service.New(repo, eventBus, technicians, offices, log)

	m := &Module{
		repo:          repo,
		svc:           svc,
		handler:       handler.New(svc),
		publicHandler: handler.NewPublicHandler(svc, cfg.GetAppBaseURL()),
	}

	if photoStore != nil {
		photoSvc := photos.New(photoStore, cfg.GetMinIOBucketReportPhotos(), log)
		m.photoHandler = handler.NewPhotoHandler(photoSvc)
	}

	return m
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "reports"
}

// Service returns the reports service for external use.
func (m *Module) Service() *service.Service {
	return m.svc
}

// Participants exposes the thread participant queries consumed by the
// notification fan-out.
func (m *Module) Participants() *repository.Repo {
	return m.repo
}

// Summaries exposes report titles and tracking tokens for notification
// rendering.
func (m *Module) Summaries() notification.ReportSummaryReader {
	return summaryAdapter{repo: m.repo}
}

// RegisterRoutes mounts reports routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/reports"))
	if m.photoHandler != nil {
		m.photoHandler.RegisterRoutes(ctx.Protected.Group("/report-photos"))
	}
	m.publicHandler.RegisterRoutes(ctx.Public.Group("/track"))
}

type summaryAdapter struct {
	repo repository.ReportReader
}

func (a summaryAdapter) GetReportSummary(ctx context.Context, reportID uuid.UUID) (notification.ReportSummary, error) {
	rep, err := a.repo.GetByID(ctx, reportID)
	if err != nil {
		return notification.ReportSummary{}, err
	}
	return notification.ReportSummary{Title: rep.Title, TrackingToken: rep.TrackingToken}, nil
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
