package assignment

import (
	"github.com/jackc/pgx/v5/pgxpool"

	apphttp "civicreport_backend/internal/http"
)

// Module is the assignment bounded context module implementing http.Module.
type Module struct {
	svc     *Service
	handler *Handler
}

// NewModule creates and initializes the assignment module.
func NewModule(pool *pgxpool.Pool) *Module {
	svc := NewService(NewRepository(pool))
	return &Module{
		svc:     svc,
		handler: NewHandler(svc),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "assignment"
}

// Service returns the assignment service. The reports module uses it as
// its technician and office directory; the notification module uses it to
// resolve category fan-out.
func (m *Module) Service() *Service {
	return m.svc
}

// RegisterRoutes mounts assignment administration routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Admin.Group("/assignment"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
