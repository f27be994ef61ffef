// Package auth provides the authentication bounded context module.
// This file defines the module that encapsulates all auth setup and route registration.
package auth

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"civicreport_backend/internal/auth/adapter"
	"civicreport_backend/internal/auth/handler"
	"civicreport_backend/internal/auth/repository"
	"civicreport_backend/internal/auth/service"
	"civicreport_backend/internal/email"
	apphttp "civicreport_backend/internal/http"
	"civicreport_backend/internal/notification"
	"civicreport_backend/platform/config"
)

// Module is the auth bounded context module implementing http.Module.
type Module struct {
	handler  *handler.Handler
	service  *service.Service
	contacts *adapter.ContactProvider
}

// NewModule creates and initializes the auth module with all its dependencies.
func NewModule(pool *pgxpool.Pool, cfg config.AuthServiceConfig, mailer email.Sender) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, cfg, mailer)

	return &Module{
		handler:  handler.New(svc),
		service:  svc,
		contacts: adapter.NewContactProvider(repo),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "auth"
}

// Service returns the auth service for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Contacts exposes user email resolution for the notification dispatcher.
func (m *Module) Contacts() notification.ContactReader {
	return m.contacts
}

// RegisterRoutes mounts auth routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Public auth routes with stricter rate limiting
	authGroup := ctx.Public.Group("/auth")
	authGroup.Use(ctx.AuthRateLimiter.RateLimit())
	m.handler.RegisterRoutes(authGroup)

	// Protected user routes
	ctx.Protected.GET("/users/me", m.handler.GetMe)
	ctx.Protected.PATCH("/users/me", m.handler.UpdateMe)
	ctx.Protected.POST("/users/me/password", m.handler.ChangePassword)

	// Admin routes
	ctx.Admin.GET("/users", m.handler.ListUsers)
	ctx.Admin.PUT("/users/:id/role", m.handler.SetUserRole)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
