package rulesets

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"battlescope/internal/rulesets/routes"
	"battlescope/internal/rulesets/services"
	"battlescope/pkg/database"
	"battlescope/pkg/module"
)

// Module represents the rulesets module
type Module struct {
	*module.BaseModule

	service *services.Service
	routes  *routes.Routes
}

// NewModule creates a new rulesets module instance
func NewModule(mongodb *database.MongoDB) (*Module, error) {
	baseModule := module.NewBaseModule("rulesets")

	service, err := services.NewService(mongodb)
	if err != nil {
		return nil, err
	}

	return &Module{
		BaseModule: baseModule,
		service:    service,
		routes:     routes.NewRoutes(service),
	}, nil
}

// Initialize creates indexes and loads the active ruleset snapshot
func (m *Module) Initialize(ctx context.Context) error {
	slog.Info("Initializing rulesets module")
	return m.service.Initialize(ctx)
}

// Routes implements the module.Module interface for chi router
func (m *Module) Routes(r chi.Router) {
	// Routes are registered via RegisterUnifiedRoutes with the Huma API
}

// RegisterUnifiedRoutes registers the module's HTTP routes
func (m *Module) RegisterUnifiedRoutes(api huma.API) {
	m.routes.RegisterRoutes(api)
	slog.Info("Rulesets routes registered")
}

// StartBackgroundTasks implements the module.Module interface
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	// No background tasks; the snapshot is swapped on writes
}

// Service exposes the ruleset service to collaborating modules
func (m *Module) Service() *services.Service {
	return m.service
}
