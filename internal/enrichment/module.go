package enrichment

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"battlescope/internal/enrichment/routes"
	"battlescope/internal/enrichment/services"
	"battlescope/pkg/config"
	"battlescope/pkg/database"
	"battlescope/pkg/eventbus"
	"battlescope/pkg/module"
	"battlescope/pkg/zkb"
)

// Module represents the enrichment module
type Module struct {
	*module.BaseModule

	repository *services.Repository
	worker     *services.Worker
	routes     *routes.Routes
}

// NewModule creates a new enrichment module instance
func NewModule(mongodb *database.MongoDB, redis *database.Redis, bus *eventbus.Bus) *Module {
	baseModule := module.NewBaseModule("enrichment")

	repository := services.NewRepository(mongodb)
	fetcher := zkb.NewClient(redis)
	worker := services.NewWorker(repository, fetcher, bus)

	return &Module{
		BaseModule: baseModule,
		repository: repository,
		worker:     worker,
		routes:     routes.NewRoutes(repository, worker),
	}
}

// Initialize creates database indexes
func (m *Module) Initialize(ctx context.Context) error {
	slog.Info("Initializing enrichment module")
	return m.repository.CreateIndexes(ctx)
}

// Routes implements the module.Module interface for chi router
func (m *Module) Routes(r chi.Router) {
	// Routes are registered via RegisterUnifiedRoutes with the Huma API
}

// RegisterUnifiedRoutes registers the module's HTTP routes
func (m *Module) RegisterUnifiedRoutes(api huma.API) {
	m.routes.RegisterRoutes(api)
	slog.Info("Enrichment routes registered")
}

// StartBackgroundTasks starts the enrichment worker
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	if !config.GetBoolEnv("ENRICHMENT_ENABLED", true) {
		slog.Info("ENRICHMENT_ENABLED=false, enrichment worker not started")
		return
	}

	if err := m.worker.Start(ctx); err != nil {
		slog.Error("Failed to start enrichment worker", "error", err)
	}
}

// Stop halts the worker and the base module
func (m *Module) Stop() {
	slog.Info("Stopping enrichment module")
	m.worker.Stop()
	m.BaseModule.Stop()
}

// Repository exposes the enrichment store to collaborating modules
func (m *Module) Repository() *services.Repository {
	return m.repository
}

// Worker exposes the worker so ingestion can nudge it
func (m *Module) Worker() *services.Worker {
	return m.worker
}
