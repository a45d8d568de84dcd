package killmails

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	enrichmentServices "battlescope/internal/enrichment/services"
	"battlescope/internal/killmails/routes"
	"battlescope/internal/killmails/services"
	rulesetsServices "battlescope/internal/rulesets/services"
	"battlescope/pkg/config"
	"battlescope/pkg/database"
	"battlescope/pkg/eventbus"
	"battlescope/pkg/module"
	"battlescope/pkg/universe"
)

// Module represents the killmails module
type Module struct {
	*module.BaseModule

	repository *services.Repository
	processor  *services.Processor
	consumer   *services.Consumer
	routes     *routes.Routes
}

// NewModule creates a new killmails module instance
func NewModule(
	mongodb *database.MongoDB,
	bus *eventbus.Bus,
	classifier *universe.Classifier,
	rulesets *rulesetsServices.Service,
	enrichmentRepo *enrichmentServices.Repository,
	enrichmentWorker *enrichmentServices.Worker,
) *Module {
	baseModule := module.NewBaseModule("killmails")

	repository := services.NewRepository(mongodb)
	processor := services.NewProcessor(repository, enrichmentRepo, enrichmentWorker, bus, classifier)
	consumer := services.NewConsumer(processor)

	return &Module{
		BaseModule: baseModule,
		repository: repository,
		processor:  processor,
		consumer:   consumer,
		routes:     routes.NewRoutes(repository, consumer, rulesets),
	}
}

// Initialize creates database indexes
func (m *Module) Initialize(ctx context.Context) error {
	slog.Info("Initializing killmails module")
	return m.repository.CreateIndexes(ctx)
}

// Routes implements the module.Module interface for chi router
func (m *Module) Routes(r chi.Router) {
	// Routes are registered via RegisterUnifiedRoutes with the Huma API
}

// RegisterUnifiedRoutes registers the module's HTTP routes
func (m *Module) RegisterUnifiedRoutes(api huma.API) {
	m.routes.RegisterRoutes(api)
	slog.Info("Killmails routes registered")
}

// StartBackgroundTasks starts the feed consumer
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	if !config.GetBoolEnv("REDISQ_ENABLED", true) {
		slog.Info("REDISQ_ENABLED=false, feed consumer not started")
		return
	}

	if err := m.consumer.Start(ctx); err != nil {
		slog.Error("Failed to start feed consumer", "error", err)
	}
}

// Stop halts the consumer and the base module
func (m *Module) Stop() {
	slog.Info("Stopping killmails module")
	if err := m.consumer.Stop(); err != nil {
		slog.Debug("Feed consumer stop", "error", err)
	}
	m.BaseModule.Stop()
}

// Repository exposes the killmail store to collaborating modules
func (m *Module) Repository() *services.Repository {
	return m.repository
}
