package battles

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"battlescope/internal/battles/routes"
	"battlescope/internal/battles/services"
	enrichmentServices "battlescope/internal/enrichment/services"
	killmailsServices "battlescope/internal/killmails/services"
	rulesetsServices "battlescope/internal/rulesets/services"
	"battlescope/pkg/config"
	"battlescope/pkg/database"
	"battlescope/pkg/eventbus"
	"battlescope/pkg/module"
	"battlescope/pkg/universe"
)

// Module represents the battles module
type Module struct {
	*module.BaseModule

	repository *services.Repository
	clusterer  *services.Clusterer
	routes     *routes.Routes
}

// NewModule creates a new battles module instance
func NewModule(
	mongodb *database.MongoDB,
	redis *database.Redis,
	bus *eventbus.Bus,
	classifier *universe.Classifier,
	rulesets *rulesetsServices.Service,
	killmailsRepo *killmailsServices.Repository,
	enrichmentRepo *enrichmentServices.Repository,
) *Module {
	baseModule := module.NewBaseModule("battles")

	repository := services.NewRepository(mongodb)
	locks := services.NewBattleLock(redis, bus.ServerID())
	clusterer := services.NewClusterer(killmailsRepo, repository, rulesets, locks, bus, classifier)

	return &Module{
		BaseModule: baseModule,
		repository: repository,
		clusterer:  clusterer,
		routes:     routes.NewRoutes(repository, clusterer, killmailsRepo, enrichmentRepo),
	}
}

// Initialize creates database indexes
func (m *Module) Initialize(ctx context.Context) error {
	slog.Info("Initializing battles module")
	return m.repository.CreateIndexes(ctx)
}

// Routes implements the module.Module interface for chi router
func (m *Module) Routes(r chi.Router) {
	// Routes are registered via RegisterUnifiedRoutes with the Huma API
}

// RegisterUnifiedRoutes registers the module's HTTP routes
func (m *Module) RegisterUnifiedRoutes(api huma.API) {
	m.routes.RegisterRoutes(api)
	slog.Info("Battles routes registered")
}

// StartBackgroundTasks starts the clusterer cron
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	if !config.GetBoolEnv("CLUSTERER_ENABLED", true) {
		slog.Info("CLUSTERER_ENABLED=false, clusterer not started")
		return
	}

	if err := m.clusterer.Start(ctx); err != nil {
		slog.Error("Failed to start clusterer", "error", err)
	}
}

// Stop halts the clusterer and the base module
func (m *Module) Stop() {
	slog.Info("Stopping battles module")
	m.clusterer.Stop()
	m.BaseModule.Stop()
}

// Repository exposes the battle store to collaborating modules
func (m *Module) Repository() *services.Repository {
	return m.repository
}
