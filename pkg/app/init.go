package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"sync"

	"battlescope/pkg/config"
	"battlescope/pkg/database"
	"battlescope/pkg/logging"
	"battlescope/pkg/universe"

	"github.com/joho/godotenv"
)

// AppContext holds the shared application context and dependencies
type AppContext struct {
	MongoDB          *database.MongoDB
	Redis            *database.Redis
	Universe         *universe.Classifier
	TelemetryManager *logging.TelemetryManager
	ServiceName      string
	shutdownFuncs    []func(context.Context) error
	shutdownOnce     sync.Once
}

// InitializeApp initializes common application dependencies
func InitializeApp(serviceName string) (*AppContext, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it: %v", err)
	}

	ctx := context.Background()

	// Initialize telemetry
	telemetryManager := logging.NewTelemetryManager(serviceName)
	if err := telemetryManager.Initialize(ctx); err != nil {
		log.Printf("Warning: Failed to initialize telemetry: %v", err)
		// Continue without telemetry rather than failing
	}

	// MongoDB holds all authoritative state; without it nothing works
	mongodb, err := database.NewMongoDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Redis backs the event bus, battle locks and response caches; all of
	// them degrade gracefully, so a missing Redis is survivable
	redis, err := database.NewRedis(ctx)
	if err != nil {
		slog.Error("Failed to connect to Redis, bus/locks/caches disabled", "error", err)
		redis = nil
	}

	// System classification data (optional security-status file)
	universeClassifier := universe.NewClassifier(config.GetEnv("UNIVERSE_DATA_DIR", "data/universe"))
	slog.Info("Universe classifier initialized", "known_systems", universeClassifier.KnownSystems())

	appCtx := &AppContext{
		MongoDB:          mongodb,
		Redis:            redis,
		Universe:         universeClassifier,
		TelemetryManager: telemetryManager,
		ServiceName:      serviceName,
	}

	// Register shutdown functions
	appCtx.shutdownFuncs = append(appCtx.shutdownFuncs, mongodb.Close)
	if redis != nil {
		appCtx.shutdownFuncs = append(appCtx.shutdownFuncs, func(ctx context.Context) error {
			return redis.Close()
		})
	}
	if telemetryManager != nil {
		appCtx.shutdownFuncs = append(appCtx.shutdownFuncs, telemetryManager.Shutdown)
	}

	return appCtx, nil
}

// Shutdown gracefully shuts down all application dependencies. It runs
// once; the deferred call in main is a no-op after the signal path ran it.
func (a *AppContext) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		slog.Info("Shutting down application", "service", a.ServiceName)

		for _, shutdown := range a.shutdownFuncs {
			if err := shutdown(ctx); err != nil {
				slog.Error("Error during shutdown", "error", err)
			}
		}

		slog.Info("Application shutdown completed", "service", a.ServiceName)
	})
	return nil
}

// GetPort returns the port from environment or default
func GetPort(defaultPort string) string {
	return config.GetEnv("PORT", defaultPort)
}
