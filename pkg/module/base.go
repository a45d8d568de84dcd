package module

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Module defines the interface that all application modules must implement
type Module interface {
	// Routes sets up the HTTP routes for this module
	Routes(r chi.Router)

	// StartBackgroundTasks starts any background processing for this module
	StartBackgroundTasks(ctx context.Context)

	// Stop gracefully stops the module and its background tasks
	Stop()

	// Name returns the module name for logging and identification
	Name() string
}

// BaseModule carries the shared identity and stop semantics. Modules embed
// it and layer their own services, routes and background tasks on top.
type BaseModule struct {
	name     string
	stopOnce sync.Once
}

// NewBaseModule creates a new base module
func NewBaseModule(name string) *BaseModule {
	return &BaseModule{
		name: name,
	}
}

// Name returns the module name
func (b *BaseModule) Name() string {
	return b.name
}

// Stop is idempotent; modules call it after stopping their own tasks
func (b *BaseModule) Stop() {
	b.stopOnce.Do(func() {
		slog.Info("Module stopped", "module", b.name)
	})
}
