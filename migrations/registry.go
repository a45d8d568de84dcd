package migrations

import (
	"battlescope/pkg/migrations"
)

// registry collects every migration file's init() registration. The
// runner sorts by version, so registration order does not matter.
var registry []migrations.RegisteredMigration

// Register adds a migration; each migration file calls it from init
func Register(version, description string, up, down migrations.MigrationFunc) {
	registry = append(registry, migrations.RegisteredMigration{
		Version:     version,
		Description: description,
		Up:          up,
		Down:        down,
	})
}

// RegisterAll hands every registered migration to the runner
func RegisterAll(runner *migrations.Runner) {
	for _, m := range registry {
		runner.Register(m)
	}
}
