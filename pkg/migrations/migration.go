package migrations

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// migrationsCollection records applied versions. It sits next to the data
// collections so a plain dump/restore carries the migration state with it.
const migrationsCollection = "battlescope_migrations"

// Migration is the persisted record of an applied migration
type Migration struct {
	Version     string    `bson:"version"`     // e.g. "001_create_killmail_indexes"
	Description string    `bson:"description"` // Human-readable description
	AppliedAt   time.Time `bson:"applied_at"`  // When the migration was applied
	Checksum    string    `bson:"checksum"`    // SHA-256 over version + description
}

// MigrationFunc defines a migration function signature
type MigrationFunc func(ctx context.Context, db *mongo.Database) error

// RegisteredMigration holds migration metadata and functions
type RegisteredMigration struct {
	Version     string
	Description string
	Up          MigrationFunc // Apply migration
	Down        MigrationFunc // Rollback migration (optional)
}

// Runner applies registered migrations in version order and records each
// applied version with a checksum so later runs can spot drift.
type Runner struct {
	db         *mongo.Database
	collection *mongo.Collection
	migrations []RegisteredMigration
}

// NewRunner creates a new migration runner
func NewRunner(db *mongo.Database) *Runner {
	return &Runner{
		db:         db,
		collection: db.Collection(migrationsCollection),
		migrations: make([]RegisteredMigration, 0),
	}
}

// Register adds a migration to the runner
func (r *Runner) Register(migration RegisteredMigration) {
	r.migrations = append(r.migrations, migration)
}

// migrationsInOrder returns the registered migrations sorted by version,
// so run order never depends on file initialization order.
func (r *Runner) migrationsInOrder() []RegisteredMigration {
	ordered := make([]RegisteredMigration, len(r.migrations))
	copy(ordered, r.migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })
	return ordered
}

// Run executes all pending migrations in version order
func (r *Runner) Run(ctx context.Context) error {
	if err := r.ensureMigrationsIndex(ctx); err != nil {
		return fmt.Errorf("failed to create migrations index: %w", err)
	}

	applied, err := r.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	appliedMap := make(map[string]Migration, len(applied))
	for _, m := range applied {
		appliedMap[m.Version] = m
	}

	for _, migration := range r.migrationsInOrder() {
		if record, exists := appliedMap[migration.Version]; exists {
			if record.Checksum != "" && record.Checksum != calculateChecksum(migration) {
				fmt.Printf("⚠️  Migration %s was applied with a different definition (checksum mismatch)\n", migration.Version)
			}
			continue
		}

		fmt.Printf("🔄 Running migration: %s - %s\n", migration.Version, migration.Description)

		if err := r.applyMigration(ctx, migration); err != nil {
			return err
		}

		fmt.Printf("✅ Migration %s completed successfully\n", migration.Version)
	}

	return nil
}

// applyMigration runs one Up inside a session and records the version
func (r *Runner) applyMigration(ctx context.Context, migration RegisteredMigration) error {
	session, err := r.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session for migration %s: %w", migration.Version, err)
	}
	defer session.EndSession(ctx)

	return mongo.WithSession(ctx, session, func(sc mongo.SessionContext) error {
		if err := migration.Up(sc, r.db); err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.Version, err)
		}

		record := Migration{
			Version:     migration.Version,
			Description: migration.Description,
			AppliedAt:   time.Now().UTC(),
			Checksum:    calculateChecksum(migration),
		}

		if _, err := r.collection.InsertOne(sc, record); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		return nil
	})
}

// Rollback rolls back the last n applied migrations
func (r *Runner) Rollback(ctx context.Context, steps int) error {
	applied, err := r.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	if steps > len(applied) {
		steps = len(applied)
	}

	migrationMap := make(map[string]RegisteredMigration, len(r.migrations))
	for _, m := range r.migrations {
		migrationMap[m.Version] = m
	}

	for i := len(applied) - 1; i >= len(applied)-steps; i-- {
		version := applied[i].Version
		migration, exists := migrationMap[version]
		if !exists {
			return fmt.Errorf("migration %s not found in registered migrations", version)
		}

		if migration.Down == nil {
			fmt.Printf("⚠️  Migration %s has no rollback function, skipping\n", version)
			continue
		}

		fmt.Printf("🔄 Rolling back migration: %s\n", version)

		if err := r.rollbackMigration(ctx, migration); err != nil {
			return err
		}

		fmt.Printf("✅ Rollback %s completed successfully\n", version)
	}

	return nil
}

// rollbackMigration runs one Down inside a session and removes the record
func (r *Runner) rollbackMigration(ctx context.Context, migration RegisteredMigration) error {
	session, err := r.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session for rollback %s: %w", migration.Version, err)
	}
	defer session.EndSession(ctx)

	return mongo.WithSession(ctx, session, func(sc mongo.SessionContext) error {
		if err := migration.Down(sc, r.db); err != nil {
			return fmt.Errorf("rollback %s failed: %w", migration.Version, err)
		}

		if _, err := r.collection.DeleteOne(sc, bson.M{"version": migration.Version}); err != nil {
			return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
		}

		return nil
	})
}

// Status prints every registered migration with its applied state
func (r *Runner) Status(ctx context.Context) error {
	applied, err := r.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	appliedMap := make(map[string]Migration, len(applied))
	for _, m := range applied {
		appliedMap[m.Version] = m
	}

	fmt.Println("\n📊 Migration Status:")
	fmt.Println(strings.Repeat("=", 80))

	for _, migration := range r.migrationsInOrder() {
		status := "⏳ Pending"
		appliedAt := ""

		if record, exists := appliedMap[migration.Version]; exists {
			status = "✅ Applied"
			appliedAt = fmt.Sprintf(" (at %s)", record.AppliedAt.Format("2006-01-02 15:04:05"))
		}

		fmt.Printf("%s %s - %s%s\n", status, migration.Version, migration.Description, appliedAt)
	}

	fmt.Printf("\nTotal: %d migrations (%d applied, %d pending)\n",
		len(r.migrations), len(applied), len(r.migrations)-len(applied))

	return nil
}

// ensureMigrationsIndex makes version inserts race-safe across concurrent runners
func (r *Runner) ensureMigrationsIndex(ctx context.Context) error {
	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	}

	_, err := r.collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

// getAppliedMigrations retrieves applied migrations in version order
func (r *Runner) getAppliedMigrations(ctx context.Context) ([]Migration, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "version", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var migrations []Migration
	if err := cursor.All(ctx, &migrations); err != nil {
		return nil, err
	}

	return migrations, nil
}

// calculateChecksum hashes the migration identity. Function bodies are not
// hashable from here, so version + description is the tracked surface.
func calculateChecksum(migration RegisteredMigration) string {
	sum := sha256.Sum256([]byte(migration.Version + ":" + migration.Description))
	return hex.EncodeToString(sum[:])
}
