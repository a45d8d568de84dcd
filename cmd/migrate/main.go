package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"battlescope/pkg/app"
	pkgMigrations "battlescope/pkg/migrations"

	// Imported for the init() registrations
	localMigrations "battlescope/migrations"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, status, create")
		steps   = flag.Int("steps", 1, "Number of migrations to rollback (for down command)")
		name    = flag.String("name", "", "Migration name (for create command)")
		dryRun  = flag.Bool("dry-run", false, "Show what would be done without executing")
	)
	flag.Parse()

	// create only writes a local file, no database needed
	if *command == "create" {
		if *name == "" {
			log.Fatal("❌ Migration name is required for create command")
		}
		if err := createMigration(*name); err != nil {
			log.Fatalf("❌ Failed to create migration: %v", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	appCtx, err := app.InitializeApp("migrate")
	if err != nil {
		log.Fatalf("❌ Failed to initialize application: %v", err)
	}
	defer appCtx.Shutdown(ctx)

	runner := pkgMigrations.NewRunner(appCtx.MongoDB.Database)
	localMigrations.RegisterAll(runner)

	switch *command {
	case "up":
		err = runUp(ctx, runner, *dryRun)
	case "down":
		err = runDown(ctx, runner, *steps, *dryRun)
	case "status":
		err = runner.Status(ctx)
	default:
		log.Fatalf("❌ Unknown command: %s", *command)
	}

	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

func runUp(ctx context.Context, runner *pkgMigrations.Runner, dryRun bool) error {
	fmt.Println("🚀 Running database migrations...")
	if dryRun {
		fmt.Println("⚠️  DRY RUN MODE - No changes will be made")
		return runner.Status(ctx)
	}

	if err := runner.Run(ctx); err != nil {
		return err
	}
	fmt.Println("✅ All migrations completed successfully")
	return nil
}

func runDown(ctx context.Context, runner *pkgMigrations.Runner, steps int, dryRun bool) error {
	if steps < 1 {
		return fmt.Errorf("-steps must be at least 1")
	}

	fmt.Printf("🔄 Rolling back %d migration(s)...\n", steps)
	if dryRun {
		fmt.Println("⚠️  DRY RUN MODE - No changes will be made")
		return runner.Status(ctx)
	}

	if err := runner.Rollback(ctx, steps); err != nil {
		return err
	}
	fmt.Println("✅ Rollback completed successfully")
	return nil
}

// createMigration scaffolds the next numbered migration file. The generated
// init() registers it with the package, so no further wiring is needed.
func createMigration(name string) error {
	version := fmt.Sprintf("%03d", nextVersionNumber())
	filename := fmt.Sprintf("migrations/%s_%s.go", version, name)

	template := `package migrations

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
)

func init() {
	Register("%s_%s",
		"TODO: describe the change",
		up%s, down%s)
}

func up%s(ctx context.Context, db *mongo.Database) error {
	// TODO: Implement migration
	return nil
}

func down%s(ctx context.Context, db *mongo.Database) error {
	// TODO: Implement rollback
	return nil
}
`

	content := fmt.Sprintf(template, version, name, version, version, version, version)

	if err := os.MkdirAll("migrations", 0755); err != nil {
		return err
	}

	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("migration file %s already exists", filename)
	}

	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		return err
	}

	fmt.Printf("✅ Created migration file: %s\n", filename)
	fmt.Println("📝 Don't forget to:")
	fmt.Println("   1. Replace the description")
	fmt.Println("   2. Implement the up() function")
	fmt.Println("   3. Implement the down() function (if possible)")

	return nil
}

// nextVersionNumber scans migrations/ for the highest NNN_ prefix
func nextVersionNumber() int {
	entries, err := os.ReadDir("migrations")
	if err != nil {
		return 1
	}

	maxVersion := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%03d_", &version); err == nil && version > maxVersion {
			maxVersion = version
		}
	}

	return maxVersion + 1
}
