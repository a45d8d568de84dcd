package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"battlescope/internal/battles"
	"battlescope/internal/enrichment"
	"battlescope/internal/killmails"
	"battlescope/internal/rulesets"
	"battlescope/pkg/app"
	"battlescope/pkg/config"
	"battlescope/pkg/eventbus"
	"battlescope/pkg/handlers"
	"battlescope/pkg/module"
	"battlescope/pkg/version"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "go.uber.org/automaxprocs"
)

// initializer is implemented by modules that need setup before serving
type initializer interface {
	Initialize(ctx context.Context) error
}

// customLoggerMiddleware logs requests but excludes probe endpoints
func customLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip logging for health and readiness probes
		if strings.HasSuffix(r.URL.Path, "/health") || strings.HasSuffix(r.URL.Path, "/ready") {
			next.ServeHTTP(w, r)
			return
		}

		// Use the default chi logger for all other requests
		middleware.Logger(next).ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers for the origins listed in
// CORS_ALLOWED_ORIGINS (comma separated, "*" allows any)
func corsMiddleware(next http.Handler) http.Handler {
	allowed := strings.Split(config.GetEnv("CORS_ALLOWED_ORIGINS", ""), ",")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, candidate := range allowed {
				candidate = strings.TrimSpace(candidate)
				if candidate == "*" || candidate == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	// Display startup banner
	displayBanner()

	// Display version information
	versionInfo := version.Get()
	log.Printf("🏷️  Version: %s | Build: %s", version.GetVersionString(), versionInfo.BuildDate)
	log.Printf("🖥️  CPUs: %d | GOMAXPROCS: %d", runtime.NumCPU(), runtime.GOMAXPROCS(0))

	ctx := context.Background()

	// Initialize application with shared components
	appCtx, err := app.InitializeApp("battlescope")
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer appCtx.Shutdown(ctx)

	// Print memory stats (compact)
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Printf("💾 Memory: %s heap | %s total", formatBytes(m.HeapAlloc), formatBytes(m.Sys))
	printMemoryLimits()

	// Initialize Chi router
	r := chi.NewRouter()

	// Global middleware
	r.Use(customLoggerMiddleware) // Request logger that skips probe endpoints
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)
	r.Use(handlers.TracingMiddleware("battlescope"))

	// Liveness with build identity, readiness with dependency pings
	r.Get("/health", handlers.HealthHandler("battlescope"))
	r.Get("/ready", handlers.ReadyHandler(appCtx.MongoDB, appCtx.Redis))

	// The event bus degrades to a no-op without Redis
	bus := eventbus.New(nil)
	if appCtx.Redis != nil {
		bus = eventbus.New(appCtx.Redis.Client)
	}

	// Initialize modules in dependency order: rulesets feed the killmail
	// filter and the clusterer, enrichment feeds the battle detail view
	rulesetsModule, err := rulesets.NewModule(appCtx.MongoDB)
	if err != nil {
		log.Fatalf("Failed to create rulesets module: %v", err)
	}
	enrichmentModule := enrichment.NewModule(appCtx.MongoDB, appCtx.Redis, bus)
	killmailsModule := killmails.NewModule(
		appCtx.MongoDB,
		bus,
		appCtx.Universe,
		rulesetsModule.Service(),
		enrichmentModule.Repository(),
		enrichmentModule.Worker(),
	)
	battlesModule := battles.NewModule(
		appCtx.MongoDB,
		appCtx.Redis,
		bus,
		appCtx.Universe,
		rulesetsModule.Service(),
		killmailsModule.Repository(),
		enrichmentModule.Repository(),
	)

	modules := []module.Module{rulesetsModule, enrichmentModule, killmailsModule, battlesModule}

	// Ensure indexes and seed documents before serving traffic
	for _, mod := range modules {
		if init, ok := mod.(initializer); ok {
			if err := init.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize %s module: %v", mod.Name(), err)
			}
		}
	}

	// Mount module routes with configurable API prefix
	apiPrefix := config.GetEnv("API_PREFIX", "")
	port := app.GetPort("8080")
	host := config.GetEnv("HOST", "0.0.0.0")

	// Create unified Huma API configuration
	humaConfig := huma.DefaultConfig("BattleScope API", "1.0.0")
	humaConfig.Info.Description = "EVE Online killmail ingestion and battle clustering service"
	humaConfig.Info.Contact = &huma.Contact{
		Name: "BattleScope",
		URL:  "https://github.com/your-org/battlescope",
	}

	if baseURL := config.GetEnv("API_BASE_URL", ""); baseURL != "" {
		humaConfig.Servers = []*huma.Server{
			{URL: baseURL + apiPrefix, Description: "Production server"},
		}
	} else {
		humaConfig.Servers = []*huma.Server{
			{URL: "http://localhost:" + port + apiPrefix, Description: "Local development"},
		}
	}

	// Create the unified API on main router
	var unifiedAPI huma.API
	if apiPrefix == "" {
		unifiedAPI = humachi.New(r, humaConfig)
	} else {
		// Mount the API under the prefix
		r.Route(apiPrefix, func(prefixRouter chi.Router) {
			unifiedAPI = humachi.New(prefixRouter, humaConfig)
		})
	}

	// Register all module routes on the unified API
	killmailsModule.RegisterUnifiedRoutes(unifiedAPI)
	enrichmentModule.RegisterUnifiedRoutes(unifiedAPI)
	battlesModule.RegisterUnifiedRoutes(unifiedAPI)
	rulesetsModule.RegisterUnifiedRoutes(unifiedAPI)

	// Start background services for all modules
	for _, mod := range modules {
		go mod.StartBackgroundTasks(ctx)
	}

	// Main server
	srv := &http.Server{
		Addr:         host + ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Display server configuration
	serverAddr := host + ":" + port
	if host == "0.0.0.0" {
		log.Printf("🚀 Server: http://localhost:%s%s | OpenAPI: %s/openapi.json", port, apiPrefix, apiPrefix)
	} else {
		log.Printf("🚀 Server: http://%s%s | OpenAPI: %s/openapi.json", serverAddr, apiPrefix, apiPrefix)
	}

	// Start main server
	go func() {
		slog.Info("Starting BattleScope API server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Main server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Received shutdown signal, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server first so no new work arrives
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Main server forced to shutdown", "error", err)
	}

	// Stop background services for all modules
	for _, mod := range modules {
		mod.Stop()
	}

	// Application context will handle database and telemetry shutdown
	appCtx.Shutdown(shutdownCtx)

	slog.Info("BattleScope shutdown completed successfully")
}

func displayBanner() {
	file, err := os.Open("banner.txt")
	if err != nil {
		// Fallback to inline banner if file not found
		fmt.Print("\033[38;5;33m")
		fmt.Print("BATTLESCOPE API Server\n")
		fmt.Print("\033[0m")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		fmt.Print("\033[38;5;33m")
		fmt.Print("BATTLESCOPE API Server\n")
		fmt.Print("\033[0m")
		return
	}

	lines := strings.Split(string(content), "\n")
	colors := []string{
		"\033[38;5;33m", // Bright blue
		"\033[38;5;39m", // Cyan
		"\033[38;5;75m", // Light blue
		"\033[38;5;51m", // Bright cyan
		"\033[38;5;33m", // Bright blue
		"\033[38;5;39m", // Cyan
	}

	fmt.Print("\n")
	for i, line := range lines {
		if line != "" && i < len(colors) {
			fmt.Print(colors[i])
			fmt.Println(line)
		}
	}
	fmt.Print("\033[0m") // Reset colors
	fmt.Print("\n")
}

// formatBytes converts bytes to human readable format
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// printMemoryLimits reads and displays container memory limits
func printMemoryLimits() {
	// Try cgroups v2 first (newer systems)
	if limit := readCgroupV2MemoryLimit(); limit > 0 {
		log.Printf("📦 Container limit: %s", formatBytes(uint64(limit)))
		return
	}

	// Try cgroups v1 (older systems)
	if limit := readCgroupV1MemoryLimit(); limit > 0 {
		log.Printf("📦 Container limit: %s", formatBytes(uint64(limit)))
		return
	}
}

// readCgroupV2MemoryLimit reads memory limit from cgroups v2
func readCgroupV2MemoryLimit() int64 {
	data, err := os.ReadFile("/sys/fs/cgroup/memory.max")
	if err != nil {
		return 0
	}

	limitStr := strings.TrimSpace(string(data))
	if limitStr == "max" {
		return 0 // No limit set
	}

	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil {
		return 0
	}

	return limit
}

// readCgroupV1MemoryLimit reads memory limit from cgroups v1
func readCgroupV1MemoryLimit() int64 {
	data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes")
	if err != nil {
		return 0
	}

	limitStr := strings.TrimSpace(string(data))
	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil {
		return 0
	}

	// cgroups v1 sometimes returns very large values when no limit is set
	// Anything larger than 1TB is probably "unlimited"
	if limit > 1024*1024*1024*1024 {
		return 0
	}

	return limit
}
