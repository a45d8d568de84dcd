package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"battlescope/pkg/database"
	"battlescope/pkg/version"
)

// HealthResponse is the liveness payload served at /health
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// HealthHandler serves the liveness probe with build identity. Probe
// requests are deliberately not logged; the request logger skips /health
// for the same reason.
func HealthHandler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := version.Get()
		response := HealthResponse{
			Status:    "healthy",
			Service:   serviceName,
			Version:   info.Version,
			GitCommit: info.GitCommit,
			BuildDate: info.BuildDate,
			GoVersion: info.GoVersion,
			Platform:  info.Platform,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			slog.Error("Failed to encode health response", "error", err)
		}
	}
}

// ReadyResponse is the readiness payload served at /ready
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ReadyHandler serves the readiness probe. It pings the backing stores so
// load balancers stop routing traffic while a dependency is unreachable.
// Redis is optional at startup; when absent it reports "disabled" without
// failing readiness.
func ReadyHandler(mongodb *database.MongoDB, redis *database.Redis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		checks := make(map[string]string, 2)
		ready := true

		if err := mongodb.HealthCheck(ctx); err != nil {
			slog.Warn("Readiness check failed", "dependency", "mongodb", "error", err)
			checks["mongodb"] = err.Error()
			ready = false
		} else {
			checks["mongodb"] = "ok"
		}

		if redis == nil {
			checks["redis"] = "disabled"
		} else if err := redis.HealthCheck(ctx); err != nil {
			slog.Warn("Readiness check failed", "dependency", "redis", "error", err)
			checks["redis"] = err.Error()
			ready = false
		} else {
			checks["redis"] = "ok"
		}

		response := ReadyResponse{Status: "ready", Checks: checks}
		status := http.StatusOK
		if !ready {
			response.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			slog.Error("Failed to encode readiness response", "error", err)
		}
	}
}
