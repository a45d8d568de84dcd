package routes

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"battlescope/internal/enrichment/dto"
	"battlescope/internal/enrichment/models"
	"battlescope/internal/enrichment/services"
)

// Routes handles HTTP endpoints for the enrichment module
type Routes struct {
	repository *services.Repository
	worker     *services.Worker
}

// NewRoutes creates a new Routes instance
func NewRoutes(repository *services.Repository, worker *services.Worker) *Routes {
	return &Routes{repository: repository, worker: worker}
}

// RegisterRoutes registers all enrichment routes
func (r *Routes) RegisterRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getEnrichmentStatus",
		Method:      http.MethodGet,
		Path:        "/enrichment/status",
		Summary:     "Get enrichment pipeline status",
		Description: "Returns row counts per status plus worker counters and configuration",
		Tags:        []string{"Module Status", "Enrichment"},
	}, r.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getEnrichment",
		Method:      http.MethodGet,
		Path:        "/enrichment/{killmail_id}",
		Summary:     "Get enrichment record for a killmail",
		Tags:        []string{"Enrichment"},
	}, r.GetEnrichment)

	huma.Register(api, huma.Operation{
		OperationID: "retryEnrichment",
		Method:      http.MethodPost,
		Path:        "/enrichment/{killmail_id}/retry",
		Summary:     "Retry a failed enrichment",
		Description: "Moves a failed row back to pending with a fresh attempt budget and wakes the worker",
		Tags:        []string{"Enrichment"},
	}, r.RetryEnrichment)
}

// GetStatusInput represents query parameters for the status endpoint
type GetStatusInput struct{}

// GetStatus returns pipeline counts and worker state
func (r *Routes) GetStatus(ctx context.Context, input *GetStatusInput) (*dto.EnrichmentStatusOutput, error) {
	counts, err := r.repository.StatusCounts(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count enrichment rows: " + err.Error())
	}

	metrics := r.worker.Metrics()
	throttle, maxAttempts, lease := r.worker.Config()

	worker := dto.WorkerStatus{
		Claimed:       metrics.Claimed.Load(),
		Succeeded:     metrics.Succeeded.Load(),
		Failed:        metrics.Failed.Load(),
		StaleReleased: metrics.StaleReleased.Load(),
	}
	if last := r.worker.LastActivity(); !last.IsZero() {
		worker.LastActivity = &last
	}

	return &dto.EnrichmentStatusOutput{
		Body: dto.EnrichmentStatusResponse{
			Counts: counts,
			Worker: worker,
			Config: dto.WorkerConfig{
				ThrottleMs:   throttle.Milliseconds(),
				MaxAttempts:  maxAttempts,
				LeaseSeconds: int64(lease.Seconds()),
			},
		},
	}, nil
}

// GetEnrichment returns the enrichment record for a killmail
func (r *Routes) GetEnrichment(ctx context.Context, input *dto.GetEnrichmentInput) (*dto.EnrichmentOutput, error) {
	row, err := r.repository.GetByKillmailID(ctx, input.KillmailID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get enrichment: " + err.Error())
	}
	if row == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("no enrichment record for killmail %d", input.KillmailID))
	}

	return &dto.EnrichmentOutput{Body: dto.NewEnrichmentResponse(row)}, nil
}

// RetryEnrichment requeues a failed row and nudges the worker
func (r *Routes) RetryEnrichment(ctx context.Context, input *dto.RetryEnrichmentInput) (*dto.RetryEnrichmentOutput, error) {
	existing, err := r.repository.GetByKillmailID(ctx, input.KillmailID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get enrichment: " + err.Error())
	}
	if existing == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("no enrichment record for killmail %d", input.KillmailID))
	}
	if existing.Status != models.StatusFailed {
		return nil, huma.Error400BadRequest(fmt.Sprintf("enrichment for killmail %d is %s, only failed rows can be retried", input.KillmailID, existing.Status))
	}

	row, err := r.repository.RequeueForRetry(ctx, input.KillmailID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to requeue enrichment: " + err.Error())
	}
	if row == nil {
		// Lost the race with the claim loop; the row is already moving again
		return &dto.RetryEnrichmentOutput{
			Body: dto.RetryEnrichmentResponse{
				Success: false,
				Status:  string(models.StatusProcessing),
				Message: "row is no longer failed",
			},
		}, nil
	}

	r.worker.Nudge()

	return &dto.RetryEnrichmentOutput{
		Body: dto.RetryEnrichmentResponse{
			Success: true,
			Status:  string(row.Status),
			Message: "enrichment requeued",
		},
	}, nil
}
