package dto

import (
	"time"

	"battlescope/internal/enrichment/models"
)

// EnrichmentOutput represents a single enrichment row
type EnrichmentOutput struct {
	Body EnrichmentResponse `json:"body" doc:"Enrichment record"`
}

// EnrichmentResponse represents the enrichment record data
type EnrichmentResponse struct {
	KillmailID int64                  `json:"killmail_id" doc:"Killmail ID"`
	Status     string                 `json:"status" doc:"Enrichment status (pending, processing, succeeded, failed)"`
	Payload    map[string]interface{} `json:"payload,omitempty" doc:"Fetched detail, present when succeeded"`
	Error      *string                `json:"error,omitempty" doc:"Last failure reason"`
	Attempts   int                    `json:"attempts" doc:"Fetch attempts so far"`
	FetchedAt  *time.Time             `json:"fetched_at,omitempty" doc:"When the payload was fetched"`
	CreatedAt  time.Time              `json:"created_at" doc:"Row creation time"`
	UpdatedAt  time.Time              `json:"updated_at" doc:"Last state change"`
}

// NewEnrichmentResponse converts an enrichment model into its API shape
func NewEnrichmentResponse(row *models.KillmailEnrichment) EnrichmentResponse {
	return EnrichmentResponse{
		KillmailID: row.KillmailID,
		Status:     string(row.Status),
		Payload:    row.Payload,
		Error:      row.Error,
		Attempts:   row.Attempts,
		FetchedAt:  row.FetchedAt,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

// EnrichmentStatusOutput represents the enrichment pipeline status
type EnrichmentStatusOutput struct {
	Body EnrichmentStatusResponse `json:"body" doc:"Enrichment pipeline status"`
}

// EnrichmentStatusResponse represents the pipeline status data
type EnrichmentStatusResponse struct {
	Counts map[string]int64 `json:"counts" doc:"Row counts per status"`
	Worker WorkerStatus     `json:"worker" doc:"Worker counters"`
	Config WorkerConfig     `json:"config" doc:"Effective worker configuration"`
}

// WorkerStatus represents worker throughput counters
type WorkerStatus struct {
	Claimed       int64      `json:"claimed" doc:"Rows claimed since start"`
	Succeeded     int64      `json:"succeeded" doc:"Successful enrichments since start"`
	Failed        int64      `json:"failed" doc:"Failed enrichments since start"`
	StaleReleased int64      `json:"stale_released" doc:"Expired leases returned to pending"`
	LastActivity  *time.Time `json:"last_activity,omitempty" doc:"Time of the most recent claim"`
}

// WorkerConfig represents the worker configuration
type WorkerConfig struct {
	ThrottleMs   int64 `json:"throttle_ms" doc:"Minimum interval between external fetches"`
	MaxAttempts  int   `json:"max_attempts" doc:"Automatic retry cap"`
	LeaseSeconds int64 `json:"lease_seconds" doc:"Processing lease duration"`
}

// RetryEnrichmentOutput represents the result of a manual retry
type RetryEnrichmentOutput struct {
	Body RetryEnrichmentResponse `json:"body" doc:"Retry result"`
}

// RetryEnrichmentResponse represents the retry result data
type RetryEnrichmentResponse struct {
	Success bool   `json:"success" doc:"Whether the row was requeued"`
	Status  string `json:"status" doc:"Row status after the operation"`
	Message string `json:"message" doc:"Result message"`
}
