package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"

	"battlescope/internal/enrichment/models"
	"battlescope/pkg/config"
	"battlescope/pkg/eventbus"
)

// Store is the slice of the enrichment repository the worker drives
type Store interface {
	ClaimNext(ctx context.Context, maxAttempts int, lease time.Duration) (*models.KillmailEnrichment, error)
	MarkSucceeded(ctx context.Context, killmailID int64, payload bson.M) error
	MarkFailed(ctx context.Context, killmailID int64, reason string) error
	ReleaseStale(ctx context.Context) (int64, error)
}

// KillmailFetcher retrieves out-of-band killmail detail
type KillmailFetcher interface {
	GetKillmail(ctx context.Context, killmailID int64) (map[string]interface{}, error)
}

// EventPublisher emits pipeline events
type EventPublisher interface {
	Publish(ctx context.Context, event, key string, payload interface{}) error
}

// WorkerMetrics tracks enrichment throughput
type WorkerMetrics struct {
	Claimed       atomic.Int64
	Succeeded     atomic.Int64
	Failed        atomic.Int64
	StaleReleased atomic.Int64
}

// EnrichedEvent is the killmail.enriched payload
type EnrichedEvent struct {
	KillmailID int64     `json:"killmail_id"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Worker claims pending enrichment rows, fetches detail through the
// throttle and records the outcome. A cron drives periodic claims and the
// stale-lease sweep; Nudge wakes the worker as soon as new rows are seeded.
type Worker struct {
	store    Store
	fetcher  KillmailFetcher
	bus      EventPublisher
	throttle *Throttle

	maxAttempts   int
	leaseDuration time.Duration

	cron    *cron.Cron
	nudge   chan struct{}
	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	metrics      WorkerMetrics
	lastActivity atomic.Int64 // unix seconds
}

// NewWorker creates an enrichment worker. Throttle, lease and attempt cap
// come from the environment.
func NewWorker(store Store, fetcher KillmailFetcher, bus EventPublisher) *Worker {
	throttleMs := config.GetIntEnv("ENRICHMENT_THROTTLE_MS", 1000)
	maxAttempts := config.GetIntEnv("ENRICHMENT_MAX_ATTEMPTS", 5)
	lease := config.GetDurationEnv("ENRICHMENT_LEASE", 3*time.Minute)

	return &Worker{
		store:         store,
		fetcher:       fetcher,
		bus:           bus,
		throttle:      NewThrottle(time.Duration(throttleMs) * time.Millisecond),
		maxAttempts:   maxAttempts,
		leaseDuration: lease,
		nudge:         make(chan struct{}, 1),
	}
}

// Start launches the claim cron, the stale sweep and the nudge listener
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("enrichment worker already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.cron = cron.New(cron.WithSeconds())

	if _, err := w.cron.AddFunc("*/5 * * * * *", func() {
		w.drain(w.ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule enrichment claims: %w", err)
	}

	if _, err := w.cron.AddFunc("*/30 * * * * *", func() {
		w.sweepStale(w.ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule stale sweep: %w", err)
	}

	w.cron.Start()

	w.wg.Add(1)
	go w.nudgeLoop()

	w.running = true
	slog.Info("Enrichment worker started",
		"throttle", w.throttle.Interval(),
		"max_attempts", w.maxAttempts,
		"lease", w.leaseDuration)

	return nil
}

// Stop halts the cron and waits for in-flight work to finish
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.cancel()
	cronCtx := w.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Enrichment worker stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("Enrichment worker stop timeout")
	}

	w.running = false
}

// Nudge wakes the worker immediately after new rows are seeded. Non-blocking;
// a pending nudge already covers any number of new rows.
func (w *Worker) Nudge() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

// Metrics exposes the worker counters
func (w *Worker) Metrics() *WorkerMetrics {
	return &w.metrics
}

// Config reports the effective worker configuration
func (w *Worker) Config() (throttle time.Duration, maxAttempts int, lease time.Duration) {
	return w.throttle.Interval(), w.maxAttempts, w.leaseDuration
}

// LastActivity returns the time of the most recent claim, zero when idle
// since start
func (w *Worker) LastActivity() time.Time {
	sec := w.lastActivity.Load()
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func (w *Worker) nudgeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.nudge:
			w.drain(w.ctx)
		}
	}
}

// drain claims and processes rows until the queue is empty or ctx ends
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		row, err := w.store.ClaimNext(ctx, w.maxAttempts, w.leaseDuration)
		if err != nil {
			slog.Error("Failed to claim enrichment row", "error", err)
			return
		}
		if row == nil {
			return
		}

		w.metrics.Claimed.Add(1)
		w.lastActivity.Store(time.Now().Unix())
		w.processRow(ctx, row)
	}
}

// processRow fetches detail for one claimed row and records the outcome
func (w *Worker) processRow(ctx context.Context, row *models.KillmailEnrichment) {
	if err := w.throttle.Wait(ctx); err != nil {
		// Shutdown mid-wait; the lease sweep will reclaim the row
		return
	}

	payload, err := w.fetcher.GetKillmail(ctx, row.KillmailID)
	if err != nil {
		w.metrics.Failed.Add(1)
		if markErr := w.store.MarkFailed(ctx, row.KillmailID, err.Error()); markErr != nil {
			slog.Error("Failed to record enrichment failure",
				"error", markErr,
				"killmail_id", row.KillmailID)
		}
		slog.Warn("Enrichment fetch failed",
			"killmail_id", row.KillmailID,
			"attempts", row.Attempts+1,
			"error", err)
		return
	}

	if err := w.store.MarkSucceeded(ctx, row.KillmailID, bson.M(payload)); err != nil {
		slog.Error("Failed to record enrichment success",
			"error", err,
			"killmail_id", row.KillmailID)
		return
	}

	w.metrics.Succeeded.Add(1)

	event := EnrichedEvent{KillmailID: row.KillmailID, FetchedAt: time.Now().UTC()}
	if err := w.bus.Publish(ctx, eventbus.EventKillmailEnriched, fmt.Sprintf("%d", row.KillmailID), event); err != nil {
		slog.Warn("Failed to publish killmail.enriched", "error", err, "killmail_id", row.KillmailID)
	}

	slog.Debug("Killmail enriched", "killmail_id", row.KillmailID)
}

// sweepStale returns expired processing rows to pending
func (w *Worker) sweepStale(ctx context.Context) {
	released, err := w.store.ReleaseStale(ctx)
	if err != nil {
		slog.Error("Failed to sweep stale enrichment leases", "error", err)
		return
	}

	if released > 0 {
		w.metrics.StaleReleased.Add(released)
		slog.Info("Released stale enrichment leases", "count", released)
	}
}
