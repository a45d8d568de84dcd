package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"battlescope/internal/killmails/dto"
	"battlescope/pkg/config"
)

// ConsumerState represents the state of the feed consumer
type ConsumerState int

const (
	StateStopped ConsumerState = iota
	StateStarting
	StateRunning
	StateDegraded
	StateStopping
)

func (s ConsumerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ConsumerMetrics tracks feed throughput
type ConsumerMetrics struct {
	TotalPolls     atomic.Int64
	NullResponses  atomic.Int64
	Received       atomic.Int64
	Duplicates     atomic.Int64
	Invalid        atomic.Int64
	HTTPErrors     atomic.Int64
	ParseErrors    atomic.Int64
	StoreErrors    atomic.Int64
	RateLimitHits  atomic.Int64
	LastKillmailID atomic.Int64
}

// Consumer long-polls the killmail feed. One package (or null) per
// request; adaptive time-to-wait keeps the connection cheap when the queue
// is dry, and the rate limiter backs off exponentially on 429s and
// transport errors.
type Consumer struct {
	httpClient *http.Client
	processor  *Processor

	queueID       string
	endpoint      string
	ttwMin        int
	ttwMax        int
	nullThreshold int

	mu         sync.RWMutex
	state      atomic.Int32
	lastPoll   time.Time
	nullStreak int
	ttw        int
	startTime  time.Time
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	metrics ConsumerMetrics

	rateLimiter *RateLimiter
}

// NewConsumer creates a new feed consumer instance
func NewConsumer(processor *Processor) *Consumer {
	queueID := config.GetEnv("REDISQ_QUEUE_ID", "")
	if queueID == "" {
		queueID = fmt.Sprintf("battlescope-%s", uuid.New().String()[:8])
	}

	endpoint := config.GetEnv("REDISQ_URL", "https://zkillredisq.stream/listen.php")
	ttwMin := config.GetIntEnv("REDISQ_TTW_MIN", 1)
	ttwMax := config.GetIntEnv("REDISQ_TTW_MAX", 10)
	nullThreshold := config.GetIntEnv("REDISQ_NULL_THRESHOLD", 5)
	httpTimeout := config.GetDurationEnv("REDISQ_HTTP_TIMEOUT", 30*time.Second)
	pollIntervalMs := config.GetIntEnv("POLL_INTERVAL_MS", 500)

	var transport http.RoundTripper = http.DefaultTransport
	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		transport = otelhttp.NewTransport(transport)
	}

	httpClient := &http.Client{
		Timeout:   httpTimeout,
		Transport: transport,
	}

	consumer := &Consumer{
		httpClient:    httpClient,
		processor:     processor,
		queueID:       queueID,
		endpoint:      endpoint,
		ttw:           ttwMin,
		ttwMin:        ttwMin,
		ttwMax:        ttwMax,
		nullThreshold: nullThreshold,
		rateLimiter:   NewRateLimiter(time.Duration(pollIntervalMs) * time.Millisecond),
	}

	consumer.state.Store(int32(StateStopped))
	return consumer
}

// Start begins the consumer polling loop
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ConsumerState(c.state.Load()) != StateStopped {
		return fmt.Errorf("consumer already running")
	}

	c.state.Store(int32(StateStarting))
	ctx, c.cancel = context.WithCancel(ctx)

	c.nullStreak = 0
	c.ttw = c.ttwMin
	c.startTime = time.Now()
	c.rateLimiter.Reset()

	c.wg.Add(1)
	go c.pollLoop(ctx)

	c.state.Store(int32(StateRunning))

	slog.Info("Feed consumer started", "queue_id", c.queueID, "endpoint", c.endpoint)
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ConsumerState(c.state.Load()) == StateStopped {
		return fmt.Errorf("consumer not running")
	}

	c.state.Store(int32(StateStopping))
	slog.Info("Stopping feed consumer...")

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Feed consumer stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Feed consumer stop timeout")
	}

	c.state.Store(int32(StateStopped))

	return nil
}

// pollLoop is the main polling loop
func (c *Consumer) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	slog.Info("Starting feed poll loop")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Feed poll loop context cancelled")
			return
		default:
			c.poll(ctx)
		}
	}
}

// poll performs a single long-poll request
func (c *Consumer) poll(ctx context.Context) {
	if err := c.rateLimiter.Acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Rate limit acquisition failed", "error", err)
		c.metrics.RateLimitHits.Add(1)
		c.backOff(ctx)
		return
	}
	defer c.rateLimiter.Release()

	ttw := c.calculateTTW()
	url := fmt.Sprintf("%s?queueID=%s&ttw=%d", c.endpoint, c.queueID, ttw)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Error("Failed to create feed request", "error", err)
		c.metrics.HTTPErrors.Add(1)
		c.backOff(ctx)
		return
	}

	req.Header.Set("User-Agent", config.GetEnv("ZKB_USER_AGENT", "battlescope/1.0"))
	req.Header.Set("Accept", "application/json")

	c.metrics.TotalPolls.Add(1)
	c.mu.Lock()
	c.lastPoll = time.Now()
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Feed request failed", "error", err)
		c.metrics.HTTPErrors.Add(1)
		c.backOff(ctx)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		slog.Warn("Rate limited by feed")
		c.metrics.RateLimitHits.Add(1)
		c.backOff(ctx)
		return
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("Unexpected feed status", "status", resp.StatusCode)
		c.metrics.HTTPErrors.Add(1)
		c.backOff(ctx)
		return
	}

	var redisqResp dto.RedisQResponse
	if err := json.NewDecoder(resp.Body).Decode(&redisqResp); err != nil {
		slog.Error("Failed to decode feed response", "error", err)
		c.metrics.ParseErrors.Add(1)
		return
	}

	c.rateLimiter.ResetBackoff()
	c.processResponse(ctx, &redisqResp)
}

// backOff sleeps for the limiter's current backoff, marking the consumer
// degraded for the duration
func (c *Consumer) backOff(ctx context.Context) {
	c.rateLimiter.IncrementBackoff()
	backoff := c.rateLimiter.BackoffDuration()

	c.state.Store(int32(StateDegraded))
	slog.Info("Feed backing off", "backoff", backoff)

	select {
	case <-time.After(backoff):
	case <-ctx.Done():
	}

	c.state.Store(int32(StateRunning))
}

// processResponse handles one feed response
func (c *Consumer) processResponse(ctx context.Context, resp *dto.RedisQResponse) {
	if resp.Package == nil {
		c.metrics.NullResponses.Add(1)
		c.mu.Lock()
		c.nullStreak++
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.nullStreak = 0
	c.ttw = c.ttwMin
	c.mu.Unlock()

	outcome, err := c.processor.Process(ctx, resp.Package)
	switch outcome {
	case OutcomeStored:
		c.metrics.Received.Add(1)
		c.metrics.LastKillmailID.Store(resp.Package.KillID)
		slog.Info("Killmail ingested",
			"killmail_id", resp.Package.KillID,
			"value", resp.Package.ZKB.TotalValue)
	case OutcomeDuplicate:
		c.metrics.Duplicates.Add(1)
		slog.Debug("Duplicate killmail", "killmail_id", resp.Package.KillID)
	case OutcomeInvalid:
		c.metrics.Invalid.Add(1)
		slog.Warn("Malformed killmail package", "killmail_id", resp.Package.KillID, "error", err)
	case OutcomeFailed:
		c.metrics.StoreErrors.Add(1)
		slog.Error("Failed to store killmail", "killmail_id", resp.Package.KillID, "error", err)
	}
}

// calculateTTW returns the adaptive time-to-wait: minimum while killmails
// flow, maximum once the null streak passes the threshold
func (c *Consumer) calculateTTW() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.nullStreak >= c.nullThreshold {
		return c.ttwMax
	}
	return c.ttwMin
}

// GetStatus returns the current consumer status
func (c *Consumer) GetStatus() dto.ConsumerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var lastPoll *time.Time
	if !c.lastPoll.IsZero() {
		t := c.lastPoll
		lastPoll = &t
	}

	var lastKillmail *int64
	if id := c.metrics.LastKillmailID.Load(); id > 0 {
		lastKillmail = &id
	}

	var uptimeSeconds int64
	if !c.startTime.IsZero() && ConsumerState(c.state.Load()) != StateStopped {
		uptimeSeconds = int64(time.Since(c.startTime).Seconds())
	}

	return dto.ConsumerStatus{
		State:          ConsumerState(c.state.Load()).String(),
		QueueID:        c.queueID,
		Endpoint:       c.endpoint,
		LastPoll:       lastPoll,
		LastKillmailID: lastKillmail,
		UptimeSeconds:  uptimeSeconds,
		Metrics: dto.ConsumerMetricsResponse{
			TotalPolls:    c.metrics.TotalPolls.Load(),
			NullResponses: c.metrics.NullResponses.Load(),
			Received:      c.metrics.Received.Load(),
			Duplicates:    c.metrics.Duplicates.Load(),
			Invalid:       c.metrics.Invalid.Load(),
			HTTPErrors:    c.metrics.HTTPErrors.Load(),
			ParseErrors:   c.metrics.ParseErrors.Load(),
			StoreErrors:   c.metrics.StoreErrors.Load(),
			RateLimitHits: c.metrics.RateLimitHits.Load(),
			CurrentTTW:    c.ttw,
			NullStreak:    c.nullStreak,
		},
		Config: dto.ConsumerConfigResponse{
			TTWMin:        c.ttwMin,
			TTWMax:        c.ttwMax,
			NullThreshold: c.nullThreshold,
		},
	}
}
