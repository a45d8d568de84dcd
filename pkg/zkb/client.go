package zkb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"battlescope/pkg/config"
	"battlescope/pkg/database"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultBaseURL = "https://zkillboard.com"
	cacheKeyPrefix = "zkb:killmail:"

	// zKillboard responses usually carry Cache-Control; this is the floor
	minCacheTTL = 5 * time.Minute
)

// ErrNotFound indicates zKillboard has no record for the requested killmail
var ErrNotFound = fmt.Errorf("killmail not found on zkillboard")

// Client fetches per-killmail detail from the zKillboard API. Responses are
// cached in Redis honouring the upstream Cache-Control header; a missing or
// failing cache degrades to direct fetches.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	redis      *database.Redis
	maxRetries int
}

// NewClient creates a zKillboard API client. redis may be nil.
func NewClient(redis *database.Redis) *Client {
	var transport http.RoundTripper = http.DefaultTransport

	// Only add OpenTelemetry instrumentation if telemetry is enabled
	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		transport = otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Host)
			}),
		)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		baseURL:    config.GetEnv("ZKB_API_URL", defaultBaseURL),
		userAgent:  config.GetEnv("ZKB_USER_AGENT", "battlescope/1.0.0 contact@example.com"),
		redis:      redis,
		maxRetries: config.GetIntEnv("ZKB_MAX_RETRIES", 3),
	}
}

// GetKillmail fetches the zKillboard record for a killmail id.
// The endpoint returns a JSON array; the first element is the record.
func (c *Client) GetKillmail(ctx context.Context, killmailID int64) (map[string]interface{}, error) {
	tracer := otel.Tracer("zkb")
	ctx, span := tracer.Start(ctx, "zkb.GetKillmail")
	span.SetAttributes(attribute.Int64("killmail.id", killmailID))
	defer span.End()

	cacheKey := fmt.Sprintf("%s%d", cacheKeyPrefix, killmailID)

	if c.redis != nil {
		var cached map[string]interface{}
		if err := c.redis.GetJSON(ctx, cacheKey, &cached); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
	}

	requestURL := fmt.Sprintf("%s/api/killID/%d/", c.baseURL, killmailID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("zkillboard returned status %d for killmail %d", resp.StatusCode, killmailID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to decode zkillboard response: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("killmail %d: %w", killmailID, ErrNotFound)
	}

	record := records[0]

	if c.redis != nil {
		ttl := cacheTTL(resp.Header)
		if err := c.redis.SetJSON(ctx, cacheKey, record, ttl); err != nil {
			span.AddEvent("cache write failed")
		}
	}

	return record, nil
}

// doWithRetry retries on transport errors, 420/429 rate limits and 5xx,
// honouring Retry-After and backing off exponentially up to 10 seconds.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		reqClone := req.Clone(ctx)

		resp, err = c.httpClient.Do(reqClone)
		if err != nil {
			if attempt == c.maxRetries {
				return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, err)
			}
			if waitErr := c.backoff(ctx, backoffDuration(attempt, 0)); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == 420 || resp.StatusCode == 429 {
			retryAfter := parseRetryAfter(resp.Header)
			resp.Body.Close()

			if attempt == c.maxRetries {
				return nil, fmt.Errorf("request failed with status %d after %d attempts", resp.StatusCode, c.maxRetries+1)
			}
			if waitErr := c.backoff(ctx, backoffDuration(attempt, retryAfter)); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		break
	}

	return resp, nil
}

func (c *Client) backoff(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func backoffDuration(attempt int, retryAfter time.Duration) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

func parseRetryAfter(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// cacheTTL derives the cache lifetime from Cache-Control, clamped to the floor
func cacheTTL(headers http.Header) time.Duration {
	ttl := minCacheTTL
	if maxAge := parseCacheControlMaxAge(headers.Get("Cache-Control")); maxAge > 0 {
		parsed := time.Duration(maxAge) * time.Second
		if parsed > ttl {
			ttl = parsed
		}
	}
	return ttl
}

func parseCacheControlMaxAge(cacheControl string) int {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			if maxAge, err := strconv.Atoi(value); err == nil {
				return maxAge
			}
		}
	}
	return 0
}
