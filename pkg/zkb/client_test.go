package zkb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"battlescope/pkg/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseURL string, withCache bool) *Client {
	t.Helper()

	var rdb *database.Redis
	if withCache {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		rdb = &database.Redis{Client: client}
	}

	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		userAgent:  "battlescope-test",
		redis:      rdb,
		maxRetries: 2,
	}
}

func TestGetKillmail(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/killID/128000001/", r.URL.Path)
		assert.Equal(t, "battlescope-test", r.Header.Get("User-Agent"))
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write([]byte(`[{"killmail_id": 128000001, "zkb": {"totalValue": 1234567.89}}]`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, true)

	record, err := c.GetKillmail(context.Background(), 128000001)
	require.NoError(t, err)
	assert.Equal(t, float64(128000001), record["killmail_id"])

	// Second call is served from cache
	record, err = c.GetKillmail(context.Background(), 128000001)
	require.NoError(t, err)
	assert.NotNil(t, record["zkb"])
	assert.Equal(t, int64(1), hits.Load())
}

func TestGetKillmailNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)

	_, err := c.GetKillmail(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetKillmailRetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[{"killmail_id": 7}]`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)

	record, err := c.GetKillmail(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, float64(7), record["killmail_id"])
	assert.Equal(t, int64(2), hits.Load())
}

func TestGetKillmailGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)
	c.maxRetries = 1

	_, err := c.GetKillmail(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestBackoffDuration(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDuration(0, 0))
	assert.Equal(t, 2*time.Second, backoffDuration(1, 0))
	assert.Equal(t, 8*time.Second, backoffDuration(3, 0))
	// Capped at ten seconds
	assert.Equal(t, 10*time.Second, backoffDuration(6, 0))
	// Retry-After wins when longer
	assert.Equal(t, 15*time.Second, backoffDuration(0, 15*time.Second))
}

func TestCacheTTL(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, minCacheTTL, cacheTTL(h))

	h.Set("Cache-Control", "public, max-age=3600")
	assert.Equal(t, time.Hour, cacheTTL(h))

	// Short upstream TTLs are clamped to the floor
	h.Set("Cache-Control", "max-age=60")
	assert.Equal(t, minCacheTTL, cacheTTL(h))
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, time.Duration(0), parseRetryAfter(h))

	h.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, parseRetryAfter(h))

	h.Set("Retry-After", "not-a-number")
	assert.Equal(t, time.Duration(0), parseRetryAfter(h))
}
