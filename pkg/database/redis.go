package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"battlescope/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Redis wraps the client with optional per-command tracing. The Client
// field stays exported for pub/sub and scripting, which need the raw client.
type Redis struct {
	Client *redis.Client
	tracer trace.Tracer
}

func NewRedis(ctx context.Context) (*Redis, error) {
	redisURL := config.GetEnv("REDIS_URL", "redis://localhost:6379")

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", opt.Addr)

	r := &Redis{Client: client}
	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		r.tracer = otel.Tracer("redis-client")
	}

	return r, nil
}

func (r *Redis) Close() error {
	return r.Client.Close()
}

func (r *Redis) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.Client.Ping(ctx).Err()
}

// SetNX sets a key only if it does not exist and reports whether it was set
func (r *Redis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ctx, end := r.span(ctx, "SETNX", key)
	ok, err := r.Client.SetNX(ctx, key, value, expiration).Result()
	end(err)
	return ok, err
}

// SetJSON stores a JSON-serializable object with an expiration
func (r *Redis) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	ctx, end := r.span(ctx, "SET_JSON", key)
	err = r.Client.Set(ctx, key, jsonData, expiration).Err()
	end(err)
	return err
}

// GetJSON retrieves and unmarshals a JSON object
func (r *Redis) GetJSON(ctx context.Context, key string, dest interface{}) error {
	ctx, end := r.span(ctx, "GET_JSON", key)
	jsonData, err := r.Client.Get(ctx, key).Result()
	end(err)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(jsonData), dest); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

// span opens a command span when tracing is enabled. The returned func
// records the error and ends the span; with tracing off it is a no-op.
func (r *Redis) span(ctx context.Context, op string, keys ...string) (context.Context, func(error)) {
	if r.tracer == nil {
		return ctx, func(error) {}
	}

	ctx, cmdSpan := r.tracer.Start(ctx, "redis."+strings.ToLower(op),
		trace.WithAttributes(
			attribute.String("redis.operation", op),
			attribute.StringSlice("redis.keys", keys),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			cmdSpan.RecordError(err)
		}
		cmdSpan.End()
	}
}
