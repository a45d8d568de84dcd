package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event names published by the pipeline
const (
	EventKillmailReceived = "killmail.received"
	EventKillmailEnriched = "killmail.enriched"
	EventBattleDetected   = "battle.detected"
	EventBattleUpdated    = "battle.updated"
)

// channelPrefix namespaces bus channels in a shared Redis
const channelPrefix = "battlescope:"

// Envelope wraps a published event with its routing key and origin
type Envelope struct {
	Event     string          `json:"event"`
	Key       string          `json:"key"`
	ServerID  string          `json:"server_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus publishes pipeline events over Redis pub/sub. Each instance tags
// messages with its server ID so subscribers can filter their own echoes.
// A nil Redis client turns the bus into a no-op; the pipeline never
// depends on the bus being reachable.
type Bus struct {
	client   *redis.Client
	serverID string
}

// New creates an event bus backed by the given Redis client (nil allowed)
func New(client *redis.Client) *Bus {
	return &Bus{
		client:   client,
		serverID: uuid.New().String(),
	}
}

// ServerID returns the identity this bus stamps on published envelopes
func (b *Bus) ServerID() string {
	return b.serverID
}

// ChannelFor returns the Redis channel carrying the given event
func ChannelFor(event string) string {
	return channelPrefix + event
}

// Publish sends an event keyed by killmail or battle id. Payload must be
// JSON-serialisable; failures are returned for the caller to log, never to
// abort on.
func (b *Bus) Publish(ctx context.Context, event, key string, payload interface{}) error {
	if b.client == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	envelope := Envelope{
		Event:     event,
		Key:       key,
		ServerID:  b.serverID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", event, err)
	}

	if err := b.client.Publish(ctx, ChannelFor(event), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event, err)
	}

	slog.Debug("Event published", "event", event, "key", key, "server_id", b.serverID)
	return nil
}

// Subscribe listens for the given events and delivers envelopes from other
// instances until ctx is cancelled. The returned channel is closed on
// cancellation or subscription loss.
func (b *Bus) Subscribe(ctx context.Context, events ...string) (<-chan Envelope, error) {
	if b.client == nil {
		return nil, fmt.Errorf("event bus has no redis client")
	}

	channels := make([]string, len(events))
	for i, event := range events {
		channels[i] = ChannelFor(event)
	}

	pubsub := b.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", events, err)
	}

	out := make(chan Envelope, 64)
	go b.listen(ctx, pubsub, out)

	slog.Info("Event bus subscribed", "server_id", b.serverID, "channels", channels)
	return out, nil
}

func (b *Bus) listen(ctx context.Context, pubsub *redis.PubSub, out chan<- Envelope) {
	defer close(out)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var envelope Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				slog.Error("Failed to unmarshal bus envelope",
					"error", err,
					"channel", msg.Channel)
				continue
			}

			// Ignore messages from this instance
			if envelope.ServerID == b.serverID {
				continue
			}

			select {
			case out <- envelope:
			case <-ctx.Done():
				return
			}
		}
	}
}

// IsHealthy checks the underlying Redis connection
func (b *Bus) IsHealthy(ctx context.Context) bool {
	if b.client == nil {
		return false
	}
	return b.client.Ping(ctx).Err() == nil
}
