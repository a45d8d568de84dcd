package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublishSubscribe(t *testing.T) {
	client := newTestClient(t)
	publisher := New(client)
	subscriber := New(client)
	require.NotEqual(t, publisher.ServerID(), subscriber.ServerID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := subscriber.Subscribe(ctx, EventBattleDetected, EventBattleUpdated)
	require.NoError(t, err)

	payload := map[string]interface{}{"system_id": float64(30000142), "total_kills": float64(3)}
	require.NoError(t, publisher.Publish(ctx, EventBattleDetected, "battle-1", payload))

	select {
	case envelope := <-ch:
		assert.Equal(t, EventBattleDetected, envelope.Event)
		assert.Equal(t, "battle-1", envelope.Key)
		assert.Equal(t, publisher.ServerID(), envelope.ServerID)

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(envelope.Data, &got))
		assert.Equal(t, payload, got)
	case <-ctx.Done():
		t.Fatal("timed out waiting for envelope")
	}
}

func TestSubscribeFiltersOwnMessages(t *testing.T) {
	client := newTestClient(t)
	bus := New(client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := bus.Subscribe(ctx, EventKillmailReceived)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, EventKillmailReceived, "128000001", nil))

	select {
	case envelope, ok := <-ch:
		if ok {
			t.Fatalf("expected no envelope from own server, got %+v", envelope)
		}
	case <-time.After(300 * time.Millisecond):
		// Own messages are filtered; nothing should arrive
	}
}

func TestSubscribeOnlyRequestedEvents(t *testing.T) {
	client := newTestClient(t)
	publisher := New(client)
	subscriber := New(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := subscriber.Subscribe(ctx, EventKillmailEnriched)
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, EventKillmailReceived, "1", nil))
	require.NoError(t, publisher.Publish(ctx, EventKillmailEnriched, "2", nil))

	select {
	case envelope := <-ch:
		assert.Equal(t, EventKillmailEnriched, envelope.Event)
		assert.Equal(t, "2", envelope.Key)
	case <-ctx.Done():
		t.Fatal("timed out waiting for envelope")
	}
}

func TestPublishWithoutClientIsNoop(t *testing.T) {
	bus := New(nil)
	assert.NoError(t, bus.Publish(context.Background(), EventBattleUpdated, "battle-2", nil))
	assert.False(t, bus.IsHealthy(context.Background()))

	_, err := bus.Subscribe(context.Background(), EventBattleUpdated)
	assert.Error(t, err)
}

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "battlescope:battle.detected", ChannelFor(EventBattleDetected))
}
