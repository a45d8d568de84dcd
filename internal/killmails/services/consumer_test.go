package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlescope/internal/killmails/dto"
)

func TestConsumerCalculateTTW(t *testing.T) {
	t.Setenv("REDISQ_TTW_MIN", "2")
	t.Setenv("REDISQ_TTW_MAX", "20")
	t.Setenv("REDISQ_NULL_THRESHOLD", "3")

	consumer := NewConsumer(nil)

	tests := []struct {
		name       string
		nullStreak int
		expected   int
	}{
		{"fresh stream", 0, 2},
		{"short dry spell", 2, 2},
		{"at threshold", 3, 20},
		{"long dry spell", 10, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer.mu.Lock()
			consumer.nullStreak = tt.nullStreak
			consumer.mu.Unlock()

			assert.Equal(t, tt.expected, consumer.calculateTTW())
		})
	}
}

func TestConsumerNullResponseGrowsStreak(t *testing.T) {
	consumer := NewConsumer(nil)

	for i := 0; i < 3; i++ {
		consumer.processResponse(context.Background(), &dto.RedisQResponse{Package: nil})
	}

	assert.Equal(t, int64(3), consumer.metrics.NullResponses.Load())

	consumer.mu.RLock()
	defer consumer.mu.RUnlock()
	assert.Equal(t, 3, consumer.nullStreak)
}

func TestConsumerStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown", ConsumerState(99).String())
}

func TestConsumerQueueID(t *testing.T) {
	t.Run("generated", func(t *testing.T) {
		t.Setenv("REDISQ_QUEUE_ID", "")
		consumer := NewConsumer(nil)

		assert.True(t, strings.HasPrefix(consumer.queueID, "battlescope-"))
		assert.Len(t, consumer.queueID, len("battlescope-")+8)
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("REDISQ_QUEUE_ID", "battlescope-test-queue")
		consumer := NewConsumer(nil)

		assert.Equal(t, "battlescope-test-queue", consumer.queueID)
	})
}

func TestConsumerInitialStatus(t *testing.T) {
	t.Setenv("REDISQ_QUEUE_ID", "battlescope-status-test")

	consumer := NewConsumer(nil)
	status := consumer.GetStatus()

	require.Equal(t, "stopped", status.State)
	assert.Equal(t, "battlescope-status-test", status.QueueID)
	assert.Nil(t, status.LastPoll)
	assert.Nil(t, status.LastKillmailID)
	assert.Zero(t, status.UptimeSeconds)
	assert.Zero(t, status.Metrics.TotalPolls)
	assert.Equal(t, 1, status.Config.TTWMin)
	assert.Equal(t, 10, status.Config.TTWMax)
	assert.Equal(t, 5, status.Config.NullThreshold)
}
