package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"battlescope/pkg/database"
)

const (
	battleLockPrefix = "battlescope:lock:battle:"
	battleLockTTL    = 15 * time.Second
)

// releaseScript deletes the lock only while this instance still owns it, so
// a holder whose TTL lapsed cannot release the next holder's lock
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// BattleLock serialises battle extension across clusterer instances with a
// Redis advisory lock. Without Redis every acquire succeeds; the
// single-writer invariant then holds only within this process.
type BattleLock struct {
	redis *database.Redis
	owner string
}

// NewBattleLock creates a battle lock manager owned by this instance
func NewBattleLock(redis *database.Redis, owner string) *BattleLock {
	return &BattleLock{redis: redis, owner: owner}
}

// Acquire takes the advisory lock for a battle id. Returns false when
// another holder has it.
func (l *BattleLock) Acquire(ctx context.Context, battleID string) (bool, error) {
	if l.redis == nil {
		return true, nil
	}

	ok, err := l.redis.SetNX(ctx, battleLockPrefix+battleID, l.owner, battleLockTTL)
	if err != nil {
		return false, fmt.Errorf("failed to acquire battle lock %s: %w", battleID, err)
	}
	return ok, nil
}

// Release drops the advisory lock if this instance still holds it. The TTL
// reclaims abandoned locks, so a failed release only delays the next writer.
func (l *BattleLock) Release(ctx context.Context, battleID string) {
	if l.redis == nil {
		return
	}

	key := battleLockPrefix + battleID
	if err := releaseScript.Run(ctx, l.redis.Client, []string{key}, l.owner).Err(); err != nil {
		slog.Warn("Failed to release battle lock", "battle_id", battleID, "error", err)
	}
}
