package calls

import (
	"context"
	"time"

	"callwallet/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// ActiveCallGuard holds at most one live call slot per caller across API instances.
type ActiveCallGuard interface {
	Acquire(ctx context.Context, userID, sessionID string) (bool, error)
	Release(ctx context.Context, userID, sessionID string) error
}

// RedisGuard keeps the slot in Redis, keyed by caller and owned by the session id.
// The TTL bounds how long a crashed instance can leave a caller blocked.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func activeCallKey(userID string) string {
	return "calls:active:" + userID
}

func (g *RedisGuard) Acquire(ctx context.Context, userID, sessionID string) (bool, error) {
	return utils.AcquireSlot(ctx, g.rdb, activeCallKey(userID), sessionID, g.ttl)
}

func (g *RedisGuard) Release(ctx context.Context, userID, sessionID string) error {
	return utils.ReleaseSlot(ctx, g.rdb, activeCallKey(userID), sessionID)
}
