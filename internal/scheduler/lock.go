package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker claims a calendar day so that only one replica sends its report.
type Locker interface {
	TryLock(ctx context.Context, day string) (bool, error)
}

type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context, string) (bool, error) { return true, nil }

const (
	runLockPrefix = "dailyrevenue:run:"
	runLockTTL    = 36 * time.Hour
)

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLocker claims a day with SET NX. The key outlives the day so a late
// replica cannot claim it again.
type RedisLocker struct {
	client     setNXer
	instanceID string
	ttl        time.Duration
}

func NewRedisLocker(client *redis.Client, instanceID string) *RedisLocker {
	return newRedisLocker(client, instanceID)
}

func newRedisLocker(client setNXer, instanceID string) *RedisLocker {
	return &RedisLocker{client: client, instanceID: instanceID, ttl: runLockTTL}
}

func (l *RedisLocker) TryLock(ctx context.Context, day string) (bool, error) {
	return l.client.SetNX(ctx, runLockPrefix+day, l.instanceID, l.ttl).Result()
}
