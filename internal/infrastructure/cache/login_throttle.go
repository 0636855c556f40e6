package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LoginThrottle limits failed authentication attempts per origin with a
// redis sorted-set sliding window. A full window refuses further connection
// attempts until old failures age out.
type LoginThrottle struct {
	client   *redis.Client
	limit    int
	window   time.Duration
	failOpen bool
	now      func() time.Time
}

// NewLoginThrottle creates a throttle allowing limit failures per window.
// failOpen controls behavior when redis is unreachable: auth paths fail
// open so a cache outage cannot lock everyone out.
func NewLoginThrottle(client *redis.Client, limit int, window time.Duration, failOpen bool) *LoginThrottle {
	return &LoginThrottle{
		client:   client,
		limit:    limit,
		window:   window,
		failOpen: failOpen,
		now:      time.Now,
	}
}

// Allow reports whether the origin may attempt to authenticate.
func (t *LoginThrottle) Allow(ctx context.Context, origin string) (bool, error) {
	key := t.key(origin)
	windowStart := t.now().Add(-t.window)

	pipe := t.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		if t.failOpen {
			return true, nil
		}
		return false, fmt.Errorf("login throttle check: %w", err)
	}
	return countCmd.Val() < int64(t.limit), nil
}

// RecordFailure registers a failed attempt from the origin.
func (t *LoginThrottle) RecordFailure(ctx context.Context, origin string) error {
	key := t.key(origin)
	now := t.now()

	pipe := t.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
	})
	pipe.Expire(ctx, key, t.window)
	if _, err := pipe.Exec(ctx); err != nil {
		if t.failOpen {
			return nil
		}
		return fmt.Errorf("login throttle record: %w", err)
	}
	return nil
}

// Reset clears the origin's window after a successful authentication.
func (t *LoginThrottle) Reset(ctx context.Context, origin string) error {
	if err := t.client.Del(ctx, t.key(origin)).Err(); err != nil && !t.failOpen {
		return fmt.Errorf("login throttle reset: %w", err)
	}
	return nil
}

func (t *LoginThrottle) key(origin string) string {
	return "auth_fail:" + origin
}
