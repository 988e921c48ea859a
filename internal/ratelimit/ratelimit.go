// Package ratelimit provides Redis-based rate limiting for room traffic
package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/config"
	"gitlab.com/secp/services/syncroom/internal/logger"
)

// ErrRateLimited is returned when a rate limit is exceeded
var ErrRateLimited = errors.New("rate limit exceeded")

// counter increments a windowed counter and returns the new value
type counter interface {
	incr(ctx context.Context, key string, window time.Duration) (int64, error)
	get(ctx context.Context, key string) (int64, error)
}

type redisCounter struct {
	client *redis.Client
}

func (r redisCounter) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	// Use INCR to atomically increment the counter
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// If this is the first request, set the expiry
	if count == 1 {
		r.client.Expire(ctx, key, window)
	}
	return count, nil
}

func (r redisCounter) get(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Limits defines per-user budgets inside one window
type Limits struct {
	QueueAppends int
	RoomEvents   int
	Window       time.Duration
}

// LimitsFromConfig maps the RATELIMIT_* settings
func LimitsFromConfig(cfg config.RateLimit) Limits {
	return Limits{
		QueueAppends: cfg.QueueAppends,
		RoomEvents:   cfg.RoomEvents,
		Window:       cfg.Window,
	}
}

// DefaultLimits returns the recommended rate limits
func DefaultLimits() Limits {
	return Limits{
		QueueAppends: 30,
		RoomEvents:   120,
		Window:       time.Minute,
	}
}

// Limiter provides rate limiting functionality using Redis
type Limiter struct {
	counter counter
	limits  Limits
	log     *zap.Logger
}

// NewLimiter creates a new rate limiter. A nil client disables limiting.
func NewLimiter(client *redis.Client, limits Limits, log *zap.Logger) *Limiter {
	l := &Limiter{limits: limits, log: logger.OrNop(log).Named("ratelimit")}
	if client != nil {
		l.counter = redisCounter{client: client}
	}
	return l
}

// CheckQueueAppend checks the per-user budget for adding tracks
func (l *Limiter) CheckQueueAppend(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	return l.check(ctx, "ratelimit:queue:append:"+userID, l.limits.QueueAppends)
}

// CheckRoomEvent checks the per-user budget for realtime events.
// Presence and clock sync traffic is not counted by callers.
func (l *Limiter) CheckRoomEvent(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	return l.check(ctx, "ratelimit:room:event:"+userID, l.limits.RoomEvents)
}

func (l *Limiter) check(ctx context.Context, key string, limit int) error {
	if l.counter == nil || limit <= 0 {
		// If Redis is unavailable, allow the request (fail-open for availability)
		return nil
	}

	count, err := l.counter.incr(ctx, key, l.limits.Window)
	if err != nil {
		// Fail-open on Redis errors to maintain availability
		l.log.Debug("Rate limit check skipped", zap.String("key", key), zap.Error(err))
		return nil
	}

	if int(count) > limit {
		l.log.Info("Rate limit exceeded", zap.String("key", key), zap.Int64("count", count))
		return ErrRateLimited
	}
	return nil
}

// Remaining returns how many requests of kind ("append" or "event") are left
// for userID in the current window
func (l *Limiter) Remaining(ctx context.Context, kind, userID string) (int, error) {
	var key string
	var limit int
	switch kind {
	case "append":
		key, limit = "ratelimit:queue:append:"+userID, l.limits.QueueAppends
	case "event":
		key, limit = "ratelimit:room:event:"+userID, l.limits.RoomEvents
	default:
		return 0, errors.Errorf("unknown rate limit kind %q", kind)
	}

	if l.counter == nil {
		return limit, nil
	}

	count, err := l.counter.get(ctx, key)
	if err != nil {
		return limit, errors.Wrap(err, "failed to read rate limit counter")
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
