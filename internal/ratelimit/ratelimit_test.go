package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (m *memCounter) incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memCounter) get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key], m.err
}

func newTestLimiter(limits Limits) (*Limiter, *memCounter) {
	c := &memCounter{counts: map[string]int64{}}
	l := NewLimiter(nil, limits, nil)
	l.counter = c
	return l, c
}

func TestCheckQueueAppend(t *testing.T) {
	l, _ := newTestLimiter(Limits{QueueAppends: 3, RoomEvents: 10, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.CheckQueueAppend(ctx, "alice"))
	}
	assert.True(t, errors.Is(l.CheckQueueAppend(ctx, "alice"), ErrRateLimited))

	// Budgets are per user and per kind
	assert.NoError(t, l.CheckQueueAppend(ctx, "bob"))
	assert.NoError(t, l.CheckRoomEvent(ctx, "alice"))

	remaining, err := l.Remaining(ctx, "append", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	remaining, err = l.Remaining(ctx, "append", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = l.Remaining(ctx, "other", "alice")
	assert.Error(t, err)
}

func TestFailOpen(t *testing.T) {
	ctx := context.Background()

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.CheckQueueAppend(ctx, "alice"))
	assert.NoError(t, nilLimiter.CheckRoomEvent(ctx, "alice"))

	noRedis := NewLimiter(nil, Limits{QueueAppends: 1, Window: time.Minute}, nil)
	for i := 0; i < 5; i++ {
		assert.NoError(t, noRedis.CheckQueueAppend(ctx, "alice"))
	}

	broken, c := newTestLimiter(Limits{QueueAppends: 1, Window: time.Minute})
	c.err = errors.New("connection refused")
	for i := 0; i < 5; i++ {
		assert.NoError(t, broken.CheckQueueAppend(ctx, "alice"))
	}
}

func TestUnreachableRedisFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewLimiter(client, Limits{RoomEvents: 1, Window: time.Minute}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.NoError(t, l.CheckRoomEvent(ctx, "alice"))
	assert.NoError(t, l.CheckRoomEvent(ctx, "alice"))
}
