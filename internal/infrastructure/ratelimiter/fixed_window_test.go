package ratelimiter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(limit int, length time.Duration, clock *time.Time) *FixedWindowRateLimiter {
	rl := NewFixedWindowRateLimiter(limit, length)
	rl.now = func() time.Time { return *clock }
	return rl
}

func TestFixedWindow_LimitsPerKey(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)
	rl := newTestLimiter(2, 15*time.Minute, &clock)
	defer rl.Close()

	for i := 0; i < 2; i++ {
		ok, _ := rl.Allow("10.0.0.1")
		assert.True(t, ok)
	}

	ok, retryAfter := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 10*time.Minute, retryAfter)

	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok, "other callers have their own window")
}

func TestFixedWindow_ResetsOnNextWindow(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 14, 0, 0, time.UTC)
	rl := newTestLimiter(1, 15*time.Minute, &clock)
	defer rl.Close()

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.False(t, ok)

	clock = clock.Add(time.Minute)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
}

func TestFixedWindow_CleanupForgetsExpiredKeys(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newTestLimiter(1, time.Minute, &clock)
	defer rl.Close()

	rl.Allow("a")
	clock = clock.Add(2 * time.Minute)
	rl.cleanup()

	_, found := rl.counts.Load("a")
	assert.False(t, found)
}

func TestFixedWindow_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newTestLimiter(100, time.Hour, &clock)
	defer rl.Close()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := rl.Allow("same"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), allowed.Load())
	rl.Close()
}
