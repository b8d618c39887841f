package ratelimiter

import (
	"sync"
	"time"
)

// Limiter decides whether the caller identified by key may proceed. When it
// may not, the duration says how long until it may.
type Limiter interface {
	Allow(key string) (bool, time.Duration)
}

// FixedWindowRateLimiter allows limit requests per key in each window.
// Windows are aligned to multiples of the window length.
type FixedWindowRateLimiter struct {
	counts      sync.Map // key -> *window
	limit       int
	window      time.Duration
	now         func() time.Time
	cleanupTick *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

type window struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

func NewFixedWindowRateLimiter(limit int, length time.Duration) *FixedWindowRateLimiter {
	rl := &FixedWindowRateLimiter{
		limit:       limit,
		window:      length,
		now:         time.Now,
		cleanupTick: time.NewTicker(length),
		done:        make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *FixedWindowRateLimiter) Allow(key string) (bool, time.Duration) {
	now := rl.now()

	val, _ := rl.counts.LoadOrStore(key, &window{})
	w := val.(*window)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Truncate(rl.window).Add(rl.window)
	}

	if w.count >= rl.limit {
		return false, w.resetAt.Sub(now)
	}

	w.count++
	return true, 0
}

func (rl *FixedWindowRateLimiter) startCleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.cleanup()
		case <-rl.done:
			return
		}
	}
}

// cleanup forgets keys whose window has ended.
func (rl *FixedWindowRateLimiter) cleanup() {
	now := rl.now()
	rl.counts.Range(func(key, value any) bool {
		w := value.(*window)
		w.mu.Lock()
		expired := !now.Before(w.resetAt)
		w.mu.Unlock()

		if expired {
			rl.counts.Delete(key)
		}
		return true
	})
}

func (rl *FixedWindowRateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
		rl.cleanupTick.Stop()
	})
}
