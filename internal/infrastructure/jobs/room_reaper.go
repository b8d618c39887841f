package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hilthontt/watchparty/internal/domain"
	"github.com/hilthontt/watchparty/internal/infrastructure/logging"
	"github.com/hilthontt/watchparty/internal/infrastructure/metrics"
)

const (
	DefaultReapInterval  = time.Hour
	DefaultReapRetention = 6 * time.Hour

	reasonIdle = "idle"
)

type DeletionNotifier interface {
	RoomDeleted(ctx context.Context, room *domain.Room, reason string, idleFor time.Duration) error
}

type ReaperConfig struct {
	Interval     time.Duration
	Retention    time.Duration
	StoreTimeout time.Duration
}

// RoomReaper periodically deletes rooms nobody is in and nobody has touched
// for the retention window.
type RoomReaper struct {
	store    domain.RoomRepository
	notifier DeletionNotifier
	logger   logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	interval     time.Duration
	retention    time.Duration
	storeTimeout time.Duration

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type ReaperOption func(*RoomReaper)

func WithDeletionNotifier(n DeletionNotifier) ReaperOption {
	return func(r *RoomReaper) { r.notifier = n }
}

func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *RoomReaper) { r.now = now }
}

func NewRoomReaper(store domain.RoomRepository, logger logging.Logger, m *metrics.Metrics, cfg ReaperConfig, opts ...ReaperOption) *RoomReaper {
	r := &RoomReaper{
		store:        store,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
		interval:     cfg.Interval,
		retention:    cfg.Retention,
		storeTimeout: cfg.StoreTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	if r.interval <= 0 {
		r.interval = DefaultReapInterval
	}
	if r.retention <= 0 {
		r.retention = DefaultReapRetention
	}
	if r.storeTimeout <= 0 {
		r.storeTimeout = 5 * time.Second
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start sweeps once and then on every interval until ctx is done or Stop is called.
func (r *RoomReaper) Start(ctx context.Context) {
	r.started.Store(true)
	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.run(ctx)
		for {
			select {
			case <-ticker.C:
				r.run(ctx)
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	r.logger.Info(logging.Room, logging.Sweep, "room reaper started", map[logging.ExtraKey]any{
		"interval":  r.interval.String(),
		"retention": r.retention.String(),
	})
}

// Stop waits for an in-flight sweep to finish.
func (r *RoomReaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	if r.started.Load() {
		<-r.done
	}
}

func (r *RoomReaper) run(ctx context.Context) {
	deleted, err := r.Sweep(ctx)
	if err != nil {
		r.logger.Error(logging.Room, logging.Sweep, "room sweep failed", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	if deleted > 0 {
		r.logger.Info(logging.Room, logging.Sweep, "idle rooms deleted", map[logging.ExtraKey]any{
			logging.Count: deleted,
		})
	}
}

// Sweep deletes every idle room and reports how many went. A failure on one
// room is logged and does not stop the others; only a failed listing is returned.
func (r *RoomReaper) Sweep(ctx context.Context) (int, error) {
	listCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	rooms, err := r.store.List(listCtx)
	cancel()
	if err != nil {
		return 0, err
	}

	now := r.now()
	cutoff := now.Add(-r.retention)

	deleted := 0
	for _, room := range rooms {
		if !room.IsIdle(cutoff) {
			continue
		}
		if r.reap(ctx, room.Code, cutoff, now) {
			deleted++
		}
	}
	return deleted, nil
}

func (r *RoomReaper) reap(ctx context.Context, code string, cutoff, now time.Time) bool {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	extra := map[logging.ExtraKey]any{logging.RoomCode: code}

	// Re-read so a room that was joined since the listing survives.
	room, err := r.store.Get(ctx, code)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return false
	}
	if err != nil {
		extra[logging.ErrorMessage] = err.Error()
		r.logger.Warn(logging.Room, logging.Sweep, "failed to re-read room", extra)
		return false
	}
	if !room.IsIdle(cutoff) {
		return false
	}

	err = r.store.Delete(ctx, code, room.Version)
	switch {
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrRoomNotFound):
		r.logger.Debug(logging.Room, logging.Sweep, "room changed before delete, skipping", extra)
		return false
	case err != nil:
		extra[logging.ErrorMessage] = err.Error()
		r.logger.Warn(logging.Room, logging.Delete, "failed to delete idle room", extra)
		return false
	}

	r.metrics.RoomsReaped.Inc()

	if r.notifier != nil {
		idleFor := now.Sub(time.UnixMilli(room.PlayerState.LastUpdated))
		if err := r.notifier.RoomDeleted(ctx, room, reasonIdle, idleFor); err != nil {
			extra[logging.ErrorMessage] = err.Error()
			r.logger.Warn(logging.RabbitMQ, logging.Publish, "failed to publish room deleted", extra)
		}
	}
	return true
}
