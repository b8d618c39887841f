package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/watchparty/internal/domain"
	"github.com/hilthontt/watchparty/internal/infrastructure/logging"
	"github.com/hilthontt/watchparty/internal/infrastructure/metrics"
	"github.com/hilthontt/watchparty/internal/infrastructure/validate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultMaxRetries   = 5
)

// Conn is one client connection as seen by the engine.
type Conn interface {
	ID() string
	// Binding returns the room code and user id the connection last joined with.
	Binding() (code, userID string)
	Bind(code, userID string)
	// Send queues evt for delivery and reports false if it was dropped.
	Send(evt *Event) bool
}

// Broadcaster fans events out to the connections subscribed to a room.
type Broadcaster interface {
	JoinChannel(code string, c Conn)
	LeaveChannel(code string, c Conn)
	Broadcast(code string, evt *Event)
	Unicast(c Conn, evt *Event)
	Members(code string) []Conn
}

// Notifier receives room lifecycle events after they are committed.
type Notifier interface {
	RoomCreated(ctx context.Context, room *domain.Room) error
	MemberJoined(ctx context.Context, room *domain.Room, userID string) error
	MemberLeft(ctx context.Context, room *domain.Room, userID string, wasHost bool) error
}

type Config struct {
	StoreTimeout time.Duration
	MaxRetries   int
}

type Engine struct {
	store    domain.RoomRepository
	router   Broadcaster
	notifier Notifier
	logger   logging.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	locks    roomLocks
	now      func() time.Time

	storeTimeout time.Duration
	maxRetries   int
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store domain.RoomRepository, router Broadcaster, logger logging.Logger, m *metrics.Metrics, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		router:       router,
		logger:       logger,
		metrics:      m,
		tracer:       otel.Tracer("watchparty/engine"),
		now:          time.Now,
		storeTimeout: cfg.StoreTimeout,
		maxRetries:   cfg.MaxRetries,
	}
	if e.storeTimeout <= 0 {
		e.storeTimeout = DefaultStoreTimeout
	}
	if e.maxRetries <= 0 {
		e.maxRetries = DefaultMaxRetries
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// result is one committed (or refused) transition together with the snapshot it was computed from.
type result struct {
	prev    *domain.Room
	outcome domain.Outcome
}

// Handle runs cmd for origin: validate, apply under the room lock, persist,
// then broadcast. Every failure is reported to origin as room:error and also
// returned. origin may be nil for server-initiated commands.
func (e *Engine) Handle(ctx context.Context, origin Conn, cmd domain.Command) error {
	start := time.Now()
	code := cmd.RoomCode()

	ctx, span := e.tracer.Start(ctx, "engine.Handle", trace.WithAttributes(
		attribute.String("room.code", code),
		attribute.String("command", string(cmd.Name())),
	))
	defer span.End()

	outcome, err := e.handle(ctx, origin, cmd)

	e.metrics.Commands.WithLabelValues(string(cmd.Name()), outcome).Inc()
	e.metrics.CommandDuration.WithLabelValues(string(cmd.Name())).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("outcome", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		level := e.logger.Warn
		if errors.Is(err, domain.ErrStoreUnavailable) {
			level = e.logger.Error
		}
		level(logging.Room, logging.Command, "command rejected", map[logging.ExtraKey]any{
			logging.RoomCode:     code,
			logging.CommandName:  cmd.Name(),
			logging.Reason:       domain.Reason(err),
			logging.ErrorMessage: err.Error(),
		})

		if origin != nil {
			e.router.Unicast(origin, NewRoomError(code, err))
		}
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// HandleDisconnect drops c from its channel and, once no other connection of
// the same user is left there, removes the user from the room.
func (e *Engine) HandleDisconnect(ctx context.Context, c Conn) {
	code, userID := c.Binding()
	if code == "" {
		return
	}

	e.router.LeaveChannel(code, c)
	e.leaveIfGone(ctx, c, binding{code: code, userID: userID})
}

// binding is a room code and user id a connection was attached to.
type binding struct {
	code   string
	userID string
}

// leaveIfGone removes b.userID from b.code once no connection in that channel
// is bound to the user any more. It must not run under a room lock.
func (e *Engine) leaveIfGone(ctx context.Context, c Conn, b binding) {
	for _, other := range e.router.Members(b.code) {
		if code, uid := other.Binding(); code == b.code && uid == b.userID {
			return
		}
	}

	e.logger.Debug(logging.Room, logging.Disconnect, "last connection of user left room", map[logging.ExtraKey]any{
		logging.RoomCode: b.code,
		logging.UserID:   b.userID,
		logging.ConnID:   c.ID(),
	})

	_ = e.Handle(ctx, nil, domain.LeaveRoom{RoomID: b.code, UserID: b.userID})
}

func (e *Engine) handle(ctx context.Context, origin Conn, cmd domain.Command) (string, error) {
	if err := validate.Struct(cmd); err != nil {
		return domain.ReasonInvalid, err
	}

	actor := cmd.Actor()
	if actor == "" && origin != nil {
		_, actor = origin.Binding()
	}

	switch c := cmd.(type) {
	case domain.SendReaction:
		userID := c.UserID
		if userID == "" {
			userID = actor
		}
		e.router.Broadcast(c.RoomID, NewReaction(c.RoomID, userID, c.Reaction))
		return domain.OutcomeNoop.String(), nil

	case domain.SendMessage:
		if c.Message.ID == "" {
			msg := *c.Message
			msg.ID = uuid.NewString()
			c.Message = &msg
			cmd = c
		}
	}

	outcome, stale, err := e.apply(ctx, origin, cmd, actor)
	if stale.code != "" {
		e.leaveIfGone(ctx, origin, stale)
	}
	return outcome, err
}

// apply runs cmd under its room lock. stale is set when origin moved away
// from a room it was bound to.
func (e *Engine) apply(ctx context.Context, origin Conn, cmd domain.Command, actor string) (string, binding, error) {
	unlock := e.locks.lock(cmd.RoomCode())
	defer unlock()

	res, err := e.commit(ctx, cmd, actor)
	if err != nil {
		return domain.Reason(err), binding{}, err
	}

	out := res.outcome
	switch out.Kind {
	case domain.OutcomeRejected:
		return domain.Reason(out.Err), binding{}, out.Err
	case domain.OutcomeNoop:
		return out.Kind.String(), binding{}, nil
	}

	stale := e.publish(ctx, origin, cmd, res)
	return out.Kind.String(), stale, nil
}

// commit applies cmd to the latest snapshot and writes the result, retrying on
// version conflicts. The caller holds the room lock.
func (e *Engine) commit(ctx context.Context, cmd domain.Command, actor string) (result, error) {
	code := cmd.RoomCode()

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		prev, err := e.load(ctx, code)
		if err != nil {
			return result{}, err
		}

		out := domain.Apply(prev, cmd, actor, e.now())

		switch out.Kind {
		case domain.OutcomeCreated:
			err = e.withTimeout(ctx, func(ctx context.Context) error {
				return e.store.Create(ctx, out.Room)
			})
			if errors.Is(err, domain.ErrRoomAlreadyExists) {
				return result{prev: prev, outcome: domain.Outcome{Kind: domain.OutcomeRejected, Err: err}}, nil
			}

		case domain.OutcomeUpdated:
			err = e.withTimeout(ctx, func(ctx context.Context) error {
				return e.store.Update(ctx, out.Room)
			})
			if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrRoomNotFound) {
				e.metrics.StoreConflicts.Inc()
				e.logger.Debug(logging.Room, logging.Update, "room changed underneath, retrying", map[logging.ExtraKey]any{
					logging.RoomCode: code,
					logging.Attempt:  attempt,
				})
				continue
			}
		}

		if err != nil {
			return result{}, storeError(err)
		}
		return result{prev: prev, outcome: out}, nil
	}

	return result{}, fmt.Errorf("%w: room %s still conflicting after %d attempts", domain.ErrStoreUnavailable, code, e.maxRetries)
}

// load returns the stored room, or nil if there is none.
func (e *Engine) load(ctx context.Context, code string) (*domain.Room, error) {
	var room *domain.Room
	err := e.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		room, err = e.store.Get(ctx, code)
		return err
	})

	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return nil, nil
	case err != nil:
		return nil, storeError(err)
	}
	return room, nil
}

func (e *Engine) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return fn(ctx)
}

func storeError(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

// publish delivers a committed transition. It runs under the room lock so
// every connection sees snapshots in commit order. It returns the binding
// origin gave up, if any.
func (e *Engine) publish(ctx context.Context, origin Conn, cmd domain.Command, res result) (stale binding) {
	room := res.outcome.Room
	code := room.Code

	switch c := cmd.(type) {
	case domain.CreateRoom:
		stale = e.bind(origin, code, c.UserID)
		if origin != nil {
			e.router.Unicast(origin, NewRoomCreated(room))
		}
		e.notify(ctx, "room created", func(ctx context.Context, n Notifier) error { return n.RoomCreated(ctx, room) })
		return stale

	case domain.JoinRoom:
		stale = e.bind(origin, code, c.UserID)
		e.notifyJoined(ctx, res.prev, room, c.UserID)

	case domain.RejoinRoom:
		stale = e.bind(origin, code, c.UserID)
		e.notifyJoined(ctx, res.prev, room, c.UserID)

	case domain.LeaveRoom:
		if origin != nil {
			if bound, uid := origin.Binding(); bound == code && uid == c.UserID {
				e.router.LeaveChannel(code, origin)
				origin.Bind("", "")
			}
		}
		wasHost := res.prev.IsHost(c.UserID)
		e.notify(ctx, "member left", func(ctx context.Context, n Notifier) error {
			return n.MemberLeft(ctx, room, c.UserID, wasHost)
		})
	}

	e.router.Broadcast(code, NewRoomUpdated(room))
	return stale
}

func (e *Engine) bind(origin Conn, code, userID string) binding {
	if origin == nil {
		return binding{}
	}

	prevCode, prevUser := origin.Binding()
	if prevCode != "" && prevCode != code {
		e.router.LeaveChannel(prevCode, origin)
	}
	origin.Bind(code, userID)
	e.router.JoinChannel(code, origin)

	if prevCode == "" || (prevCode == code && prevUser == userID) {
		return binding{}
	}
	return binding{code: prevCode, userID: prevUser}
}

func (e *Engine) notifyJoined(ctx context.Context, prev, room *domain.Room, userID string) {
	if _, existing := prev.FindUser(userID); existing != nil {
		return
	}
	e.notify(ctx, "member joined", func(ctx context.Context, n Notifier) error {
		return n.MemberJoined(ctx, room, userID)
	})
}

// notify runs under the room lock, so it gets the same deadline as a store call.
func (e *Engine) notify(ctx context.Context, what string, fn func(context.Context, Notifier) error) {
	if e.notifier == nil {
		return
	}
	err := e.withTimeout(ctx, func(ctx context.Context) error {
		return fn(ctx, e.notifier)
	})
	if err != nil {
		e.logger.Warn(logging.RabbitMQ, logging.Publish, "failed to publish "+what, map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}
