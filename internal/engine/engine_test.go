package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hilthontt/watchparty/internal/domain"
	"github.com/hilthontt/watchparty/internal/infrastructure/logging"
	"github.com/hilthontt/watchparty/internal/infrastructure/metrics"
	"github.com/hilthontt/watchparty/internal/persistence/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	code   string
	userID string
	events []*Event
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Binding() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.userID
}

func (c *fakeConn) Bind(code, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code, c.userID = code, userID
}

func (c *fakeConn) Send(evt *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return true
}

func (c *fakeConn) received() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Event(nil), c.events...)
}

func (c *fakeConn) last(t *testing.T) *Event {
	t.Helper()
	events := c.received()
	require.NotEmpty(t, events, "connection %s received nothing", c.id)
	return events[len(events)-1]
}

type fakeRouter struct {
	mu       sync.Mutex
	channels map[string]map[Conn]struct{}
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{channels: make(map[string]map[Conn]struct{})}
}

func (r *fakeRouter) JoinChannel(code string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channels[code] == nil {
		r.channels[code] = make(map[Conn]struct{})
	}
	r.channels[code][c] = struct{}{}
}

func (r *fakeRouter) LeaveChannel(code string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels[code], c)
}

func (r *fakeRouter) Broadcast(code string, evt *Event) {
	for _, c := range r.Members(code) {
		c.Send(evt)
	}
}

func (r *fakeRouter) Unicast(c Conn, evt *Event) { c.Send(evt) }

func (r *fakeRouter) Members(code string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := make([]Conn, 0, len(r.channels[code]))
	for c := range r.channels[code] {
		members = append(members, c)
	}
	return members
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) record(s string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, s)
	return nil
}

func (n *recordingNotifier) RoomCreated(_ context.Context, room *domain.Room) error {
	return n.record("created:" + room.Code)
}

func (n *recordingNotifier) MemberJoined(_ context.Context, room *domain.Room, userID string) error {
	return n.record("joined:" + userID)
}

func (n *recordingNotifier) MemberLeft(_ context.Context, room *domain.Room, userID string, wasHost bool) error {
	return n.record(fmt.Sprintf("left:%s:%t", userID, wasHost))
}

func newTestEngine(t *testing.T, store domain.RoomRepository, opts ...Option) (*Engine, *fakeRouter, *metrics.Metrics) {
	t.Helper()
	router := newFakeRouter()
	m := metrics.New(prometheus.NewRegistry())
	e := New(store, router, logging.NewNop(), m, Config{StoreTimeout: time.Second}, opts...)
	return e, router, m
}

func errorReason(t *testing.T, evt *Event) string {
	t.Helper()
	require.Equal(t, RoomError, evt.Type)
	payload, ok := evt.Data.(ErrorPayload)
	require.True(t, ok)
	return payload.Reason
}

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }

var ctx = context.Background()

// setupRoom creates ABCD hosted by u1 with video v1 and joins u2.
func setupRoom(t *testing.T, e *Engine) (host, guest *fakeConn) {
	t.Helper()
	host, guest = newFakeConn("c1"), newFakeConn("c2")
	require.NoError(t, e.Handle(ctx, host, domain.CreateRoom{
		Code: "ABCD", UserID: "u1", Nickname: "Alice", DefaultVideo: &domain.QueueItem{ID: "v1"},
	}))
	require.NoError(t, e.Handle(ctx, guest, domain.JoinRoom{Code: "ABCD", UserID: "u2", Nickname: "Bob"}))
	return host, guest
}

func TestHandle_CreateIsPrivateToCreator(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	e, router, _ := newTestEngine(t, store)
	creator, bystander := newFakeConn("c1"), newFakeConn("c2")
	router.JoinChannel("ABCD", bystander)

	err := e.Handle(ctx, creator, domain.CreateRoom{Code: "ABCD", UserID: "u1", Nickname: "Alice", DefaultVideo: &domain.QueueItem{ID: "v1"}})
	require.NoError(t, err)

	evt := creator.last(t)
	assert.Equal(t, RoomCreated, evt.Type)
	room := evt.Data.(*domain.Room)
	assert.Equal(t, 0, room.CurrentVideoIndex)
	assert.True(t, room.PlayerState.IsPlaying)
	assert.Equal(t, int64(1), room.Version)
	assert.Empty(t, bystander.received())

	code, userID := creator.Binding()
	assert.Equal(t, "ABCD", code)
	assert.Equal(t, "u1", userID)
	assert.Contains(t, router.Members("ABCD"), Conn(creator))
}

func TestHandle_JoinBroadcastsToChannel(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	e, _, _ := newTestEngine(t, store)

	host, guest := setupRoom(t, e)

	for _, c := range []*fakeConn{host, guest} {
		evt := c.last(t)
		assert.Equal(t, RoomUpdated, evt.Type)
		room := evt.Data.(*domain.Room)
		require.Len(t, room.Users, 2)
		assert.Contains(t, room.Messages[0].Text, "Bob")
	}
}

func TestHandle_ForbiddenGoesToOriginOnly(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	e, _, m := newTestEngine(t, store)
	host, guest := setupRoom(t, e)
	hostEvents := len(host.received())

	err := e.Handle(ctx, guest, domain.RemoveVideo{RoomID: "ABCD", VideoID: "v1", UserID: "u2"})

	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, domain.ReasonForbidden, errorReason(t, guest.last(t)))
	assert.Len(t, host.received(), hostEvents)

	room, err := store.Get(ctx, "ABCD")
	require.NoError(t, err)
	assert.Len(t, room.VideoQueue, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues(string(domain.CommandRemoveVideo), domain.ReasonForbidden)))
}

func TestHandle_CreateTwiceConflicts(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	e, _, _ := newTestEngine(t, store)
	setupRoom(t, e)
	before, err := store.Get(ctx, "ABCD")
	require.NoError(t, err)

	intruder := newFakeConn("c3")
	err = e.Handle(ctx, intruder, domain.CreateRoom{Code: "ABCD", UserID: "u9", Nickname: "Mallory"})

	assert.ErrorIs(t, err, domain.ErrRoomAlreadyExists)
	assert.Equal(t, domain.ReasonConflict, errorReason(t, intruder.last(t)))
	after, err := store.Get(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	code, _ := intruder.Binding()
	assert.Empty(t, code)
}

func TestHandle_JoinMissingRoom(t *testing.T) {
	e, _, _ := newTestEngine(t, repository.NewMemoryRoomRepository(0))
	c := newFakeConn("c1")

	err := e.Handle(ctx, c, domain.JoinRoom{Code: "ZZZZ", UserID: "u1", Nickname: "Alice"})

	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.Equal(t, domain.ReasonNotFound, errorReason(t, c.last(t)))
}

func TestHandle_InvalidPayload(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	e, _, _ := newTestEngine(t, store)
	c := newFakeConn("c1")

	err := e.Handle(ctx, c, domain.CreateRoom{Code: "ABCD", Nickname: "Alice"})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.ReasonInvalid, errorReason(t, c.last(t)))
	_, err = store.Get(ctx, "ABCD")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestHandle_ConcurrentAddsLoseNothing(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	e, _, _ := newTestEngine(t, store)
	host, _ := setupRoom(t, e)

	const adds = 50
	var wg sync.WaitGroup
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, e.Handle(ctx, host, domain.AddVideo{
				RoomID: "ABCD", UserID: "u1", QueueItem: &domain.QueueItem{ID: fmt.Sprintf("v-%d", i)},
			}))
		}(i)
	}
	wg.Wait()

	room, err := store.Get(ctx, "ABCD")
	require.NoError(t, err)
	assert.Len(t, room.VideoQueue, adds+1)
	assert.Equal(t, int64(2+adds), room.Version)
}

// racingStore commits a competing join the first time Update is called,
// as another server process sharing the store would.
type racingStore struct {
	domain.RoomRepository
	raced atomic.Bool
}

func (s *racingStore) Update(ctx context.Context, room *domain.Room) error {
	if s.raced.CompareAndSwap(false, true) {
		other, err := s.RoomRepository.Get(ctx, room.Code)
		if err != nil {
			return err
		}
		other.Users = append(other.Users, domain.User{ID: "u9", Nickname: "Remote"})
		if err := s.RoomRepository.Update(ctx, other); err != nil {
			return err
		}
	}
	return s.RoomRepository.Update(ctx, room)
}

func TestHandle_RetriesOnVersionConflict(t *testing.T) {
	mem := repository.NewMemoryRoomRepository(0)
	e, _, m := newTestEngine(t, mem)
	setupRoom(t, e)

	store := &racingStore{RoomRepository: mem}
	e.store = store

	err := e.Handle(ctx, newFakeConn("c1"), domain.AddVideo{RoomID: "ABCD", UserID: "u1", QueueItem: &domain.QueueItem{ID: "v2"}})
	require.NoError(t, err)

	room, err := mem.Get(ctx, "ABCD")
	require.NoError(t, err)
	assert.Len(t, room.Users, 3, "the competing join survives")
	assert.Len(t, room.VideoQueue, 2, "the add is re-applied on the fresh snapshot")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreConflicts))
}

type alwaysConflicting struct{ domain.RoomRepository }

func (alwaysConflicting) Update(context.Context, *domain.Room) error { return domain.ErrVersionConflict }

func TestHandle_GivesUpAfterMaxRetries(t *testing.T) {
	mem := repository.NewMemoryRoomRepository(0)
	e, _, m := newTestEngine(t, mem)
	host, _ := setupRoom(t, e)
	e.store = alwaysConflicting{mem}

	err := e.Handle(ctx, host, domain.SkipVideo{RoomID: "ABCD", UserID: "u1"})

	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, domain.ReasonStoreUnavailable, errorReason(t, host.last(t)))
	assert.Equal(t, float64(DefaultMaxRetries), testutil.ToFloat64(m.StoreConflicts))
}

type brokenStore struct{ domain.RoomRepository }

func (brokenStore) Get(context.Context, string) (*domain.Room, error) {
	return nil, errors.New("connection reset by peer")
}

type stalledStore struct{ domain.RoomRepository }

func (stalledStore) Get(ctx context.Context, _ string) (*domain.Room, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandle_StoreFailuresSurfaceAsUnavailable(t *testing.T) {
	mem := repository.NewMemoryRoomRepository(0)

	for name, store := range map[string]domain.RoomRepository{
		"error":   brokenStore{mem},
		"timeout": stalledStore{mem},
	} {
		t.Run(name, func(t *testing.T) {
			router := newFakeRouter()
			e := New(store, router, logging.NewNop(), metrics.New(prometheus.NewRegistry()), Config{StoreTimeout: 20 * time.Millisecond})
			c := newFakeConn("c1")

			err := e.Handle(ctx, c, domain.JoinRoom{Code: "ABCD", UserID: "u1", Nickname: "Alice"})

			assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
			assert.Equal(t, domain.ReasonStoreUnavailable, errorReason(t, c.last(t)))
		})
	}
}

func TestHandle_PlaybackStampsStrictlyIncrease(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	store := repository.NewMemoryRoomRepository(0)
	e, _, _ := newTestEngine(t, store, WithClock(func() time.Time { return frozen }))
	host, guest := setupRoom(t, e)

	last := int64(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Handle(ctx, guest, domain.PlayPause{RoomID: "ABCD", IsPlaying: boolPtr(i%2 == 0)}))
		room := host.last(t).Data.(*domain.Room)
		assert.Greater(t, room.PlayerState.ServerTime, last)
		last = room.PlayerState.ServerTime
	}
}

func TestHandle_ReactionIsRelayedNotStored(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	e, _, _ := newTestEngine(t, store)
	host, guest := setupRoom(t, e)
	before, err := store.Get(ctx, "ABCD")
	require.NoError(t, err)

	require.NoError(t, e.Handle(ctx, guest, domain.SendReaction{RoomID: "ABCD", Reaction: []byte(`"🎉"`)}))

	evt := host.last(t)
	assert.Equal(t, ReactionNew, evt.Type)
	payload := evt.Data.(ReactionPayload)
	assert.Equal(t, "u2", payload.UserID, "falls back to the connection's user")
	assert.JSONEq(t, `"🎉"`, string(payload.Reaction))

	after, err := store.Get(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
}

func TestHandle_MessageGetsServerID(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	e, _, _ := newTestEngine(t, store)
	_, guest := setupRoom(t, e)

	require.NoError(t, e.Handle(ctx, guest, domain.SendMessage{RoomID: "ABCD", Message: &domain.Message{UserID: "u2", Nickname: "Bob", Text: "hi"}}))

	room, err := store.Get(ctx, "ABCD")
	require.NoError(t, err)
	msg := room.Messages[len(room.Messages)-1]
	assert.Len(t, msg.ID, 36)
	assert.NotZero(t, msg.Timestamp)
}

func TestHandleDisconnect_LeavesOnLastConnection(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	notifier := &recordingNotifier{}
	e, router, _ := newTestEngine(t, store, WithNotifier(notifier))
	host, guest := setupRoom(t, e)

	secondTab := newFakeConn("c3")
	require.NoError(t, e.Handle(ctx, secondTab, domain.RejoinRoom{Code: "ABCD", UserID: "u2", Nickname: "Bob"}))

	e.HandleDisconnect(ctx, guest)
	room, err := store.Get(ctx, "ABCD")
	require.NoError(t, err)
	assert.Len(t, room.Users, 2, "u2 still has a connection")
	assert.NotContains(t, router.Members("ABCD"), Conn(guest))

	e.HandleDisconnect(ctx, secondTab)
	room, err = store.Get(ctx, "ABCD")
	require.NoError(t, err)
	require.Len(t, room.Users, 1)
	assert.Equal(t, "u1", room.Users[0].ID)
	assert.Len(t, host.last(t).Data.(*domain.Room).Users, 1)

	e.HandleDisconnect(ctx, host)
	room, err = store.Get(ctx, "ABCD")
	require.NoError(t, err)
	assert.Empty(t, room.Users)

	assert.Equal(t, []string{"created:ABCD", "joined:u2", "left:u2:false", "left:u1:true"}, notifier.events)
}

func TestHandle_LeaveUnbindsOrigin(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	e, router, _ := newTestEngine(t, store)
	host, guest := setupRoom(t, e)

	require.NoError(t, e.Handle(ctx, guest, domain.LeaveRoom{RoomID: "ABCD", UserID: "u2"}))

	code, _ := guest.Binding()
	assert.Empty(t, code)
	assert.NotContains(t, router.Members("ABCD"), Conn(guest))
	assert.Len(t, host.last(t).Data.(*domain.Room).Users, 1)
}

func TestHandle_JoiningAnotherRoomLeavesThePrevious(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	notifier := &recordingNotifier{}
	e, router, _ := newTestEngine(t, store, WithNotifier(notifier))
	host, guest := setupRoom(t, e)
	require.NoError(t, e.Handle(ctx, newFakeConn("c3"), domain.CreateRoom{Code: "WXYZ", UserID: "u3", Nickname: "Carol"}))

	require.NoError(t, e.Handle(ctx, guest, domain.JoinRoom{Code: "WXYZ", UserID: "u2", Nickname: "Bob"}))

	abcd, err := store.Get(ctx, "ABCD")
	require.NoError(t, err)
	_, u := abcd.FindUser("u2")
	assert.Nil(t, u, "u2 left ABCD when moving to WXYZ")
	assert.NotContains(t, router.Members("ABCD"), Conn(guest))
	assert.Len(t, host.last(t).Data.(*domain.Room).Users, 1)

	e.HandleDisconnect(ctx, guest)
	wxyz, err := store.Get(ctx, "WXYZ")
	require.NoError(t, err)
	_, u = wxyz.FindUser("u2")
	assert.Nil(t, u)

	assert.Contains(t, notifier.events, "left:u2:false")
}

func TestHandle_SwitchingRoomKeepsUserWithAnotherConnection(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	e, _, _ := newTestEngine(t, store)
	_, guest := setupRoom(t, e)
	secondTab := newFakeConn("c3")
	require.NoError(t, e.Handle(ctx, secondTab, domain.RejoinRoom{Code: "ABCD", UserID: "u2", Nickname: "Bob"}))
	require.NoError(t, e.Handle(ctx, newFakeConn("c4"), domain.CreateRoom{Code: "WXYZ", UserID: "u3", Nickname: "Carol"}))

	require.NoError(t, e.Handle(ctx, guest, domain.JoinRoom{Code: "WXYZ", UserID: "u2", Nickname: "Bob"}))

	abcd, err := store.Get(ctx, "ABCD")
	require.NoError(t, err)
	_, u := abcd.FindUser("u2")
	assert.NotNil(t, u, "u2 is still in ABCD through another connection")
}

func TestHandle_LocksAreReleasedForUnknownCodes(t *testing.T) {
	e, _, _ := newTestEngine(t, repository.NewMemoryRoomRepository(0))
	c := newFakeConn("c1")

	for i := 0; i < 100; i++ {
		code := fmt.Sprintf("R%03d", i)
		_ = e.Handle(ctx, c, domain.JoinRoom{Code: code, UserID: "u1", Nickname: "Alice"})
		_ = e.Handle(ctx, c, domain.Seek{RoomID: code, Time: floatPtr(1)})
	}

	assert.Zero(t, e.locks.len())
}

// stalledNotifier blocks until its context is done, like a broker that stopped acking.
type stalledNotifier struct {
	recordingNotifier
	hadDeadline atomic.Bool
}

func (n *stalledNotifier) MemberJoined(ctx context.Context, _ *domain.Room, userID string) error {
	_, ok := ctx.Deadline()
	n.hadDeadline.Store(ok)
	<-ctx.Done()
	return ctx.Err()
}

func TestHandle_StalledNotifierDoesNotBlockRoom(t *testing.T) {
	store := repository.NewMemoryRoomRepository(0)
	notifier := &stalledNotifier{}
	router := newFakeRouter()
	e := New(store, router, logging.NewNop(), metrics.New(prometheus.NewRegistry()),
		Config{StoreTimeout: 20 * time.Millisecond}, WithNotifier(notifier))
	host := newFakeConn("c1")
	require.NoError(t, e.Handle(ctx, host, domain.CreateRoom{Code: "ABCD", UserID: "u1", Nickname: "Alice"}))

	done := make(chan error, 1)
	go func() {
		done <- e.Handle(ctx, newFakeConn("c2"), domain.JoinRoom{Code: "ABCD", UserID: "u2", Nickname: "Bob"})
	}()

	select {
	case err := <-done:
		require.NoError(t, err, "a failed publish does not fail the command")
	case <-time.After(2 * time.Second):
		t.Fatal("join blocked on the notifier")
	}
	assert.True(t, notifier.hadDeadline.Load())

	require.NoError(t, e.Handle(ctx, host, domain.Seek{RoomID: "ABCD", Time: floatPtr(3)}))
}
