package ws

import (
	"io"
	"sync"

	"github.com/hilthontt/watchparty/internal/engine"
	"github.com/hilthontt/watchparty/internal/infrastructure/logging"
	"github.com/hilthontt/watchparty/internal/infrastructure/metrics"
)

// Router maps room codes to the connections subscribed to them.
type Router struct {
	channels map[string]map[string]engine.Conn // code -> conn id -> conn
	mu       sync.RWMutex
	metrics  *metrics.Metrics
	logger   logging.Logger
}

func NewRouter(m *metrics.Metrics, logger logging.Logger) *Router {
	return &Router{
		channels: make(map[string]map[string]engine.Conn),
		metrics:  m,
		logger:   logger,
	}
}

func (r *Router) JoinChannel(code string, c engine.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channel, ok := r.channels[code]
	if !ok {
		channel = make(map[string]engine.Conn)
		r.channels[code] = channel
	}

	if _, exists := channel[c.ID()]; !exists {
		channel[c.ID()] = c
		r.metrics.ConnectedClients.Inc()
	}
}

func (r *Router) LeaveChannel(code string, c engine.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channel, ok := r.channels[code]
	if !ok {
		return
	}
	if _, exists := channel[c.ID()]; !exists {
		return
	}

	delete(channel, c.ID())
	r.metrics.ConnectedClients.Dec()

	if len(channel) == 0 {
		delete(r.channels, code)
	}
}

func (r *Router) Members(code string) []engine.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channel := r.channels[code]
	members := make([]engine.Conn, 0, len(channel))
	for _, c := range channel {
		members = append(members, c)
	}
	return members
}

// Broadcast is best-effort: a member whose buffer is full misses evt.
func (r *Router) Broadcast(code string, evt *engine.Event) {
	for _, c := range r.Members(code) {
		r.Unicast(c, evt)
	}
}

func (r *Router) Unicast(c engine.Conn, evt *engine.Event) {
	if c.Send(evt) {
		return
	}

	r.metrics.BroadcastDropped.Inc()
	r.logger.Warn(logging.WebSocket, logging.Broadcast, "client buffer full, dropping event", map[logging.ExtraKey]any{
		logging.ConnID:   c.ID(),
		logging.RoomCode: evt.RoomID,
		"type":           evt.Type,
	})
}

// DisconnectAll closes every subscribed connection, used on shutdown.
func (r *Router) DisconnectAll() {
	r.mu.RLock()
	var conns []engine.Conn
	for _, channel := range r.channels {
		for _, c := range channel {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if closer, ok := c.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}
