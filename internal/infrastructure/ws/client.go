package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/watchparty/internal/domain"
	"github.com/hilthontt/watchparty/internal/engine"
	"github.com/hilthontt/watchparty/internal/infrastructure/logging"
	"golang.org/x/time/rate"
)

const (
	MaxMessageSize = 32 * 1024
	SendBufferSize = 64

	DefaultCommandsPerSecond = 20
	DefaultCommandBurst      = 40

	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
)

// Dispatcher is the part of the engine a connection drives.
type Dispatcher interface {
	Handle(ctx context.Context, origin engine.Conn, cmd domain.Command) error
	HandleDisconnect(ctx context.Context, c engine.Conn)
}

// Client is one websocket connection. It implements engine.Conn.
type Client struct {
	conn    *connWrapper
	send    chan *engine.Event
	id      string
	logger  logging.Logger
	limiter *rate.Limiter

	mu     sync.RWMutex
	code   string
	userID string

	closeOnce sync.Once
	closed    chan struct{}
}

type ClientOption func(*Client)

// WithCommandRate caps how many commands per second one connection may send.
// A non-positive rate disables the cap.
func WithCommandRate(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewClient(conn *websocket.Conn, logger logging.Logger, opts ...ClientOption) *Client {
	c := &Client{
		conn:    newConnWrapper(conn),
		send:    make(chan *engine.Event, SendBufferSize),
		id:      uuid.NewString(),
		logger:  logger,
		limiter: rate.NewLimiter(DefaultCommandsPerSecond, DefaultCommandBurst),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) Binding() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.code, c.userID
}

func (c *Client) Bind(code, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code, c.userID = code, userID
}

// Send never blocks. It reports false when the client is closed or its buffer is full.
func (c *Client) Send(evt *engine.Event) bool {
	if c.IsClosed() {
		return false
	}

	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// ReadPump decodes frames and hands them to d one at a time, so a client's
// commands are applied in the order it sent them. It returns when the
// connection drops, after telling d about the disconnect.
func (c *Client) ReadPump(ctx context.Context, d Dispatcher) {
	defer func() {
		d.HandleDisconnect(context.WithoutCancel(ctx), c)
		_ = c.Close()
	}()

	c.conn.conn.SetReadLimit(MaxMessageSize)
	_ = c.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.conn.SetPongHandler(func(string) error {
		return c.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn(logging.WebSocket, logging.Disconnect, "unexpected close", map[logging.ExtraKey]any{
					logging.ConnID:       c.id,
					logging.ErrorMessage: err.Error(),
				})
			}
			return
		}

		if len(raw) == 0 {
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.Send(engine.NewRoomError("", domain.ErrRateLimited))
			continue
		}

		cmd, err := Decode(raw)
		if err != nil {
			c.Send(engine.NewRoomError("", err))
			continue
		}

		_ = d.Handle(ctx, c, cmd)
	}
}

// WritePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case evt := <-c.send:
			if err := c.conn.WriteJSON(evt, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug(logging.WebSocket, logging.Broadcast, "write failed", map[logging.ExtraKey]any{
					logging.ConnID:       c.id,
					logging.ErrorMessage: err.Error(),
				})
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
