package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hilthontt/watchparty/internal/engine"
	"github.com/hilthontt/watchparty/internal/infrastructure/logging"
	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "watchparty"

// Bus is the subset of *nats.Conn the relay needs.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// envelope is what travels between nodes.
type envelope struct {
	Node string          `json:"node"`
	Type string          `json:"type"`
	Room string          `json:"roomId"`
	Data json.RawMessage `json:"data"`
}

// Relay is an engine.Broadcaster that also mirrors room broadcasts to every
// other node through NATS. Unicasts and channel membership stay local.
type Relay struct {
	engine.Broadcaster

	bus    Bus
	node   string
	prefix string
	logger logging.Logger
	sub    *nats.Subscription
}

func New(local engine.Broadcaster, bus Bus, prefix string, logger logging.Logger) *Relay {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Relay{
		Broadcaster: local,
		bus:         bus,
		node:        uuid.NewString(),
		prefix:      prefix,
		logger:      logger,
	}
}

func (r *Relay) NodeID() string { return r.node }

func (r *Relay) subject(code string) string {
	return r.prefix + ".room." + code
}

// Start subscribes to every room subject.
func (r *Relay) Start() error {
	sub, err := r.bus.Subscribe(r.prefix+".room.*", r.receive)
	if err != nil {
		return fmt.Errorf("failed to subscribe to room relay: %w", err)
	}
	r.sub = sub

	r.logger.Info(logging.Nats, logging.Subscribe, "room relay started", map[logging.ExtraKey]any{
		logging.Subject: r.prefix + ".room.*",
		"node":          r.node,
	})
	return nil
}

func (r *Relay) Stop() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}

func (r *Relay) Broadcast(code string, evt *engine.Event) {
	r.Broadcaster.Broadcast(code, evt)

	data, err := json.Marshal(evt.Data)
	if err != nil {
		r.logger.Error(logging.Nats, logging.Publish, "failed to encode relayed event", map[logging.ExtraKey]any{
			logging.RoomCode:     code,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	payload, err := json.Marshal(envelope{Node: r.node, Type: evt.Type, Room: evt.RoomID, Data: data})
	if err != nil {
		return
	}

	if err := r.bus.Publish(r.subject(code), payload); err != nil {
		r.logger.Warn(logging.Nats, logging.Publish, "failed to relay event", map[logging.ExtraKey]any{
			logging.RoomCode:     code,
			logging.Subject:      r.subject(code),
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (r *Relay) receive(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Warn(logging.Nats, logging.Subscribe, "dropping malformed relay message", map[logging.ExtraKey]any{
			logging.Subject:      msg.Subject,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	if env.Node == r.node {
		return
	}

	code := strings.TrimPrefix(msg.Subject, r.prefix+".room.")
	r.Broadcaster.Broadcast(code, &engine.Event{
		Type:   env.Type,
		RoomID: env.Room,
		Data:   env.Data,
	})
}
