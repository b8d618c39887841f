package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hilthontt/watchparty/internal/domain"
	"github.com/hilthontt/watchparty/internal/infrastructure/contracts"
	"github.com/hilthontt/watchparty/internal/infrastructure/logging"
	"github.com/hilthontt/watchparty/internal/infrastructure/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RoomConsumer records every room lifecycle event in the audit log.
type RoomConsumer struct {
	rabbitmq *messaging.RabbitMQ
	audit    domain.RoomAuditRepository
	logger   logging.Logger
}

func NewRoomConsumer(rabbitmq *messaging.RabbitMQ, audit domain.RoomAuditRepository, logger logging.Logger) *RoomConsumer {
	return &RoomConsumer{
		rabbitmq: rabbitmq,
		audit:    audit,
		logger:   logger,
	}
}

// Listen blocks until ctx is done.
func (c *RoomConsumer) Listen(ctx context.Context) error {
	return c.rabbitmq.ConsumeMessages(ctx, messaging.RoomsQueue, func(ctx context.Context, msg amqp.Delivery) error {
		return c.handle(ctx, msg.RoutingKey, msg.Body)
	})
}

func (c *RoomConsumer) handle(ctx context.Context, routingKey string, body []byte) error {
	var message contracts.AmqpMessage
	if err := json.Unmarshal(body, &message); err != nil {
		c.logger.Warn(logging.RabbitMQ, logging.Consume, "failed to unmarshal message", map[logging.ExtraKey]any{
			logging.RoutingKey:   routingKey,
			logging.ErrorMessage: err.Error(),
		})
		return err
	}

	var payload messaging.RoomEventData
	if err := json.Unmarshal(message.Data, &payload); err != nil {
		c.logger.Warn(logging.RabbitMQ, logging.Consume, "failed to unmarshal room event", map[logging.ExtraKey]any{
			logging.RoutingKey:   routingKey,
			logging.ErrorMessage: err.Error(),
		})
		return err
	}

	entry, err := auditLogFor(routingKey, payload)
	if err != nil {
		return err
	}
	if message.ID != "" {
		entry.ID = message.ID
	}

	if err := c.audit.Log(ctx, entry); err != nil {
		c.logger.Error(logging.MongoDB, logging.Insert, "failed to write audit log", map[logging.ExtraKey]any{
			logging.RoomCode:     payload.RoomCode,
			logging.RoutingKey:   routingKey,
			logging.ErrorMessage: err.Error(),
		})
		return err
	}

	c.logger.Debug(logging.RabbitMQ, logging.Consume, "room event recorded", map[logging.ExtraKey]any{
		logging.RoomCode:   payload.RoomCode,
		logging.RoutingKey: routingKey,
	})
	return nil
}

func auditLogFor(routingKey string, p messaging.RoomEventData) (*domain.RoomAuditLog, error) {
	at := time.UnixMilli(p.At).UTC()

	switch routingKey {
	case contracts.EventRoomCreated:
		return domain.NewRoomCreatedLog(p.RoomCode, p.HostID, at), nil
	case contracts.EventRoomDeleted:
		return domain.NewRoomDeletedLog(p.RoomCode, p.Reason, time.Duration(p.IdleSeconds)*time.Second, at), nil
	case contracts.EventMemberJoined:
		return domain.NewMemberJoinedLog(p.RoomCode, p.UserID, p.MemberCount, at), nil
	case contracts.EventMemberLeft:
		return domain.NewMemberLeftLog(p.RoomCode, p.UserID, p.MemberCount, p.WasHost, at), nil
	default:
		return nil, fmt.Errorf("unknown room event %q", routingKey)
	}
}
