package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/watchparty/internal/domain"
	"github.com/hilthontt/watchparty/internal/infrastructure/contracts"
	"github.com/hilthontt/watchparty/internal/infrastructure/messaging"
)

type Publisher interface {
	PublishMessage(ctx context.Context, routingKey string, message contracts.AmqpMessage) error
}

// RoomPublisher announces room lifecycle changes on the room exchange.
type RoomPublisher struct {
	publisher Publisher
	now       func() time.Time
}

func NewRoomPublisher(publisher Publisher) *RoomPublisher {
	return &RoomPublisher{
		publisher: publisher,
		now:       time.Now,
	}
}

func (p *RoomPublisher) RoomCreated(ctx context.Context, room *domain.Room) error {
	return p.publish(ctx, contracts.EventRoomCreated, messaging.RoomEventData{
		RoomCode:    room.Code,
		UserID:      room.HostID,
		HostID:      room.HostID,
		MemberCount: len(room.Users),
	})
}

func (p *RoomPublisher) MemberJoined(ctx context.Context, room *domain.Room, userID string) error {
	return p.publish(ctx, contracts.EventMemberJoined, messaging.RoomEventData{
		RoomCode:    room.Code,
		UserID:      userID,
		HostID:      room.HostID,
		MemberCount: len(room.Users),
	})
}

func (p *RoomPublisher) MemberLeft(ctx context.Context, room *domain.Room, userID string, wasHost bool) error {
	return p.publish(ctx, contracts.EventMemberLeft, messaging.RoomEventData{
		RoomCode:    room.Code,
		UserID:      userID,
		HostID:      room.HostID,
		MemberCount: len(room.Users),
		WasHost:     wasHost,
	})
}

func (p *RoomPublisher) RoomDeleted(ctx context.Context, room *domain.Room, reason string, idleFor time.Duration) error {
	return p.publish(ctx, contracts.EventRoomDeleted, messaging.RoomEventData{
		RoomCode:    room.Code,
		HostID:      room.HostID,
		Reason:      reason,
		IdleSeconds: int64(idleFor.Seconds()),
	})
}

func (p *RoomPublisher) publish(ctx context.Context, routingKey string, data messaging.RoomEventData) error {
	data.At = p.now().UnixMilli()

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return p.publisher.PublishMessage(ctx, routingKey, contracts.AmqpMessage{
		ID:       uuid.NewString(),
		RoomCode: data.RoomCode,
		Data:     payload,
	})
}
