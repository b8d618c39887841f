package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RoomEventType string

const (
	EventRoomCreated  RoomEventType = "room_created"
	EventRoomDeleted  RoomEventType = "room_deleted"
	EventMemberJoined RoomEventType = "member_joined"
	EventMemberLeft   RoomEventType = "member_left"
)

type RoomAuditLog struct {
	ID        string         `bson:"_id" json:"id"`
	RoomCode  string         `bson:"room_code" json:"roomCode"`
	EventType RoomEventType  `bson:"event_type" json:"eventType"`
	UserID    string         `bson:"user_id,omitempty" json:"userId,omitempty"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Metadata  map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

type RoomAuditRepository interface {
	Log(ctx context.Context, log *RoomAuditLog) error
	GetByRoomCode(ctx context.Context, code string, limit int) ([]RoomAuditLog, error)
	EnsureIndexes(ctx context.Context) error
}

func NewRoomCreatedLog(code, hostID string, at time.Time) *RoomAuditLog {
	return &RoomAuditLog{
		ID:        uuid.NewString(),
		RoomCode:  code,
		EventType: EventRoomCreated,
		UserID:    hostID,
		Timestamp: at,
	}
}

func NewRoomDeletedLog(code, reason string, idleFor time.Duration, at time.Time) *RoomAuditLog {
	return &RoomAuditLog{
		ID:        uuid.NewString(),
		RoomCode:  code,
		EventType: EventRoomDeleted,
		Timestamp: at,
		Metadata: map[string]any{
			"reason":       reason, // "idle"
			"idle_seconds": idleFor.Seconds(),
		},
	}
}

func NewMemberJoinedLog(code, userID string, memberCount int, at time.Time) *RoomAuditLog {
	return &RoomAuditLog{
		ID:        uuid.NewString(),
		RoomCode:  code,
		EventType: EventMemberJoined,
		UserID:    userID,
		Timestamp: at,
		Metadata: map[string]any{
			"member_count": memberCount,
		},
	}
}

func NewMemberLeftLog(code, userID string, memberCount int, wasHost bool, at time.Time) *RoomAuditLog {
	return &RoomAuditLog{
		ID:        uuid.NewString(),
		RoomCode:  code,
		EventType: EventMemberLeft,
		UserID:    userID,
		Timestamp: at,
		Metadata: map[string]any{
			"member_count": memberCount,
			"was_host":     wasHost,
		},
	}
}
