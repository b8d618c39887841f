package engine

import (
	"encoding/json"

	"github.com/hilthontt/watchparty/internal/domain"
)

const (
	RoomCreated = "room:created"
	RoomUpdated = "room:updated"
	RoomError   = "room:error"
	ReactionNew = "reaction:new"
)

// Event is one outbound frame. Data is a full room snapshot for room:created
// and room:updated.
type Event struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Data   any    `json:"data"`
}

type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

type ReactionPayload struct {
	UserID   string          `json:"userId,omitempty"`
	Reaction json.RawMessage `json:"reaction"`
}

func NewRoomCreated(room *domain.Room) *Event {
	return &Event{
		Type:   RoomCreated,
		RoomID: room.Code,
		Data:   room,
	}
}

func NewRoomUpdated(room *domain.Room) *Event {
	return &Event{
		Type:   RoomUpdated,
		RoomID: room.Code,
		Data:   room,
	}
}

func NewRoomError(roomID string, err error) *Event {
	return &Event{
		Type:   RoomError,
		RoomID: roomID,
		Data: ErrorPayload{
			Reason:  domain.Reason(err),
			Message: err.Error(),
		},
	}
}

func NewReaction(roomID, userID string, reaction json.RawMessage) *Event {
	return &Event{
		Type:   ReactionNew,
		RoomID: roomID,
		Data: ReactionPayload{
			UserID:   userID,
			Reaction: reaction,
		},
	}
}
