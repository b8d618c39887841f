package messaging

const (
	RoomsQueue      = "rooms"
	DeadLetterQueue = "dead_letter_queue"
)

// RoomEventData is the payload of every room lifecycle event.
type RoomEventData struct {
	RoomCode    string `json:"roomCode"`
	UserID      string `json:"userId,omitempty"`
	HostID      string `json:"hostId,omitempty"`
	MemberCount int    `json:"memberCount"`
	WasHost     bool   `json:"wasHost,omitempty"`
	Reason      string `json:"reason,omitempty"`
	IdleSeconds int64  `json:"idleSeconds,omitempty"`
	// At is unix milliseconds.
	At int64 `json:"at"`
}
