package contracts

// AmqpMessage is the message structure for AMQP.
type AmqpMessage struct {
	// ID identifies the event so redeliveries can be recognised downstream.
	ID       string `json:"id"`
	RoomCode string `json:"roomCode"`
	Data     []byte `json:"data"`
}

// Routing keys
const (
	EventRoomCreated  = "room.created"
	EventRoomDeleted  = "room.deleted"
	EventMemberJoined = "member.joined"
	EventMemberLeft   = "member.left"
)

var RoomEvents = []string{
	EventRoomCreated,
	EventRoomDeleted,
	EventMemberJoined,
	EventMemberLeft,
}
