package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	Internal        Category = "Internal"
	Room            Category = "Room"
	WebSocket       Category = "WebSocket"
	MongoDB         Category = "MongoDB"
	Redis           Category = "Redis"
	RabbitMQ        Category = "RabbitMQ"
	Nats            Category = "Nats"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"
	Api             SubCategory = "Api"

	// Room
	Command    SubCategory = "Command"
	Broadcast  SubCategory = "Broadcast"
	Disconnect SubCategory = "Disconnect"
	Sweep      SubCategory = "Sweep"

	// Store
	Select SubCategory = "Select"
	Insert SubCategory = "Insert"
	Update SubCategory = "Update"
	Delete SubCategory = "Delete"

	// Messaging
	Publish   SubCategory = "Publish"
	Subscribe SubCategory = "Subscribe"
	Consume   SubCategory = "Consume"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	ClientIp     ExtraKey = "ClientIp"
	HostIp       ExtraKey = "HostIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	BodySize     ExtraKey = "BodySize"
	Path         ExtraKey = "Path"
	Latency      ExtraKey = "Latency"
	ErrorMessage ExtraKey = "ErrorMessage"

	RoomCode    ExtraKey = "RoomCode"
	UserID      ExtraKey = "UserId"
	ConnID      ExtraKey = "ConnId"
	CommandName ExtraKey = "Command"
	Outcome     ExtraKey = "Outcome"
	Reason      ExtraKey = "Reason"
	Attempt     ExtraKey = "Attempt"
	Subject     ExtraKey = "Subject"
	NodeID      ExtraKey = "NodeId"
	RoutingKey  ExtraKey = "RoutingKey"
	Count       ExtraKey = "Count"
)
