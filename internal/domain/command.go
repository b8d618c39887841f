package domain

import "encoding/json"

type CommandName string

const (
	CommandCreateRoom     CommandName = "room:create"
	CommandJoinRoom       CommandName = "room:join"
	CommandRejoinRoom     CommandName = "room:rejoin"
	CommandLeaveRoom      CommandName = "room:leave"
	CommandAddVideo       CommandName = "video:add"
	CommandRemoveVideo    CommandName = "video:remove"
	CommandSkipVideo      CommandName = "video:skip"
	CommandPlayPause      CommandName = "video:playPause"
	CommandSeek           CommandName = "video:seek"
	CommandSendMessage    CommandName = "message:send"
	CommandPinMessage     CommandName = "message:pin"
	CommandUpdateSettings CommandName = "settings:update"
	CommandUpdateNickname CommandName = "user:updateNickname"
	CommandSendReaction   CommandName = "reaction:send"
)

// Command is one inbound client request addressed to a single room.
type Command interface {
	Name() CommandName
	RoomCode() string
	// Actor is the user id carried by the payload, empty if the command has none.
	Actor() string
}

type CreateRoom struct {
	Code         string     `json:"code" validate:"required"`
	UserID       string     `json:"userId" validate:"required"`
	Nickname     string     `json:"nickname" validate:"required"`
	DefaultVideo *QueueItem `json:"defaultVideo,omitempty"`
}

type JoinRoom struct {
	Code     string `json:"code" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
	Nickname string `json:"nickname" validate:"required"`
}

type RejoinRoom struct {
	Code     string `json:"code" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
	Nickname string `json:"nickname" validate:"required"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

type AddVideo struct {
	RoomID    string     `json:"roomId" validate:"required"`
	QueueItem *QueueItem `json:"queueItem" validate:"required"`
	UserID    string     `json:"userId" validate:"required"`
}

type RemoveVideo struct {
	RoomID  string `json:"roomId" validate:"required"`
	VideoID string `json:"videoId" validate:"required"`
	UserID  string `json:"userId" validate:"required"`
}

type SkipVideo struct {
	RoomID string `json:"roomId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

type PlayPause struct {
	RoomID    string `json:"roomId" validate:"required"`
	IsPlaying *bool  `json:"isPlaying" validate:"required"`
}

type Seek struct {
	RoomID string   `json:"roomId" validate:"required"`
	Time   *float64 `json:"time" validate:"required,gte=0"`
}

type SendMessage struct {
	RoomID  string   `json:"roomId" validate:"required"`
	Message *Message `json:"message" validate:"required"`
}

type PinMessage struct {
	RoomID    string `json:"roomId" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
}

type UpdateSettings struct {
	RoomID   string         `json:"roomId" validate:"required"`
	Settings *SettingsPatch `json:"settings" validate:"required"`
	UserID   string         `json:"userId" validate:"required"`
}

type UpdateNickname struct {
	RoomID   string `json:"roomId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
	Nickname string `json:"nickname" validate:"required"`
}

// SendReaction is relayed to the room and never stored.
type SendReaction struct {
	RoomID   string          `json:"roomId" validate:"required"`
	UserID   string          `json:"userId,omitempty"`
	Reaction json.RawMessage `json:"reaction" validate:"required"`
}

func (c CreateRoom) Name() CommandName     { return CommandCreateRoom }
func (c JoinRoom) Name() CommandName       { return CommandJoinRoom }
func (c RejoinRoom) Name() CommandName     { return CommandRejoinRoom }
func (c LeaveRoom) Name() CommandName      { return CommandLeaveRoom }
func (c AddVideo) Name() CommandName       { return CommandAddVideo }
func (c RemoveVideo) Name() CommandName    { return CommandRemoveVideo }
func (c SkipVideo) Name() CommandName      { return CommandSkipVideo }
func (c PlayPause) Name() CommandName      { return CommandPlayPause }
func (c Seek) Name() CommandName           { return CommandSeek }
func (c SendMessage) Name() CommandName    { return CommandSendMessage }
func (c PinMessage) Name() CommandName     { return CommandPinMessage }
func (c UpdateSettings) Name() CommandName { return CommandUpdateSettings }
func (c UpdateNickname) Name() CommandName { return CommandUpdateNickname }
func (c SendReaction) Name() CommandName   { return CommandSendReaction }

func (c CreateRoom) RoomCode() string     { return c.Code }
func (c JoinRoom) RoomCode() string       { return c.Code }
func (c RejoinRoom) RoomCode() string     { return c.Code }
func (c LeaveRoom) RoomCode() string      { return c.RoomID }
func (c AddVideo) RoomCode() string       { return c.RoomID }
func (c RemoveVideo) RoomCode() string    { return c.RoomID }
func (c SkipVideo) RoomCode() string      { return c.RoomID }
func (c PlayPause) RoomCode() string      { return c.RoomID }
func (c Seek) RoomCode() string           { return c.RoomID }
func (c SendMessage) RoomCode() string    { return c.RoomID }
func (c PinMessage) RoomCode() string     { return c.RoomID }
func (c UpdateSettings) RoomCode() string { return c.RoomID }
func (c UpdateNickname) RoomCode() string { return c.RoomID }
func (c SendReaction) RoomCode() string   { return c.RoomID }

func (c CreateRoom) Actor() string     { return c.UserID }
func (c JoinRoom) Actor() string       { return c.UserID }
func (c RejoinRoom) Actor() string     { return c.UserID }
func (c LeaveRoom) Actor() string      { return c.UserID }
func (c AddVideo) Actor() string       { return c.UserID }
func (c RemoveVideo) Actor() string    { return c.UserID }
func (c SkipVideo) Actor() string      { return c.UserID }
func (c PlayPause) Actor() string      { return "" }
func (c Seek) Actor() string           { return "" }
func (c UpdateSettings) Actor() string { return c.UserID }
func (c UpdateNickname) Actor() string { return c.UserID }
func (c SendReaction) Actor() string   { return c.UserID }

func (c SendMessage) Actor() string {
	if c.Message == nil {
		return ""
	}
	return c.Message.UserID
}

func (c PinMessage) Actor() string { return c.UserID }
