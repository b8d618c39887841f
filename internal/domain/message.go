package domain

import "fmt"

type Message struct {
	ID              string `json:"id" bson:"id"`
	UserID          string `json:"userId" bson:"user_id"`
	Nickname        string `json:"nickname" bson:"nickname"`
	Text            string `json:"text" bson:"text" validate:"required"`
	Timestamp       int64  `json:"timestamp" bson:"timestamp"`
	IsSystemMessage bool   `json:"isSystemMessage" bson:"is_system_message"`
	Pinned          bool   `json:"pinned" bson:"pinned"`
}

func newJoinedMessage(user User, now int64) Message {
	return Message{
		ID:              fmt.Sprintf("system-%d-%s", now, user.ID),
		UserID:          user.ID,
		Nickname:        user.Nickname,
		Text:            fmt.Sprintf("%s joined the room", user.Nickname),
		Timestamp:       now,
		IsSystemMessage: true,
	}
}
