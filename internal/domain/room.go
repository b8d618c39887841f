package domain

import (
	"context"
	"encoding/json"
	"time"
)

// NoVideoSelected is the currentVideoIndex of a room with nothing playing.
const NoVideoSelected = -1

type Room struct {
	Code              string      `json:"code" bson:"_id"`
	ID                string      `json:"id" bson:"id"`
	HostID            string      `json:"hostId" bson:"host_id"`
	Users             []User      `json:"users" bson:"users"`
	VideoQueue        []QueueItem `json:"videoQueue" bson:"video_queue"`
	CurrentVideoIndex int         `json:"currentVideoIndex" bson:"current_video_index"`
	Messages          []Message   `json:"messages" bson:"messages"`
	PlayerState       PlayerState `json:"playerState" bson:"player_state"`
	Settings          Settings    `json:"settings" bson:"settings"`
	CreatedAt         int64       `json:"createdAt" bson:"created_at"`
	Version           int64       `json:"version" bson:"version"`
}

type User struct {
	ID       string `json:"id" bson:"id"`
	Nickname string `json:"nickname" bson:"nickname"`
	IsHost   bool   `json:"isHost" bson:"is_host"`
}

// PlayerState times are unix milliseconds; CurrentTime is the playback offset in seconds.
type PlayerState struct {
	IsPlaying   bool    `json:"isPlaying" bson:"is_playing"`
	CurrentTime float64 `json:"currentTime" bson:"current_time"`
	LastUpdated int64   `json:"lastUpdated" bson:"last_updated"`
	ServerTime  int64   `json:"serverTime" bson:"server_time"`
}

type Settings struct {
	WaitForAll        bool `json:"waitForAll" bson:"wait_for_all"`
	AllowGuestControl bool `json:"allowGuestControl" bson:"allow_guest_control"`
	IsPrivate         bool `json:"isPrivate" bson:"is_private"`
}

// SettingsPatch is merged field by field into Settings; nil fields are left alone.
type SettingsPatch struct {
	WaitForAll        *bool `json:"waitForAll,omitempty"`
	AllowGuestControl *bool `json:"allowGuestControl,omitempty"`
	IsPrivate         *bool `json:"isPrivate,omitempty"`
}

// QueueItem is an opaque video payload. Only ID is interpreted by the server;
// every other field the client sends is carried through untouched.
type QueueItem struct {
	ID     string         `json:"id" bson:"id" validate:"required"`
	Fields map[string]any `json:"-" bson:",inline"`
}

func (q QueueItem) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(q.Fields)+1)
	for k, v := range q.Fields {
		out[k] = v
	}
	out["id"] = q.ID
	return json.Marshal(out)
}

func (q *QueueItem) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id, _ := raw["id"].(string)
	delete(raw, "id")
	if len(raw) == 0 {
		raw = nil
	}

	q.ID = id
	q.Fields = raw
	return nil
}

type RoomRepository interface {
	Get(ctx context.Context, code string) (*Room, error)
	Create(ctx context.Context, room *Room) error
	// Update stores room only if the stored version still equals room.Version,
	// and bumps room.Version on success. Otherwise it returns ErrVersionConflict.
	Update(ctx context.Context, room *Room) error
	// Delete removes the room only if its stored version equals version.
	Delete(ctx context.Context, code string, version int64) error
	List(ctx context.Context) ([]*Room, error)
}

func (r *Room) FindUser(userID string) (int, *User) {
	for i := range r.Users {
		if r.Users[i].ID == userID {
			return i, &r.Users[i]
		}
	}
	return -1, nil
}

func (r *Room) IsHost(userID string) bool {
	if userID == "" {
		return false
	}
	_, u := r.FindUser(userID)
	return u != nil && u.IsHost
}

// CanControl reports whether userID may change the queue, pins or settings.
func (r *Room) CanControl(userID string) bool {
	return r.Settings.AllowGuestControl || r.IsHost(userID)
}

// IsIdle reports whether the room has no users and has not been touched since cutoff.
func (r *Room) IsIdle(cutoff time.Time) bool {
	return len(r.Users) == 0 && r.PlayerState.LastUpdated < cutoff.UnixMilli()
}

// Clone returns a deep copy so a transition never writes into a snapshot
// another goroutine may still be reading.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}

	c := *r
	c.Users = append(make([]User, 0, len(r.Users)), r.Users...)
	c.Messages = append(make([]Message, 0, len(r.Messages)), r.Messages...)
	c.VideoQueue = make([]QueueItem, len(r.VideoQueue))
	for i, item := range r.VideoQueue {
		c.VideoQueue[i] = item.clone()
	}
	return &c
}

func (q QueueItem) clone() QueueItem {
	if q.Fields == nil {
		return q
	}
	fields := make(map[string]any, len(q.Fields))
	for k, v := range q.Fields {
		fields[k] = v
	}
	return QueueItem{ID: q.ID, Fields: fields}
}

func (p SettingsPatch) apply(s Settings) Settings {
	if p.WaitForAll != nil {
		s.WaitForAll = *p.WaitForAll
	}
	if p.AllowGuestControl != nil {
		s.AllowGuestControl = *p.AllowGuestControl
	}
	if p.IsPrivate != nil {
		s.IsPrivate = *p.IsPrivate
	}
	return s
}
