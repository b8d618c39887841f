package domain

import (
	"fmt"
	"time"
)

type OutcomeKind int

const (
	// OutcomeNoop leaves the store untouched and broadcasts nothing.
	OutcomeNoop OutcomeKind = iota
	OutcomeCreated
	OutcomeUpdated
	OutcomeRejected
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeRejected:
		return "rejected"
	default:
		return "noop"
	}
}

type Outcome struct {
	Kind OutcomeKind
	Room *Room
	Err  error
}

func created(r *Room) Outcome    { return Outcome{Kind: OutcomeCreated, Room: r} }
func updated(r *Room) Outcome    { return Outcome{Kind: OutcomeUpdated, Room: r} }
func rejected(err error) Outcome { return Outcome{Kind: OutcomeRejected, Err: err} }
func noop() Outcome              { return Outcome{Kind: OutcomeNoop} }

// Apply computes the snapshot that follows snapshot once cmd is accepted.
// snapshot is nil when no room exists for the command's code. The input is
// never modified, and now is the only source of time.
func Apply(snapshot *Room, cmd Command, actorID string, now time.Time) Outcome {
	ms := now.UnixMilli()

	if c, ok := cmd.(CreateRoom); ok {
		if snapshot != nil {
			return rejected(ErrRoomAlreadyExists)
		}
		return created(newRoom(c, ms))
	}

	if snapshot == nil {
		switch cmd.(type) {
		case JoinRoom, RejoinRoom:
			return rejected(ErrRoomNotFound)
		default:
			return noop()
		}
	}

	next := snapshot.Clone()

	switch c := cmd.(type) {
	case JoinRoom:
		if _, u := next.FindUser(c.UserID); u != nil {
			return updated(next)
		}
		user := next.newMember(c.UserID, c.Nickname)
		next.Users = append(next.Users, user)
		next.Messages = append(next.Messages, newJoinedMessage(user, ms))
		return updated(next)

	case RejoinRoom:
		if _, u := next.FindUser(c.UserID); u != nil {
			u.Nickname = c.Nickname
			return updated(next)
		}
		next.Users = append(next.Users, next.newMember(c.UserID, c.Nickname))
		return updated(next)

	case LeaveRoom:
		i, _ := next.FindUser(c.UserID)
		if i < 0 {
			return noop()
		}
		next.Users = append(next.Users[:i], next.Users[i+1:]...)
		return updated(next)

	case AddVideo:
		if !next.CanControl(actorID) {
			return rejected(ErrForbidden)
		}
		if c.QueueItem == nil {
			return rejected(ErrInvalidInput)
		}
		next.VideoQueue = append(next.VideoQueue, c.QueueItem.clone())
		if next.CurrentVideoIndex == NoVideoSelected {
			next.selectVideo(0, ms)
		}
		return updated(next)

	case RemoveVideo:
		if !next.CanControl(actorID) {
			return rejected(ErrForbidden)
		}
		return next.removeVideo(c.VideoID, ms)

	case SkipVideo:
		if !next.CanControl(actorID) {
			return rejected(ErrForbidden)
		}
		if next.CurrentVideoIndex+1 < len(next.VideoQueue) {
			next.selectVideo(next.CurrentVideoIndex+1, ms)
		} else {
			next.selectVideo(NoVideoSelected, ms)
		}
		return updated(next)

	case PlayPause:
		if c.IsPlaying == nil {
			return rejected(ErrInvalidInput)
		}
		next.PlayerState.IsPlaying = *c.IsPlaying
		next.PlayerState = stamp(next.PlayerState, ms)
		return updated(next)

	case Seek:
		if c.Time == nil {
			return rejected(ErrInvalidInput)
		}
		next.PlayerState.CurrentTime = *c.Time
		next.PlayerState = stamp(next.PlayerState, ms)
		return updated(next)

	case SendMessage:
		if c.Message == nil {
			return rejected(ErrInvalidInput)
		}
		msg := *c.Message
		msg.IsSystemMessage = false
		msg.Pinned = false
		if msg.Timestamp == 0 {
			msg.Timestamp = ms
		}
		if msg.ID == "" {
			msg.ID = fmt.Sprintf("msg-%d-%d", ms, len(next.Messages))
		}
		next.Messages = append(next.Messages, msg)
		return updated(next)

	case PinMessage:
		if !next.CanControl(actorID) {
			return rejected(ErrForbidden)
		}
		for i := range next.Messages {
			if next.Messages[i].ID == c.MessageID {
				next.Messages[i].Pinned = !next.Messages[i].Pinned
				return updated(next)
			}
		}
		return noop()

	case UpdateSettings:
		if !next.CanControl(actorID) {
			return rejected(ErrForbidden)
		}
		if c.Settings == nil {
			return rejected(ErrInvalidInput)
		}
		next.Settings = c.Settings.apply(next.Settings)
		return updated(next)

	case UpdateNickname:
		_, u := next.FindUser(c.UserID)
		if u == nil {
			return noop()
		}
		u.Nickname = c.Nickname
		return updated(next)
	}

	return noop()
}

func newRoom(c CreateRoom, ms int64) *Room {
	room := &Room{
		Code:              c.Code,
		ID:                c.Code,
		HostID:            c.UserID,
		Users:             []User{{ID: c.UserID, Nickname: c.Nickname, IsHost: true}},
		VideoQueue:        []QueueItem{},
		CurrentVideoIndex: NoVideoSelected,
		Messages:          []Message{},
		PlayerState:       PlayerState{LastUpdated: ms, ServerTime: ms},
		CreatedAt:         ms,
	}

	if c.DefaultVideo != nil {
		room.VideoQueue = append(room.VideoQueue, c.DefaultVideo.clone())
		room.CurrentVideoIndex = 0
		room.PlayerState.IsPlaying = true
	}

	return room
}

// newMember builds a non-host user unless userID is the room's host of record.
func (r *Room) newMember(userID, nickname string) User {
	return User{ID: userID, Nickname: nickname, IsHost: userID == r.HostID}
}

// removeVideo drops every queue item with videoID. The current video keeps
// playing when it survives; otherwise playback restarts at the item that took
// its place, clamped to the new end of the queue.
func (r *Room) removeVideo(videoID string, ms int64) Outcome {
	kept := make([]QueueItem, 0, len(r.VideoQueue))
	before, currentRemoved := 0, false
	for i, item := range r.VideoQueue {
		if item.ID != videoID {
			kept = append(kept, item)
			continue
		}
		switch {
		case i < r.CurrentVideoIndex:
			before++
		case i == r.CurrentVideoIndex:
			currentRemoved = true
		}
	}
	if len(kept) == len(r.VideoQueue) {
		return noop()
	}

	r.VideoQueue = kept
	if r.CurrentVideoIndex == NoVideoSelected {
		return updated(r)
	}

	idx := r.CurrentVideoIndex - before
	if !currentRemoved {
		r.CurrentVideoIndex = idx
		return updated(r)
	}
	if idx >= len(r.VideoQueue) {
		idx = len(r.VideoQueue) - 1
	}
	r.selectVideo(idx, ms)

	return updated(r)
}

// selectVideo moves the playhead to the start of idx; NoVideoSelected stops playback.
func (r *Room) selectVideo(idx int, ms int64) {
	r.CurrentVideoIndex = idx
	r.PlayerState.IsPlaying = idx != NoVideoSelected
	r.PlayerState.CurrentTime = 0
	r.PlayerState = stamp(r.PlayerState, ms)
}

// stamp records an accepted playback change. ServerTime never goes backwards
// for a room, even when now does, so clients can drop stale broadcasts.
func stamp(p PlayerState, ms int64) PlayerState {
	serverTime := ms
	if serverTime <= p.ServerTime {
		serverTime = p.ServerTime + 1
	}
	p.LastUpdated = ms
	p.ServerTime = serverTime
	return p
}
