package repository

import "github.com/hilthontt/watchparty/internal/domain"

// normalize replaces nil collections decoded from storage with empty ones so
// snapshots always serialise as arrays.
func normalize(room *domain.Room) {
	if room.Users == nil {
		room.Users = []domain.User{}
	}
	if room.VideoQueue == nil {
		room.VideoQueue = []domain.QueueItem{}
	}
	if room.Messages == nil {
		room.Messages = []domain.Message{}
	}
}
