package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hilthontt/watchparty/internal/domain"
)

var ErrStoreFull = errors.New("room store is at capacity")

// memoryRoomRepository keeps deep copies, so callers never share a snapshot with the store.
type memoryRoomRepository struct {
	rooms    map[string]*domain.Room // code -> Room
	capacity uint
	mu       *sync.RWMutex
}

func NewMemoryRoomRepository(capacity uint) domain.RoomRepository {
	if capacity == 0 {
		capacity = 10000
	}

	return &memoryRoomRepository{
		rooms:    make(map[string]*domain.Room),
		capacity: capacity,
		mu:       &sync.RWMutex{},
	}
}

func (r *memoryRoomRepository) Get(ctx context.Context, code string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[code]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	return room.Clone(), nil
}

func (r *memoryRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if room == nil || room.Code == "" {
		return domain.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.Code]; exists {
		return domain.ErrRoomAlreadyExists
	}
	if uint(len(r.rooms)) >= r.capacity {
		return ErrStoreFull
	}

	room.Version = 1
	r.rooms[room.Code] = room.Clone()

	return nil
}

func (r *memoryRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	if room == nil || room.Code == "" {
		return domain.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.rooms[room.Code]
	if !exists {
		return domain.ErrRoomNotFound
	}
	if existing.Version != room.Version {
		return domain.ErrVersionConflict
	}

	room.Version++
	r.rooms[room.Code] = room.Clone()

	return nil
}

func (r *memoryRoomRepository) Delete(ctx context.Context, code string, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.rooms[code]
	if !exists {
		return domain.ErrRoomNotFound
	}
	if existing.Version != version {
		return domain.ErrVersionConflict
	}

	delete(r.rooms, code)

	return nil
}

// List returns every room ordered by code.
func (r *memoryRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room.Clone())
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Code < rooms[j].Code })

	return rooms, nil
}
