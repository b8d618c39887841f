package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/hilthontt/watchparty/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// redisRoomRepository keeps each room as a JSON document at <prefix>room:<code>
// and the set of known codes at <prefix>rooms. Every write touches both keys in
// one WATCH/MULTI transaction.
type redisRoomRepository struct {
	client    *redis.Client
	keyPrefix string
	tracer    trace.Tracer
}

func NewRedisRoomRepository(client *redis.Client, keyPrefix string, tracer trace.Tracer) domain.RoomRepository {
	return &redisRoomRepository{
		client:    client,
		keyPrefix: keyPrefix,
		tracer:    tracer,
	}
}

func (r *redisRoomRepository) roomKey(code string) string {
	return fmt.Sprintf("%sroom:%s", r.keyPrefix, code)
}

func (r *redisRoomRepository) indexKey() string {
	return r.keyPrefix + "rooms"
}

func (r *redisRoomRepository) Get(ctx context.Context, code string) (*domain.Room, error) {
	ctx, span := r.tracer.Start(ctx, "redisRoomRepository.Get")
	defer span.End()
	span.SetAttributes(attribute.String("room.code", code))

	data, err := r.client.Get(ctx, r.roomKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("room.found", false))
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get room")
		return nil, err
	}

	return decodeRoom(data)
}

func (r *redisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	ctx, span := r.tracer.Start(ctx, "redisRoomRepository.Create")
	defer span.End()
	span.SetAttributes(attribute.String("room.code", room.Code))

	doc := *room
	doc.Version = 1

	payload, err := json.Marshal(&doc)
	if err != nil {
		return err
	}

	key := r.roomKey(room.Code)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrRoomAlreadyExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, r.indexKey(), room.Code)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrRoomAlreadyExists
	}
	if err != nil {
		if !errors.Is(err, domain.ErrRoomAlreadyExists) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create room")
		}
		return err
	}

	room.Version = doc.Version
	return nil
}

func (r *redisRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	ctx, span := r.tracer.Start(ctx, "redisRoomRepository.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("room.code", room.Code),
		attribute.Int64("room.version", room.Version),
	)

	doc := *room
	doc.Version = room.Version + 1

	payload, err := json.Marshal(&doc)
	if err != nil {
		return err
	}

	key := r.roomKey(room.Code)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := r.checkVersion(ctx, tx, key, room.Version); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, r.indexKey(), room.Code)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrVersionConflict
	}
	if err != nil {
		if !errors.Is(err, domain.ErrVersionConflict) && !errors.Is(err, domain.ErrRoomNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to update room")
		}
		return err
	}

	room.Version = doc.Version
	return nil
}

func (r *redisRoomRepository) Delete(ctx context.Context, code string, version int64) error {
	ctx, span := r.tracer.Start(ctx, "redisRoomRepository.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("room.code", code),
		attribute.Int64("room.version", version),
	)

	key := r.roomKey(code)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := r.checkVersion(ctx, tx, key, version); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, r.indexKey(), code)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrVersionConflict
	}
	return err
}

func (r *redisRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	ctx, span := r.tracer.Start(ctx, "redisRoomRepository.List")
	defer span.End()

	roomCodes, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list room codes")
		return nil, err
	}
	if len(roomCodes) == 0 {
		return []*domain.Room{}, nil
	}

	keys := make([]string, len(roomCodes))
	for i, code := range roomCodes {
		keys[i] = r.roomKey(code)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load rooms")
		return nil, err
	}

	rooms := make([]*domain.Room, 0, len(values))
	for _, v := range values {
		// A code can outlive its document between DEL and SREM.
		s, ok := v.(string)
		if !ok {
			continue
		}
		room, err := decodeRoom([]byte(s))
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Code < rooms[j].Code })

	span.SetAttributes(attribute.Int("room.count", len(rooms)))
	return rooms, nil
}

func (r *redisRoomRepository) checkVersion(ctx context.Context, tx *redis.Tx, key string, version int64) error {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ErrRoomNotFound
	}
	if err != nil {
		return err
	}

	var stored struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode room version: %w", err)
	}
	if stored.Version != version {
		return domain.ErrVersionConflict
	}
	return nil
}

func decodeRoom(data []byte) (*domain.Room, error) {
	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	normalize(&room)
	return &room, nil
}
