package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/watchparty/internal/domain"
	"github.com/hilthontt/watchparty/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// mongoRoomRepository stores one document per room with _id = code. Writes
// are conditional on the version field.
type mongoRoomRepository struct {
	db     *mongo.Database
	tracer trace.Tracer
}

func NewMongoRoomRepository(database *mongo.Database, tracer trace.Tracer) domain.RoomRepository {
	return &mongoRoomRepository{
		db:     database,
		tracer: tracer,
	}
}

func (r *mongoRoomRepository) collection() *mongo.Collection {
	return r.db.Collection(db.RoomsCollection)
}

func (r *mongoRoomRepository) Get(ctx context.Context, code string) (*domain.Room, error) {
	ctx, span := r.tracer.Start(ctx, "mongoRoomRepository.Get")
	defer span.End()
	span.SetAttributes(attribute.String("room.code", code))

	var room domain.Room
	err := r.collection().FindOne(ctx, bson.M{"_id": code}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		span.SetAttributes(attribute.Bool("room.found", false))
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to find room")
		return nil, err
	}

	normalize(&room)
	span.SetAttributes(attribute.Int64("room.version", room.Version))
	return &room, nil
}

func (r *mongoRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	ctx, span := r.tracer.Start(ctx, "mongoRoomRepository.Create")
	defer span.End()
	span.SetAttributes(attribute.String("room.code", room.Code))

	doc := *room
	doc.Version = 1

	if _, err := r.collection().InsertOne(ctx, &doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrRoomAlreadyExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert room")
		return err
	}

	room.Version = doc.Version
	return nil
}

func (r *mongoRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	ctx, span := r.tracer.Start(ctx, "mongoRoomRepository.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("room.code", room.Code),
		attribute.Int64("room.version", room.Version),
	)

	doc := *room
	doc.Version = room.Version + 1

	res, err := r.collection().ReplaceOne(ctx, bson.M{"_id": room.Code, "version": room.Version}, &doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to replace room")
		return err
	}
	if res.MatchedCount == 0 {
		return r.missOrConflict(ctx, room.Code)
	}

	room.Version = doc.Version
	return nil
}

func (r *mongoRoomRepository) Delete(ctx context.Context, code string, version int64) error {
	ctx, span := r.tracer.Start(ctx, "mongoRoomRepository.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("room.code", code),
		attribute.Int64("room.version", version),
	)

	res, err := r.collection().DeleteOne(ctx, bson.M{"_id": code, "version": version})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete room")
		return err
	}
	if res.DeletedCount == 0 {
		return r.missOrConflict(ctx, code)
	}

	return nil
}

func (r *mongoRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	ctx, span := r.tracer.Start(ctx, "mongoRoomRepository.List")
	defer span.End()

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := r.collection().Find(ctx, bson.M{}, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list rooms")
		return nil, err
	}
	defer cursor.Close(ctx)

	var rooms []*domain.Room
	if err := cursor.All(ctx, &rooms); err != nil {
		span.RecordError(err)
		return nil, err
	}

	for _, room := range rooms {
		normalize(room)
	}
	span.SetAttributes(attribute.Int("room.count", len(rooms)))
	return rooms, nil
}

// missOrConflict tells a conditional write that matched nothing apart: the
// room is gone, or its version moved on.
func (r *mongoRoomRepository) missOrConflict(ctx context.Context, code string) error {
	n, err := r.collection().CountDocuments(ctx, bson.M{"_id": code}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("check room %s: %w", code, err)
	}
	if n == 0 {
		return domain.ErrRoomNotFound
	}
	return domain.ErrVersionConflict
}
