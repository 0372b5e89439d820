package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
	"eventcast/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

// RedisRecordingRepository keeps recording metadata in one sorted set per
// event, scored by creation time.
type RedisRecordingRepository struct {
	client *redis.Client
}

func NewRedisRecordingRepository(client *redis.Client) ports.RecordingRepository {
	return &RedisRecordingRepository{client: client}
}

func (r *RedisRecordingRepository) PersistRecordingMetadata(ctx context.Context, meta domain.RecordingMetadata) error {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "persist", "recordings")
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "recordings.persist")
	tracing.AddSpanAttributes(ctx, tracing.EventIDKey.String(string(meta.EventID)), tracing.FilenameKey.String(meta.Filename))

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal recording metadata: %w", err)
	}

	err = r.client.ZAdd(ctx, recordingsKey(meta.EventID), redis.Z{
		Score:  float64(meta.CreatedAt.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to store recording metadata in Redis: %w", err)
	}
	return nil
}

// ListByEvent returns recordings of eventID, newest first.
func (r *RedisRecordingRepository) ListByEvent(ctx context.Context, eventID domain.EventID) ([]domain.RecordingMetadata, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "list", "recordings")
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "recordings.list")

	members, err := r.client.ZRevRange(ctx, recordingsKey(eventID), 0, -1).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to list recordings from Redis: %w", err)
	}

	list := make([]domain.RecordingMetadata, 0, len(members))
	for _, member := range members {
		var meta domain.RecordingMetadata
		if err := json.Unmarshal([]byte(member), &meta); err != nil {
			// Skip corrupted entries
			continue
		}
		list = append(list, meta)
	}
	return list, nil
}
