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

// RedisEventRepository stores event records as JSON and memberships as
// sets, so role checks are single SISMEMBER calls.
type RedisEventRepository struct {
	client *redis.Client
}

var (
	_ ports.EventRepository      = (*RedisEventRepository)(nil)
	_ ports.MembershipRepository = (*RedisEventRepository)(nil)
)

func NewRedisEventRepository(client *redis.Client) *RedisEventRepository {
	return &RedisEventRepository{client: client}
}

// Save creates or replaces an event together with its membership sets.
func (r *RedisEventRepository) Save(ctx context.Context, event *domain.Event) error {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "save", "events")
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "events.save")

	record := *event
	record.OrganizerIDs = nil
	record.ParticipantIDs = nil

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, eventKey(event.ID), data, 0)
		pipe.SAdd(ctx, eventIndexKey(), string(event.ID))

		pipe.Del(ctx, organizersKey(event.ID), participantsKey(event.ID))
		if len(event.OrganizerIDs) > 0 {
			pipe.SAdd(ctx, organizersKey(event.ID), userIDs(event.OrganizerIDs)...)
		}
		if len(event.ParticipantIDs) > 0 {
			pipe.SAdd(ctx, participantsKey(event.ID), userIDs(event.ParticipantIDs)...)
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to save event in Redis: %w", err)
	}
	return nil
}

func (r *RedisEventRepository) LookupEvent(ctx context.Context, id domain.EventID, slug string) (*domain.Event, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "get", "events")
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "events.get")
	tracing.AddSpanAttributes(ctx, tracing.EventIDKey.String(string(id)))

	var (
		getCmd          *redis.StringCmd
		organizersCmd   *redis.StringSliceCmd
		participantsCmd *redis.StringSliceCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, eventKey(id))
		organizersCmd = pipe.SMembers(ctx, organizersKey(id))
		participantsCmd = pipe.SMembers(ctx, participantsKey(id))
		return nil
	})
	if err != nil && err != redis.Nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to get event from Redis: %w", err)
	}

	data, err := getCmd.Bytes()
	if err == redis.Nil {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event from Redis: %w", err)
	}

	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if slug != "" && event.Slug != slug {
		return nil, domain.ErrEventNotFound
	}

	for _, id := range organizersCmd.Val() {
		event.OrganizerIDs = append(event.OrganizerIDs, domain.UserID(id))
	}
	for _, id := range participantsCmd.Val() {
		event.ParticipantIDs = append(event.ParticipantIDs, domain.UserID(id))
	}
	return &event, nil
}

func (r *RedisEventRepository) IsOrganizerOrAdmin(ctx context.Context, caller domain.Identity, eventID domain.EventID) (bool, error) {
	if !caller.Authenticated {
		return false, nil
	}
	if caller.Admin {
		return true, nil
	}

	ok, err := r.client.SIsMember(ctx, organizersKey(eventID), string(caller.UserID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check organizer in Redis: %w", err)
	}
	return ok, nil
}

func (r *RedisEventRepository) IsEnrolledParticipant(ctx context.Context, caller domain.Identity, eventID domain.EventID) (bool, error) {
	if !caller.Authenticated {
		return false, nil
	}

	ok, err := r.client.SIsMember(ctx, participantsKey(eventID), string(caller.UserID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check participant in Redis: %w", err)
	}
	return ok, nil
}

// Count returns the number of indexed events.
func (r *RedisEventRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.client.SCard(ctx, eventIndexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count events in Redis: %w", err)
	}
	return n, nil
}

func userIDs(ids []domain.UserID) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
