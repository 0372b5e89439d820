package repositories

import (
	"context"
	"fmt"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
	"eventcast/internal/infrastructure/repositories/memory"
	redisrepo "eventcast/internal/infrastructure/repositories/redis"
	"eventcast/pkg/circuitbreaker"
	"eventcast/pkg/config"
	"eventcast/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventStore serves both event lookups and membership checks.
type EventStore interface {
	ports.EventRepository
	ports.MembershipRepository
}

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	seed        []*domain.Event
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// memory repositories when it cannot be reached.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		seed:     SeedEvents(cfg.Events.Seed),
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Retry:    retry.DefaultConfig(),
		}, logger)
		if err != nil {
			logger.Warnw("Failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("Using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("Using memory repositories")
	}
	return factory
}

// UsingRedis reports whether repositories are backed by Redis.
func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// RedisClient returns the shared client, nil in memory mode.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.UsingRedis() {
		return nil
	}
	return f.redisClient
}

// CreateEventStore returns the event store with the configured seed
// events written to it.
func (f *RepositoryFactory) CreateEventStore(ctx context.Context) (EventStore, error) {
	if !f.UsingRedis() {
		return memory.NewMemoryEventRepository(f.seed...), nil
	}

	repo := redisrepo.NewRedisEventRepository(f.redisClient)
	for _, event := range f.seed {
		if err := repo.Save(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to seed event %s: %w", event.ID, err)
		}
	}
	if n, err := repo.Count(ctx); err == nil {
		f.logger.Infow("Event store ready", "backend", "redis", "events", n, "seeded", len(f.seed))
	}
	return repo, nil
}

// CreateRecordingRepository creates a recording repository. The Redis one is
// guarded by a circuit breaker.
func (f *RepositoryFactory) CreateRecordingRepository() ports.RecordingRepository {
	if f.UsingRedis() {
		return NewGuardedRecordingRepository(
			redisrepo.NewRedisRecordingRepository(f.redisClient),
			circuitbreaker.DefaultConfig(),
			f.logger,
		)
	}
	return memory.NewMemoryRecordingRepository()
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsingRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

// SeedEvents converts configured seed entries to domain events.
func SeedEvents(seeds []config.EventSeed) []*domain.Event {
	events := make([]*domain.Event, 0, len(seeds))
	for _, s := range seeds {
		event := &domain.Event{
			ID:             domain.EventID(s.ID),
			Slug:           s.Slug,
			Title:          s.Title,
			AllowAnonymous: s.AllowAnonymous,
		}
		for _, id := range s.Organizers {
			event.OrganizerIDs = append(event.OrganizerIDs, domain.UserID(id))
		}
		for _, id := range s.Participants {
			event.ParticipantIDs = append(event.ParticipantIDs, domain.UserID(id))
		}
		events = append(events, event)
	}
	return events
}
