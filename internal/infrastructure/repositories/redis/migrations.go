package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eventcast/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey = keyPrefix + "schema:version"
	migrationLockKey = keyPrefix + "lock:migrations"
)

// Migration is one step of the key layout.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
	Down    func(ctx context.Context, client *redis.Client) error
}

var migrations = []Migration{
	{
		// index every event record written before the index set existed
		Version: 1,
		Up: func(ctx context.Context, client *redis.Client) error {
			iter := client.Scan(ctx, 0, keyPrefix+"event:*", 100).Iterator()
			for iter.Next(ctx) {
				id, ok := eventIDFromKey(iter.Val())
				if !ok {
					continue
				}
				if err := client.SAdd(ctx, eventIndexKey(), id).Err(); err != nil {
					return err
				}
			}
			return iter.Err()
		},
		Down: func(ctx context.Context, client *redis.Client) error {
			return client.Del(ctx, eventIndexKey()).Err()
		},
	},
}

// SchemaVersion is the version Migrate brings a database to.
func SchemaVersion() int {
	return migrations[len(migrations)-1].Version
}

// Migrate runs all pending migrations. Instances starting together take
// turns through a shared lock.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	lock := distributed.NewLock(client, migrationLockKey, 30*time.Second)
	if err := lock.Acquire(ctx, time.Minute); err != nil {
		return fmt.Errorf("failed to lock migrations: %w", err)
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warnw("Failed to release migration lock", "error", err)
		}
	}()

	current, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		logger.Infow("Running Redis migration", "version", m.Version)
		if err := m.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := setSchemaVersion(ctx, client, m.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		current = m.Version
	}

	logger.Debugw("Redis schema is up to date", "version", current)
	return nil
}

// Rollback undoes migrations newer than target, newest first.
func Rollback(ctx context.Context, client *redis.Client, target int, logger *zap.SugaredLogger) error {
	current, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Version > current || m.Version <= target {
			continue
		}

		logger.Infow("Rolling back Redis migration", "version", m.Version)
		if err := m.Down(ctx, client); err != nil {
			return fmt.Errorf("rollback of %d failed: %w", m.Version, err)
		}
		if err := setSchemaVersion(ctx, client, m.Version-1); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

// eventIDFromKey extracts the id from an event record key, rejecting the
// membership set keys that share its prefix.
func eventIDFromKey(key string) (string, bool) {
	id := strings.TrimPrefix(key, keyPrefix+"event:")
	if id == key || id == "" || strings.Contains(id, ":") {
		return "", false
	}
	return id, true
}
