package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/pkg/retry"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "eventcast:event:9", eventKey("9"))
	assert.Equal(t, "eventcast:event:9:organizers", organizersKey("9"))
	assert.Equal(t, "eventcast:event:9:participants", participantsKey("9"))
	assert.Equal(t, "eventcast:recordings:9", recordingsKey("9"))
	assert.Equal(t, "eventcast:activity:9", ActivityChannel("9"))
}

func TestEventIDFromKey(t *testing.T) {
	tests := []struct {
		key string
		id  string
		ok  bool
	}{
		{"eventcast:event:9", "9", true},
		{"eventcast:event:spring_gala", "spring_gala", true},
		{"eventcast:event:9:organizers", "", false},
		{"eventcast:event:", "", false},
		{"eventcast:recordings:9", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			id, ok := eventIDFromKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

// newTestClient connects to the server named by EVENTCAST_TEST_REDIS and
// flushes the selected database. Tests are skipped without it.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("EVENTCAST_TEST_REDIS")
	if addr == "" {
		t.Skip("EVENTCAST_TEST_REDIS not set")
	}

	ctx := context.Background()
	client, err := NewRedisClient(ctx, Options{
		Address:  addr,
		DB:       15,
		PoolSize: 4,
		Retry:    retry.Config{MaxAttempts: 1},
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.NoError(t, client.FlushDB(ctx).Err())
	require.NoError(t, Migrate(ctx, client, zaptest.NewLogger(t).Sugar()))
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisEventRepository(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	repo := NewRedisEventRepository(client)

	require.NoError(t, repo.Save(ctx, &domain.Event{
		ID:             "9",
		Slug:           "spring-gala",
		AllowAnonymous: true,
		OrganizerIDs:   []domain.UserID{"org"},
		ParticipantIDs: []domain.UserID{"p1", "p2"},
	}))

	event, err := repo.LookupEvent(ctx, "9", "spring-gala")
	require.NoError(t, err)
	assert.True(t, event.AllowAnonymous)
	assert.ElementsMatch(t, []domain.UserID{"p1", "p2"}, event.ParticipantIDs)

	_, err = repo.LookupEvent(ctx, "9", "other")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
	_, err = repo.LookupEvent(ctx, "404", "")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)

	ok, err := repo.IsOrganizerOrAdmin(ctx, domain.Identity{UserID: "org", Authenticated: true}, "9")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsOrganizerOrAdmin(ctx, domain.Identity{UserID: "p1", Authenticated: true}, "9")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.IsEnrolledParticipant(ctx, domain.Identity{UserID: "p2", Authenticated: true}, "9")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisRecordingRepository(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	repo := NewRedisRecordingRepository(client)

	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.wav", "b.wav"} {
		require.NoError(t, repo.PersistRecordingMetadata(ctx, domain.RecordingMetadata{
			EventID:   "9",
			Filename:  name,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := repo.ListByEvent(ctx, "9")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b.wav", list[0].Filename)
}

func TestMigrateIndexesLegacyEvents(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()

	require.NoError(t, Rollback(ctx, client, 0, logger))
	require.NoError(t, client.Set(ctx, eventKey("legacy"), `{"id":"legacy"}`, 0).Err())
	require.NoError(t, client.SAdd(ctx, organizersKey("legacy"), "org").Err())

	require.NoError(t, Migrate(ctx, client, logger))

	members, err := client.SMembers(ctx, eventIndexKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy"}, members)

	version, err := getSchemaVersion(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion(), version)
}
