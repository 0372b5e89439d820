package distributed

import (
	"context"
	"os"
	"testing"
	"time"

	"eventcast/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEventBus_RoundTrip(t *testing.T) {
	addr := os.Getenv("EVENTCAST_TEST_REDIS")
	if addr == "" {
		t.Skip("EVENTCAST_TEST_REDIS not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	logger := zaptest.NewLogger(t).Sugar()
	publisher := NewEventBus(client, "hub-a", logger)
	subscriber := NewEventBus(client, "hub-b", logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *Activity, 4)
	go subscriber.Subscribe(ctx, false, func(a *Activity) error {
		received <- a
		return nil
	})

	// PSUBSCRIBE is asynchronous; publish until the subscriber sees one
	var got *Activity
	for got == nil {
		require.NoError(t, publisher.PublishStreamStarted(ctx, "9", 48000))
		select {
		case got = <-received:
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no activity received")
		}
	}

	assert.Equal(t, ActivityStreamStarted, got.Type)
	assert.Equal(t, domain.EventID("9"), got.EventID)
	assert.Equal(t, "hub-a", got.InstanceID)
	assert.JSONEq(t, `{"sample_rate":48000}`, string(got.Payload))
}
