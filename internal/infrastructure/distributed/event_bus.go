package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
	redisrepo "eventcast/internal/infrastructure/repositories/redis"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ActivityType names an activity event
type ActivityType string

const (
	ActivityListenerJoined     ActivityType = "listener.joined"
	ActivityListenerLeft       ActivityType = "listener.left"
	ActivityStreamStarted      ActivityType = "stream.started"
	ActivityStreamEnded        ActivityType = "stream.ended"
	ActivityRecordingCompleted ActivityType = "recording.completed"
)

// Activity is one hub event mirrored to Redis pub/sub.
type Activity struct {
	Type       ActivityType    `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	EventID    domain.EventID  `json:"event_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type listenerActivity struct {
	ConnectionID domain.ConnectionID `json:"connection_id"`
	DisplayName  string              `json:"display_name,omitempty"`
}

type streamActivity struct {
	SampleRate int `json:"sample_rate,omitempty"`
}

// EventBus publishes hub activity on one channel per event and lets other
// instances or tools subscribe to it.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

var _ ports.ActivityPublisher = (*EventBus)(nil)

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Publish stamps and publishes an activity on its event's channel.
func (eb *EventBus) Publish(ctx context.Context, activity *Activity) error {
	activity.InstanceID = eb.instanceID
	activity.Timestamp = time.Now().UTC()

	data, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	if err := eb.client.Publish(ctx, redisrepo.ActivityChannel(activity.EventID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish activity: %w", err)
	}

	eb.logger.Debugw("Published activity",
		"type", activity.Type,
		"event_id", activity.EventID,
	)
	return nil
}

// Subscribe delivers activities of every event to handler until ctx is
// done. Activities published by this instance are skipped unless
// includeOwn is set.
func (eb *EventBus) Subscribe(ctx context.Context, includeOwn bool, handler func(*Activity) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.PSubscribe(ctx, redisrepo.ActivityPattern)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var activity Activity
			if err := json.Unmarshal([]byte(msg.Payload), &activity); err != nil {
				eb.logger.Warnw("Failed to unmarshal activity",
					"channel", msg.Channel,
					"error", err,
				)
				continue
			}
			if !includeOwn && activity.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&activity); err != nil {
				eb.logger.Warnw("Error handling activity",
					"type", activity.Type,
					"event_id", activity.EventID,
					"error", err,
				)
			}
		}
	}
}

func (eb *EventBus) PublishListenerJoined(ctx context.Context, eventID domain.EventID, listener domain.ListenerInfo) error {
	return eb.publishPayload(ctx, ActivityListenerJoined, eventID, listenerActivity{
		ConnectionID: listener.ConnectionID,
		DisplayName:  listener.DisplayName,
	})
}

func (eb *EventBus) PublishListenerLeft(ctx context.Context, eventID domain.EventID, listener domain.ListenerInfo) error {
	return eb.publishPayload(ctx, ActivityListenerLeft, eventID, listenerActivity{
		ConnectionID: listener.ConnectionID,
		DisplayName:  listener.DisplayName,
	})
}

func (eb *EventBus) PublishStreamStarted(ctx context.Context, eventID domain.EventID, sampleRate int) error {
	return eb.publishPayload(ctx, ActivityStreamStarted, eventID, streamActivity{SampleRate: sampleRate})
}

func (eb *EventBus) PublishStreamEnded(ctx context.Context, eventID domain.EventID) error {
	return eb.publishPayload(ctx, ActivityStreamEnded, eventID, nil)
}

func (eb *EventBus) PublishRecordingCompleted(ctx context.Context, result domain.RecordingResult) error {
	return eb.publishPayload(ctx, ActivityRecordingCompleted, result.EventID, result)
}

func (eb *EventBus) publishPayload(ctx context.Context, kind ActivityType, eventID domain.EventID, payload interface{}) error {
	activity := &Activity{Type: kind, EventID: eventID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
		activity.Payload = data
	}
	return eb.Publish(ctx, activity)
}

// Close stops an active subscription.
func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
