package services

import (
	"context"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
)

// NoopActivityPublisher discards activity. Used when no event bus is configured.
type NoopActivityPublisher struct{}

var _ ports.ActivityPublisher = NoopActivityPublisher{}

func (NoopActivityPublisher) PublishListenerJoined(context.Context, domain.EventID, domain.ListenerInfo) error {
	return nil
}

func (NoopActivityPublisher) PublishListenerLeft(context.Context, domain.EventID, domain.ListenerInfo) error {
	return nil
}

func (NoopActivityPublisher) PublishStreamStarted(context.Context, domain.EventID, int) error {
	return nil
}

func (NoopActivityPublisher) PublishStreamEnded(context.Context, domain.EventID) error {
	return nil
}

func (NoopActivityPublisher) PublishRecordingCompleted(context.Context, domain.RecordingResult) error {
	return nil
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

var _ ports.AudioMetrics = NoopMetrics{}

func (NoopMetrics) RecordChunk(domain.EventID, int, domain.FanoutResult) {}
func (NoopMetrics) RecordListeners(domain.EventID, int) {}
func (NoopMetrics) RecordJoinDenied(domain.EventID) {}
func (NoopMetrics) RecordStreamStarted(domain.EventID) {}
func (NoopMetrics) RecordStreamEnded(domain.EventID) {}
func (NoopMetrics) RecordRecordingStarted(domain.EventID) {}
func (NoopMetrics) RecordRecordingStopped(domain.EventID, int) {}
func (NoopMetrics) RecordRecordingError(domain.EventID, string) {}
