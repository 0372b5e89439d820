package ports

import (
	"context"

	"eventcast/internal/core/domain"
)

// SessionRegistry tracks listener and manager membership plus the
// negotiated sample rate per event.
type SessionRegistry interface {
	RegisterListener(eventID domain.EventID, connID domain.ConnectionID, displayName string)
	UnregisterListener(connID domain.ConnectionID) (domain.EventID, bool)
	ListenerEvent(connID domain.ConnectionID) (domain.EventID, bool)
	RegisterManager(eventID domain.EventID, connID domain.ConnectionID) []domain.ListenerInfo
	UnregisterManager(connID domain.ConnectionID) (domain.EventID, bool)
	Listeners(eventID domain.EventID) []domain.ConnectionID
	Managers(eventID domain.EventID) []domain.ConnectionID
	ListenerCount(eventID domain.EventID) int
	Events() []domain.EventID
	SetSampleRate(eventID domain.EventID, hz int)
	GetSampleRate(eventID domain.EventID) (int, bool)
	ClearSampleRate(eventID domain.EventID)
	DefaultSampleRate() int
}

// OutboundMessage is a server push to one or more connections.
type OutboundMessage struct {
	Type    string
	EventID domain.EventID
	Payload interface{}
}

// Pusher delivers server pushes to connections. Implementations must not
// block on slow recipients.
type Pusher interface {
	Push(connID domain.ConnectionID, msg OutboundMessage) error
	Broadcast(connIDs []domain.ConnectionID, msg OutboundMessage) domain.FanoutResult
}

// MembershipNotifier receives listener join/leave changes together with the
// managers that must be told. It is called with the event lock held and
// must only enqueue.
type MembershipNotifier interface {
	NotifyMembership(managers []domain.ConnectionID, change domain.MembershipChange)
	// NotifySnapshot delivers the listener list to a newly joined manager
	// ahead of any membership change that follows it.
	NotifySnapshot(manager domain.ConnectionID, eventID domain.EventID, listeners []domain.ListenerInfo)
}

// ActivityPublisher mirrors hub activity to external consumers.
type ActivityPublisher interface {
	PublishListenerJoined(ctx context.Context, eventID domain.EventID, listener domain.ListenerInfo) error
	PublishListenerLeft(ctx context.Context, eventID domain.EventID, listener domain.ListenerInfo) error
	PublishStreamStarted(ctx context.Context, eventID domain.EventID, sampleRate int) error
	PublishStreamEnded(ctx context.Context, eventID domain.EventID) error
	PublishRecordingCompleted(ctx context.Context, result domain.RecordingResult) error
}

// AudioMetrics is the metrics sink used by the hub services.
type AudioMetrics interface {
	RecordChunk(eventID domain.EventID, bytes int, result domain.FanoutResult)
	RecordListeners(eventID domain.EventID, count int)
	RecordJoinDenied(eventID domain.EventID)
	RecordStreamStarted(eventID domain.EventID)
	RecordStreamEnded(eventID domain.EventID)
	RecordRecordingStarted(eventID domain.EventID)
	RecordRecordingStopped(eventID domain.EventID, durationSeconds int)
	RecordRecordingError(eventID domain.EventID, operation string)
}

// TokenVerifier turns an optional event access token into a trust decision.
type TokenVerifier interface {
	VerifyAccessToken(token string, eventID domain.EventID) domain.TokenTrust
}
