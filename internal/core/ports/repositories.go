package ports

import (
	"context"

	"eventcast/internal/core/domain"
)

// EventRepository is the event lookup collaborator.
type EventRepository interface {
	// LookupEvent returns the event with the given id. A non-empty slug must
	// match the event's slug. Unknown events yield domain.ErrEventNotFound.
	LookupEvent(ctx context.Context, id domain.EventID, slug string) (*domain.Event, error)
}

// MembershipRepository answers the role questions the hub asks about callers.
type MembershipRepository interface {
	IsOrganizerOrAdmin(ctx context.Context, caller domain.Identity, eventID domain.EventID) (bool, error)
	IsEnrolledParticipant(ctx context.Context, caller domain.Identity, eventID domain.EventID) (bool, error)
}

// RecordingRepository persists metadata of completed recordings.
type RecordingRepository interface {
	PersistRecordingMetadata(ctx context.Context, meta domain.RecordingMetadata) error
	ListByEvent(ctx context.Context, eventID domain.EventID) ([]domain.RecordingMetadata, error)
}
