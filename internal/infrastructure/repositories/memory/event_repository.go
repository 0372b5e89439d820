package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
)

// MemoryEventRepository serves events and their memberships from a map.
// It implements both ports.EventRepository and ports.MembershipRepository.
type MemoryEventRepository struct {
	events map[domain.EventID]*domain.Event
	mu     sync.RWMutex
}

var (
	_ ports.EventRepository      = (*MemoryEventRepository)(nil)
	_ ports.MembershipRepository = (*MemoryEventRepository)(nil)
)

func NewMemoryEventRepository(events ...*domain.Event) *MemoryEventRepository {
	r := &MemoryEventRepository{
		events: make(map[domain.EventID]*domain.Event),
	}
	for _, event := range events {
		r.events[event.ID] = cloneEvent(event)
	}
	return r
}

func (r *MemoryEventRepository) Create(ctx context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[event.ID]; exists {
		return fmt.Errorf("event already exists: %s", event.ID)
	}

	r.events[event.ID] = cloneEvent(event)
	return nil
}

func (r *MemoryEventRepository) LookupEvent(ctx context.Context, id domain.EventID, slug string) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, exists := r.events[id]
	if !exists {
		return nil, domain.ErrEventNotFound
	}
	if slug != "" && event.Slug != slug {
		return nil, domain.ErrEventNotFound
	}

	return cloneEvent(event), nil
}

func (r *MemoryEventRepository) List(ctx context.Context) ([]*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]*domain.Event, 0, len(r.events))
	for _, event := range r.events {
		events = append(events, cloneEvent(event))
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

func (r *MemoryEventRepository) IsOrganizerOrAdmin(ctx context.Context, caller domain.Identity, eventID domain.EventID) (bool, error) {
	if !caller.Authenticated {
		return false, nil
	}
	if caller.Admin {
		return true, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	event, exists := r.events[eventID]
	if !exists {
		return false, nil
	}
	return event.HasOrganizer(caller.UserID), nil
}

func (r *MemoryEventRepository) IsEnrolledParticipant(ctx context.Context, caller domain.Identity, eventID domain.EventID) (bool, error) {
	if !caller.Authenticated {
		return false, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	event, exists := r.events[eventID]
	if !exists {
		return false, nil
	}
	return event.HasParticipant(caller.UserID), nil
}

func cloneEvent(event *domain.Event) *domain.Event {
	c := *event
	c.OrganizerIDs = append([]domain.UserID(nil), event.OrganizerIDs...)
	c.ParticipantIDs = append([]domain.UserID(nil), event.ParticipantIDs...)
	return &c
}
