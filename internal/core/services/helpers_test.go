package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
	"eventcast/pkg/storage"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSecret = "test-secret"

type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) LookupEvent(ctx context.Context, id domain.EventID, slug string) (*domain.Event, error) {
	args := m.Called(ctx, id, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}

type MockRecordingRepository struct {
	mock.Mock
}

func (m *MockRecordingRepository) PersistRecordingMetadata(ctx context.Context, meta domain.RecordingMetadata) error {
	args := m.Called(ctx, meta)
	return args.Error(0)
}

func (m *MockRecordingRepository) ListByEvent(ctx context.Context, eventID domain.EventID) ([]domain.RecordingMetadata, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RecordingMetadata), args.Error(1)
}

// staticMemberships answers role checks from the event records it holds.
type staticMemberships struct {
	events map[domain.EventID]*domain.Event
}

func (s *staticMemberships) IsOrganizerOrAdmin(ctx context.Context, caller domain.Identity, eventID domain.EventID) (bool, error) {
	if caller.Admin {
		return true, nil
	}
	event, ok := s.events[eventID]
	return ok && event.HasOrganizer(caller.UserID), nil
}

func (s *staticMemberships) IsEnrolledParticipant(ctx context.Context, caller domain.Identity, eventID domain.EventID) (bool, error) {
	event, ok := s.events[eventID]
	return ok && event.HasParticipant(caller.UserID), nil
}

type pushed struct {
	to  domain.ConnectionID
	msg ports.OutboundMessage
}

// fakePusher records every message per connection. Connections listed in
// failing are reported as failed deliveries.
type fakePusher struct {
	mu      sync.Mutex
	sent    []pushed
	failing map[domain.ConnectionID]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{failing: make(map[domain.ConnectionID]bool)}
}

func (p *fakePusher) Push(connID domain.ConnectionID, msg ports.OutboundMessage) error {
	p.Broadcast([]domain.ConnectionID{connID}, msg)
	return nil
}

func (p *fakePusher) Broadcast(connIDs []domain.ConnectionID, msg ports.OutboundMessage) domain.FanoutResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := domain.FanoutResult{Recipients: len(connIDs)}
	for _, id := range connIDs {
		if p.failing[id] {
			result.Failed = append(result.Failed, id)
			continue
		}
		p.sent = append(p.sent, pushed{to: id, msg: msg})
		result.Delivered++
	}
	return result
}

func (p *fakePusher) messages(connID domain.ConnectionID, msgType string) []ports.OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []ports.OutboundMessage
	for _, item := range p.sent {
		if item.to == connID && item.msg.Type == msgType {
			out = append(out, item.msg)
		}
	}
	return out
}

var (
	organizer   = domain.Identity{UserID: "org", Username: "olga", Authenticated: true}
	participant = domain.Identity{UserID: "part", Username: "pat", Authenticated: true}
	stranger    = domain.Identity{UserID: "nobody", Username: "nina", Authenticated: true}
	admin       = domain.Identity{UserID: "root", Username: "admin", Admin: true, Authenticated: true}
	guest       = domain.Identity{}
)

type testHub struct {
	events     *MockEventRepository
	recRepo    *MockRecordingRepository
	auth       AuthService
	registry   *SessionRegistry
	recordings *RecordingManager
	pusher     *fakePusher
	service    *DistributionService
	store      *storage.FileStorage
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	records := map[domain.EventID]*domain.Event{
		"ev1": {ID: "ev1", Slug: "launch", Title: "Launch", OrganizerIDs: []domain.UserID{"org"}, ParticipantIDs: []domain.UserID{"part"}},
		"ev2": {ID: "ev2", Slug: "open", Title: "Open house", AllowAnonymous: true},
	}

	events := &MockEventRepository{}
	for id, event := range records {
		events.On("LookupEvent", mock.Anything, id, "").Return(event, nil).Maybe()
		events.On("LookupEvent", mock.Anything, id, event.Slug).Return(event, nil).Maybe()
	}
	events.On("LookupEvent", mock.Anything, mock.Anything, mock.Anything).Return(nil, domain.ErrEventNotFound).Maybe()

	recRepo := &MockRecordingRepository{}

	store, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	pusher := newFakePusher()
	registry := NewSessionRegistry(NewManagerNotifier(pusher, logger))
	auth := NewAuthService(testSecret, time.Hour)
	access := NewAccessService(events, &staticMemberships{events: records}, auth, logger)
	recordings := NewRecordingManager(store, recRepo, nil, logger)

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	recordings.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	service := NewDistributionService(
		DistributionConfig{MaxChunkBytes: 64 * 1024},
		registry, access, recordings, pusher, nil, nil, logger,
	)

	return &testHub{
		events:     events,
		recRepo:    recRepo,
		auth:       auth,
		registry:   registry,
		recordings: recordings,
		pusher:     pusher,
		service:    service,
		store:      store,
	}
}
