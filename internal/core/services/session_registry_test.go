package services

import (
	"fmt"
	"sync"
	"testing"

	"eventcast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notification struct {
	managers []domain.ConnectionID
	change   domain.MembershipChange
}

type recordingNotifier struct {
	mu        sync.Mutex
	items     []notification
	snapshots map[domain.ConnectionID][]domain.ListenerInfo
}

func (n *recordingNotifier) NotifySnapshot(manager domain.ConnectionID, _ domain.EventID, listeners []domain.ListenerInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.snapshots == nil {
		n.snapshots = make(map[domain.ConnectionID][]domain.ListenerInfo)
	}
	n.snapshots[manager] = listeners
}

func (n *recordingNotifier) NotifyMembership(managers []domain.ConnectionID, change domain.MembershipChange) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, notification{managers: managers, change: change})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.items...)
}

func TestSessionRegistry_ListenerLifecycle(t *testing.T) {
	notifier := &recordingNotifier{}
	reg := NewSessionRegistry(notifier)

	snapshot := reg.RegisterManager("ev1", "mgr")
	assert.Empty(t, snapshot)

	reg.RegisterListener("ev1", "a", "alice")
	reg.RegisterListener("ev1", "b", "Guest")
	reg.RegisterListener("ev1", "a", "alice")

	assert.Equal(t, []domain.ConnectionID{"a", "b"}, reg.Listeners("ev1"))
	assert.Equal(t, 2, reg.ListenerCount("ev1"))

	eventID, ok := reg.UnregisterListener("a")
	assert.True(t, ok)
	assert.Equal(t, domain.EventID("ev1"), eventID)

	_, ok = reg.UnregisterListener("a")
	assert.False(t, ok)

	items := notifier.all()
	require.Len(t, items, 3)
	assert.Equal(t, domain.ListenerJoined, items[0].change.Kind)
	assert.Equal(t, "alice", items[0].change.Listener.DisplayName)
	assert.Equal(t, domain.ListenerJoined, items[1].change.Kind)
	assert.Equal(t, domain.ListenerLeft, items[2].change.Kind)
	assert.Equal(t, domain.ConnectionID("a"), items[2].change.Listener.ConnectionID)
	for _, item := range items {
		assert.Equal(t, []domain.ConnectionID{"mgr"}, item.managers)
	}
}

func TestSessionRegistry_ManagerSnapshot(t *testing.T) {
	notifier := &recordingNotifier{}
	reg := NewSessionRegistry(notifier)
	reg.RegisterListener("ev1", "a", "alice")
	reg.RegisterListener("ev1", "b", "bob")
	reg.RegisterListener("ev2", "c", "carol")

	snapshot := reg.RegisterManager("ev1", "mgr")
	assert.Equal(t, []domain.ListenerInfo{
		{ConnectionID: "a", DisplayName: "alice"},
		{ConnectionID: "b", DisplayName: "bob"},
	}, snapshot)
	notifier.mu.Lock()
	assert.Equal(t, snapshot, notifier.snapshots["mgr"])
	notifier.mu.Unlock()
	assert.Equal(t, []domain.ConnectionID{"mgr"}, reg.Managers("ev1"))
	assert.Empty(t, reg.Managers("ev2"))

	eventID, ok := reg.UnregisterManager("mgr")
	assert.True(t, ok)
	assert.Equal(t, domain.EventID("ev1"), eventID)
	assert.Empty(t, reg.Managers("ev1"))
}

func TestSessionRegistry_MoveListenerBetweenEvents(t *testing.T) {
	notifier := &recordingNotifier{}
	reg := NewSessionRegistry(notifier)
	reg.RegisterManager("ev1", "m1")
	reg.RegisterManager("ev2", "m2")

	reg.RegisterListener("ev1", "a", "alice")
	reg.RegisterListener("ev2", "a", "alice")

	assert.Empty(t, reg.Listeners("ev1"))
	assert.Equal(t, []domain.ConnectionID{"a"}, reg.Listeners("ev2"))

	items := notifier.all()
	require.Len(t, items, 3)
	assert.Equal(t, domain.EventID("ev1"), items[1].change.EventID)
	assert.Equal(t, domain.ListenerLeft, items[1].change.Kind)
	assert.Equal(t, domain.EventID("ev2"), items[2].change.EventID)
	assert.Equal(t, domain.ListenerJoined, items[2].change.Kind)
}

func TestSessionRegistry_SampleRate(t *testing.T) {
	reg := NewSessionRegistry(nil)

	hz, ok := reg.GetSampleRate("ev9")
	assert.False(t, ok)
	assert.Equal(t, domain.DefaultSampleRate, hz)

	reg.SetSampleRate("ev9", 48000)
	hz, ok = reg.GetSampleRate("ev9")
	assert.True(t, ok)
	assert.Equal(t, 48000, hz)

	reg.ClearSampleRate("ev9")
	hz, ok = reg.GetSampleRate("ev9")
	assert.False(t, ok)
	assert.Equal(t, domain.DefaultSampleRate, hz)
}

func TestSessionRegistry_ConfiguredDefaultSampleRate(t *testing.T) {
	reg := NewSessionRegistry(nil).WithDefaultSampleRate(48000)
	assert.Equal(t, 48000, reg.DefaultSampleRate())

	hz, ok := reg.GetSampleRate("ev9")
	assert.False(t, ok)
	assert.Equal(t, 48000, hz)

	reg.SetSampleRate("ev9", 22050)
	reg.ClearSampleRate("ev9")
	hz, _ = reg.GetSampleRate("ev9")
	assert.Equal(t, 48000, hz)

	assert.Equal(t, 48000, reg.WithDefaultSampleRate(0).DefaultSampleRate())
}

func TestSessionRegistry_PrunesEmptyEvents(t *testing.T) {
	reg := NewSessionRegistry(nil)
	reg.RegisterListener("ev1", "a", "alice")
	reg.SetSampleRate("ev2", 22050)
	assert.Equal(t, []domain.EventID{"ev1", "ev2"}, reg.Events())

	reg.UnregisterListener("a")
	reg.ClearSampleRate("ev2")
	assert.Empty(t, reg.Events())

	reg.RegisterListener("ev1", "b", "bob")
	assert.Equal(t, []domain.ConnectionID{"b"}, reg.Listeners("ev1"))
}

func TestSessionRegistry_ConcurrentEvents(t *testing.T) {
	notifier := &recordingNotifier{}
	reg := NewSessionRegistry(notifier)
	reg.RegisterManager("ev0", "mgr")

	const events = 8
	const perEvent = 50

	var wg sync.WaitGroup
	for e := 0; e < events; e++ {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			eventID := domain.EventID(fmt.Sprintf("ev%d", e))
			for i := 0; i < perEvent; i++ {
				connID := domain.ConnectionID(fmt.Sprintf("c-%d-%d", e, i))
				reg.RegisterListener(eventID, connID, "Guest")
				if i%2 == 1 {
					reg.UnregisterListener(connID)
				}
			}
		}()
	}
	wg.Wait()

	for e := 0; e < events; e++ {
		assert.Equal(t, perEvent/2, reg.ListenerCount(domain.EventID(fmt.Sprintf("ev%d", e))))
	}

	// ev0 has a manager: every join precedes its leave in the notification stream.
	joined := make(map[domain.ConnectionID]bool)
	for _, item := range notifier.all() {
		id := item.change.Listener.ConnectionID
		switch item.change.Kind {
		case domain.ListenerJoined:
			joined[id] = true
		case domain.ListenerLeft:
			assert.True(t, joined[id], "left before joined: %s", id)
		}
	}
	assert.Len(t, joined, perEvent)
}
