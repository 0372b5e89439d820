package services

import (
	"sort"
	"sync"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
)

type listenerEntry struct {
	info domain.ListenerInfo
	seq  uint64
}

// eventGroup holds the membership of one event. All fields are guarded by mu.
type eventGroup struct {
	mu         sync.Mutex
	listeners  map[domain.ConnectionID]listenerEntry
	managers   map[domain.ConnectionID]uint64
	sampleRate int
	rateSet    bool
	seq        uint64
	removed    bool
}

func newEventGroup() *eventGroup {
	return &eventGroup{
		listeners: make(map[domain.ConnectionID]listenerEntry),
		managers:  make(map[domain.ConnectionID]uint64),
	}
}

func (g *eventGroup) empty() bool {
	return len(g.listeners) == 0 && len(g.managers) == 0 && !g.rateSet
}

func (g *eventGroup) next() uint64 {
	g.seq++
	return g.seq
}

func (g *eventGroup) listenerInfos() []domain.ListenerInfo {
	entries := make([]listenerEntry, 0, len(g.listeners))
	for _, e := range g.listeners {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	infos := make([]domain.ListenerInfo, len(entries))
	for i, e := range entries {
		infos[i] = e.info
	}
	return infos
}

func (g *eventGroup) managerIDs() []domain.ConnectionID {
	ids := make([]domain.ConnectionID, 0, len(g.managers))
	for id := range g.managers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return g.managers[ids[i]] < g.managers[ids[j]] })
	return ids
}

// SessionRegistry is the in-process registry of listener and manager
// connections per event.
//
// Lock order: groupsMu before a group's mu (pruning only), a group's mu
// before indexMu. Operations on different events never share a group lock.
type SessionRegistry struct {
	groupsMu sync.Mutex
	groups   map[domain.EventID]*eventGroup

	indexMu       sync.Mutex
	listenerIndex map[domain.ConnectionID]domain.EventID
	managerIndex  map[domain.ConnectionID]domain.EventID

	notifier    ports.MembershipNotifier
	defaultRate int
}

var _ ports.SessionRegistry = (*SessionRegistry)(nil)

// NewSessionRegistry creates an empty registry. notifier may be nil.
func NewSessionRegistry(notifier ports.MembershipNotifier) *SessionRegistry {
	return &SessionRegistry{
		groups:        make(map[domain.EventID]*eventGroup),
		listenerIndex: make(map[domain.ConnectionID]domain.EventID),
		managerIndex:  make(map[domain.ConnectionID]domain.EventID),
		notifier:      notifier,
		defaultRate:   domain.DefaultSampleRate,
	}
}

// WithDefaultSampleRate sets the rate reported for events without a
// negotiated one. Non-positive values are ignored.
func (r *SessionRegistry) WithDefaultSampleRate(hz int) *SessionRegistry {
	if hz > 0 {
		r.defaultRate = hz
	}
	return r
}

// DefaultSampleRate returns the rate reported for events without a
// negotiated one.
func (r *SessionRegistry) DefaultSampleRate() int {
	return r.defaultRate
}

// lockGroup returns the event's group with its mutex held, or nil when the
// group does not exist and create is false.
func (r *SessionRegistry) lockGroup(eventID domain.EventID, create bool) *eventGroup {
	for {
		r.groupsMu.Lock()
		g, ok := r.groups[eventID]
		if !ok && create {
			g = newEventGroup()
			r.groups[eventID] = g
		}
		r.groupsMu.Unlock()

		if g == nil {
			return nil
		}

		g.mu.Lock()
		if !g.removed {
			return g
		}
		// pruned between the map read and the lock
		g.mu.Unlock()
	}
}

func (r *SessionRegistry) prune(eventID domain.EventID, g *eventGroup) {
	r.groupsMu.Lock()
	defer r.groupsMu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.removed || !g.empty() || r.groups[eventID] != g {
		return
	}
	g.removed = true
	delete(r.groups, eventID)
}

func (r *SessionRegistry) notify(g *eventGroup, change domain.MembershipChange) {
	if r.notifier == nil || len(g.managers) == 0 {
		return
	}
	r.notifier.NotifyMembership(g.managerIDs(), change)
}

// ListenerEvent reports the event connID currently listens to.
func (r *SessionRegistry) ListenerEvent(connID domain.ConnectionID) (domain.EventID, bool) {
	return r.listenerEvent(connID)
}

func (r *SessionRegistry) listenerEvent(connID domain.ConnectionID) (domain.EventID, bool) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	eventID, ok := r.listenerIndex[connID]
	return eventID, ok
}

func (r *SessionRegistry) managerEvent(connID domain.ConnectionID) (domain.EventID, bool) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	eventID, ok := r.managerIndex[connID]
	return eventID, ok
}

// RegisterListener adds connID to the listeners of eventID. Registering the
// same connection twice is a no-op; a connection listening to another event
// is moved.
func (r *SessionRegistry) RegisterListener(eventID domain.EventID, connID domain.ConnectionID, displayName string) {
	if current, ok := r.listenerEvent(connID); ok && current != eventID {
		r.UnregisterListener(connID)
	}

	g := r.lockGroup(eventID, true)
	defer g.mu.Unlock()

	if _, exists := g.listeners[connID]; exists {
		return
	}

	info := domain.ListenerInfo{ConnectionID: connID, DisplayName: displayName}
	g.listeners[connID] = listenerEntry{info: info, seq: g.next()}

	r.indexMu.Lock()
	r.listenerIndex[connID] = eventID
	r.indexMu.Unlock()

	r.notify(g, domain.MembershipChange{Kind: domain.ListenerJoined, EventID: eventID, Listener: info})
}

// UnregisterListener removes connID from whichever event it listens to and
// reports that event. Unknown connections are ignored.
func (r *SessionRegistry) UnregisterListener(connID domain.ConnectionID) (domain.EventID, bool) {
	eventID, ok := r.listenerEvent(connID)
	if !ok {
		return "", false
	}

	g := r.lockGroup(eventID, false)
	if g == nil {
		r.indexMu.Lock()
		delete(r.listenerIndex, connID)
		r.indexMu.Unlock()
		return "", false
	}

	entry, exists := g.listeners[connID]
	if exists {
		delete(g.listeners, connID)
		r.notify(g, domain.MembershipChange{Kind: domain.ListenerLeft, EventID: eventID, Listener: entry.info})
	}

	r.indexMu.Lock()
	delete(r.listenerIndex, connID)
	r.indexMu.Unlock()

	empty := g.empty()
	g.mu.Unlock()

	if empty {
		r.prune(eventID, g)
	}
	return eventID, exists
}

// RegisterManager adds connID to the managers of eventID and returns the
// listeners present at that instant. The snapshot is taken under the event
// lock, so every later change reaches the manager as a notification.
func (r *SessionRegistry) RegisterManager(eventID domain.EventID, connID domain.ConnectionID) []domain.ListenerInfo {
	if current, ok := r.managerEvent(connID); ok && current != eventID {
		r.UnregisterManager(connID)
	}

	g := r.lockGroup(eventID, true)
	defer g.mu.Unlock()

	if _, exists := g.managers[connID]; !exists {
		g.managers[connID] = g.next()

		r.indexMu.Lock()
		r.managerIndex[connID] = eventID
		r.indexMu.Unlock()
	}

	snapshot := g.listenerInfos()
	if r.notifier != nil {
		r.notifier.NotifySnapshot(connID, eventID, snapshot)
	}
	return snapshot
}

func (r *SessionRegistry) UnregisterManager(connID domain.ConnectionID) (domain.EventID, bool) {
	eventID, ok := r.managerEvent(connID)
	if !ok {
		return "", false
	}

	r.indexMu.Lock()
	delete(r.managerIndex, connID)
	r.indexMu.Unlock()

	g := r.lockGroup(eventID, false)
	if g == nil {
		return "", false
	}

	_, exists := g.managers[connID]
	delete(g.managers, connID)
	empty := g.empty()
	g.mu.Unlock()

	if empty {
		r.prune(eventID, g)
	}
	return eventID, exists
}

// Listeners returns the listener connections of eventID in join order.
func (r *SessionRegistry) Listeners(eventID domain.EventID) []domain.ConnectionID {
	g := r.lockGroup(eventID, false)
	if g == nil {
		return nil
	}
	defer g.mu.Unlock()

	infos := g.listenerInfos()
	ids := make([]domain.ConnectionID, len(infos))
	for i, info := range infos {
		ids[i] = info.ConnectionID
	}
	return ids
}

func (r *SessionRegistry) Managers(eventID domain.EventID) []domain.ConnectionID {
	g := r.lockGroup(eventID, false)
	if g == nil {
		return nil
	}
	defer g.mu.Unlock()
	return g.managerIDs()
}

func (r *SessionRegistry) ListenerCount(eventID domain.EventID) int {
	g := r.lockGroup(eventID, false)
	if g == nil {
		return 0
	}
	defer g.mu.Unlock()
	return len(g.listeners)
}

// Events returns the ids of all events that currently hold any state.
func (r *SessionRegistry) Events() []domain.EventID {
	r.groupsMu.Lock()
	defer r.groupsMu.Unlock()

	ids := make([]domain.EventID, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *SessionRegistry) SetSampleRate(eventID domain.EventID, hz int) {
	g := r.lockGroup(eventID, true)
	defer g.mu.Unlock()
	g.sampleRate = hz
	g.rateSet = true
}

// GetSampleRate returns the negotiated rate of eventID. Events without one
// report the default rate and false.
func (r *SessionRegistry) GetSampleRate(eventID domain.EventID) (int, bool) {
	g := r.lockGroup(eventID, false)
	if g == nil {
		return r.defaultRate, false
	}
	defer g.mu.Unlock()

	if !g.rateSet {
		return r.defaultRate, false
	}
	return g.sampleRate, true
}

func (r *SessionRegistry) ClearSampleRate(eventID domain.EventID) {
	g := r.lockGroup(eventID, false)
	if g == nil {
		return
	}
	g.sampleRate = 0
	g.rateSet = false
	empty := g.empty()
	g.mu.Unlock()

	if empty {
		r.prune(eventID, g)
	}
}
