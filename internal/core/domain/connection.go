package domain

type Role string

const (
	RoleListener    Role = "listener"
	RoleManager     Role = "manager"
	RoleBroadcaster Role = "broadcaster"
)

// ListenerInfo is what managers see of a listener connection.
type ListenerInfo struct {
	ConnectionID ConnectionID `json:"connection_id"`
	DisplayName  string       `json:"display_name"`
}

type MembershipKind string

const (
	ListenerJoined MembershipKind = "listener_joined"
	ListenerLeft   MembershipKind = "listener_left"
)

// MembershipChange is emitted to managers whenever a listener joins or
// leaves an event.
type MembershipChange struct {
	Kind     MembershipKind `json:"kind"`
	EventID  EventID        `json:"event_id"`
	Listener ListenerInfo   `json:"listener"`
}

// JoinResult is the outcome of a listener join. Allowed=false means the
// caller is not authorized; Live=false with Allowed=true means the stream
// has not started and SampleRateHz is the default.
type JoinResult struct {
	Allowed      bool   `json:"allowed"`
	SampleRateHz int    `json:"sample_rate"`
	Live         bool   `json:"live"`
	Reason       string `json:"reason,omitempty"`
}

const (
	ReasonUnauthorized = "you are not authorized to access this stream"
	ReasonNotStarted   = "the stream has not started yet"
)
