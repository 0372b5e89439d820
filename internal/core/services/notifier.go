package services

import (
	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"

	"go.uber.org/zap"
)

// ManagerNotifier turns registry membership changes into pushes to the
// event's managers.
type ManagerNotifier struct {
	pusher ports.Pusher
	logger *zap.SugaredLogger
}

var _ ports.MembershipNotifier = (*ManagerNotifier)(nil)

func NewManagerNotifier(pusher ports.Pusher, logger *zap.SugaredLogger) *ManagerNotifier {
	return &ManagerNotifier{pusher: pusher, logger: logger}
}

func (n *ManagerNotifier) NotifyMembership(managers []domain.ConnectionID, change domain.MembershipChange) {
	result := n.pusher.Broadcast(managers, ports.OutboundMessage{
		Type:    string(change.Kind),
		EventID: change.EventID,
		Payload: change.Listener,
	})
	if len(result.Failed) > 0 {
		n.logger.Warnw("Membership notification not delivered",
			"event_id", change.EventID,
			"kind", change.Kind,
			"failed", len(result.Failed),
		)
	}
}

func (n *ManagerNotifier) NotifySnapshot(manager domain.ConnectionID, eventID domain.EventID, listeners []domain.ListenerInfo) {
	if listeners == nil {
		listeners = []domain.ListenerInfo{}
	}
	err := n.pusher.Push(manager, ports.OutboundMessage{
		Type:    domain.MsgListenersSnapshot,
		EventID: eventID,
		Payload: domain.ListenersSnapshotPayload{Listeners: listeners},
	})
	if err != nil {
		n.logger.Warnw("Listener snapshot not delivered",
			"event_id", eventID,
			"connection_id", manager,
			"error", err,
		)
	}
}
