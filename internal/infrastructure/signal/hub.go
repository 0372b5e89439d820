package signal

import (
	"encoding/json"
	"fmt"
	"sync"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Frame is the JSON envelope of every websocket text message.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	EventID domain.EventID  `json:"event_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outboundFrame struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	EventID domain.EventID `json:"event_id,omitempty"`
	Payload interface{}    `json:"payload,omitempty"`
}

// client is one registered connection. send is never closed; done is
// closed when the connection leaves the hub so enqueue cannot panic.
type client struct {
	id       domain.ConnectionID
	identity domain.Identity
	send     chan *websocket.PreparedMessage
	done     chan struct{}
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub is the table of live connections. It implements ports.Pusher:
// every push is encoded once and enqueued on each recipient's bounded
// send queue without blocking.
type Hub struct {
	mu        sync.RWMutex
	clients   map[domain.ConnectionID]*client
	queueSize int
	logger    *zap.SugaredLogger
}

var _ ports.Pusher = (*Hub)(nil)

func NewHub(queueSize int, logger *zap.SugaredLogger) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:   make(map[domain.ConnectionID]*client),
		queueSize: queueSize,
		logger:    logger,
	}
}

func (h *Hub) register(id domain.ConnectionID, identity domain.Identity) *client {
	c := &client{
		id:       id,
		identity: identity,
		send:     make(chan *websocket.PreparedMessage, h.queueSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if old, exists := h.clients[id]; exists {
		old.close()
	}
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(id domain.ConnectionID) {
	h.mu.Lock()
	c, exists := h.clients[id]
	if exists {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if exists {
		c.close()
	}
}

// Close disconnects every registered connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[domain.ConnectionID]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if len(clients) > 0 {
		h.logger.Infow("Closed all connections", "count", len(clients))
	}
}

// Identity returns the identity resolved when the connection was opened.
func (h *Hub) Identity(id domain.ConnectionID) (domain.Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, exists := h.clients[id]
	if !exists {
		return domain.Identity{}, false
	}
	return c.identity, true
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Push(connID domain.ConnectionID, msg ports.OutboundMessage) error {
	pm, err := prepare(outboundFrame{Type: msg.Type, EventID: msg.EventID, Payload: msg.Payload})
	if err != nil {
		return err
	}
	if !h.enqueue(connID, pm) {
		return fmt.Errorf("push %s to %s: %w", msg.Type, connID, domain.ErrConnectionNotFound)
	}
	return nil
}

func (h *Hub) Broadcast(connIDs []domain.ConnectionID, msg ports.OutboundMessage) domain.FanoutResult {
	result := domain.FanoutResult{Recipients: len(connIDs)}
	if len(connIDs) == 0 {
		return result
	}

	pm, err := prepare(outboundFrame{Type: msg.Type, EventID: msg.EventID, Payload: msg.Payload})
	if err != nil {
		h.logger.Errorw("Failed to encode broadcast", "type", msg.Type, "event_id", msg.EventID, "error", err)
		result.Failed = append(result.Failed, connIDs...)
		return result
	}

	for _, id := range connIDs {
		if h.enqueue(id, pm) {
			result.Delivered++
		} else {
			result.Failed = append(result.Failed, id)
		}
	}
	return result
}

// reply sends a frame to one connection, used for request results and
// errors.
func (h *Hub) reply(connID domain.ConnectionID, frame outboundFrame) error {
	pm, err := prepare(frame)
	if err != nil {
		return err
	}
	if !h.enqueue(connID, pm) {
		return fmt.Errorf("reply to %s: %w", connID, domain.ErrConnectionNotFound)
	}
	return nil
}

func (h *Hub) enqueue(id domain.ConnectionID, pm *websocket.PreparedMessage) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, exists := h.clients[id]
	if !exists {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- pm:
		return true
	default:
		h.logger.Warnw("Send queue full, message dropped", "connection_id", id)
		return false
	}
}

func prepare(frame outboundFrame) (*websocket.PreparedMessage, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", frame.Type, err)
	}
	return websocket.NewPreparedMessage(websocket.TextMessage, data)
}
