package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"eventcast/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed is returned for requests on a closed connection.
var ErrClosed = errors.New("connection closed")

// Frame is the JSON envelope exchanged with the hub.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	EventID domain.EventID  `json:"event_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	EventID domain.EventID `json:"event_id,omitempty"`
	Payload interface{}    `json:"payload,omitempty"`
}

// RemoteError is an error reply from the hub.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Conn is a client connection to the hub. Requests are matched to their
// replies by id; everything else goes to the push handler.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan Frame
	onPush  func(Frame)
	err     error

	done   chan struct{}
	logger *zap.SugaredLogger
}

// Dial connects to the hub websocket at url. A non-empty identity token is
// sent as a bearer token.
func Dial(ctx context.Context, url, identityToken string, logger *zap.SugaredLogger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	header := http.Header{}
	if identityToken != "" {
		header.Set("Authorization", "Bearer "+identityToken)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Conn{
		ws:      ws,
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go c.readLoop()
	return c, nil
}

// SetPushHandler sets the callback for frames that are not replies. It is
// called from the read goroutine and must not block.
func (c *Conn) SetPushHandler(fn func(Frame)) {
	c.mu.Lock()
	c.onPush = fn
	c.mu.Unlock()
}

// Request sends a command and waits for its result. An error reply is
// returned as *RemoteError. result may be nil.
func (c *Conn) Request(ctx context.Context, msgType string, eventID domain.EventID, payload, result interface{}) error {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	reply := make(chan Frame, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(outbound{Type: msgType, ID: id, EventID: eventID, Payload: payload}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.closeErr()
	case frame := <-reply:
		if frame.Type == domain.MsgError {
			remote := &RemoteError{}
			if err := json.Unmarshal(frame.Payload, remote); err != nil {
				return fmt.Errorf("decode %s error reply: %w", msgType, err)
			}
			return remote
		}
		if result == nil || len(frame.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(frame.Payload, result); err != nil {
			return fmt.Errorf("decode %s result: %w", msgType, err)
		}
		return nil
	}
}

// Send writes a command without waiting for a reply.
func (c *Conn) Send(msgType string, eventID domain.EventID, payload interface{}) error {
	return c.write(outbound{Type: msgType, EventID: eventID, Payload: payload})
}

// Done is closed when the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, nil while it is open.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.closeErr()
	default:
		return nil
	}
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Conn) write(msg outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return c.closeErr()
	default:
	}

	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		var frame Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = ErrClosed
			} else {
				c.err = fmt.Errorf("%w: %v", ErrClosed, err)
			}
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		reply, isReply := c.pending[frame.ID]
		onPush := c.onPush
		c.mu.Unlock()

		if frame.ID != "" && isReply && isReplyType(frame.Type) {
			reply <- frame
			continue
		}

		if frame.Type == domain.MsgError {
			var remote RemoteError
			json.Unmarshal(frame.Payload, &remote)
			c.logger.Warnw("Hub reported an error", "code", remote.Code, "message", remote.Message)
			continue
		}
		if onPush != nil {
			onPush(frame)
		}
	}
}

func (c *Conn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrClosed
	}
	return c.err
}

func isReplyType(t string) bool {
	return t == domain.MsgResult || t == domain.MsgError || t == domain.MsgPong
}
