package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
	"eventcast/internal/core/services"
	apperrors "eventcast/pkg/errors"
	"eventcast/pkg/tracing"
	"eventcast/pkg/utils"
	"eventcast/pkg/validation"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ServerConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxMessageBytes bounds a single inbound frame. 0 disables the limit.
	MaxMessageBytes int64
	// MessagesPerSecond enables the per-connection inbound limiter when > 0.
	MessagesPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageBytes: 128 * 1024,
		AllowedOrigins:  []string{"*"},
	}
}

type joinListenerPayload struct {
	Slug  string `json:"slug"`
	Token string `json:"token"`
}

type startStreamPayload struct {
	SampleRate int `json:"sample_rate"`
}

type errorPayload struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

type okPayload struct {
	OK bool `json:"ok"`
}

type startRecordingPayload struct {
	Started bool `json:"started"`
}

// WebSocketServer terminates audio channel connections: it resolves the
// caller's identity, pumps frames in both directions and dispatches
// commands to the distribution service.
type WebSocketServer struct {
	hub      *Hub
	service  *services.DistributionService
	auth     services.AuthService
	cfg      ServerConfig
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

var _ ports.WebSocketHandler = (*WebSocketServer)(nil)

func NewWebSocketServer(
	hub *Hub,
	service *services.DistributionService,
	auth services.AuthService,
	cfg ServerConfig,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &WebSocketServer{
		hub:     hub,
		service: service,
		auth:    auth,
		cfg:     cfg,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// resolveIdentity reads a bearer token from the Authorization header or
// the access_token query parameter. Anything missing or invalid is a guest.
func (s *WebSocketServer) resolveIdentity(r *http.Request) domain.Identity {
	token := r.URL.Query().Get("access_token")
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = parts[1]
		}
	}
	if token == "" {
		return domain.Identity{}
	}
	identity := s.auth.IdentityFromToken(token)
	identity.Username = utils.TruncateString(utils.SanitizeString(identity.Username), 100)
	if validation.ValidateDisplayName(identity.Username) != nil {
		identity.Username = ""
	}
	return identity
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity := s.resolveIdentity(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	connID := domain.ConnectionID(utils.GenerateConnectionID())
	c := s.hub.register(connID, identity)
	s.logger.Infow("Connection opened",
		"connection_id", connID,
		"user_id", identity.UserID,
		"authenticated", identity.Authenticated,
	)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(conn, c)
	}()

	s.readPump(r.Context(), conn, c)

	s.hub.unregister(connID)
	<-writerDone
	conn.Close()

	// runs after the socket is gone so a broadcaster's recording is
	// finalized before this handler returns
	s.HandleDisconnect(context.Background(), connID)
	s.logger.Infow("Connection closed", "connection_id", connID)
}

func (s *WebSocketServer) readPump(ctx context.Context, conn *websocket.Conn, c *client) {
	if s.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message", "connection_id", c.id, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if msgType != websocket.TextMessage {
			s.sendError(c.id, "", "", apperrors.NewInvalidInputError("only text frames are accepted"))
			continue
		}
		if limiter != nil && !limiter.Allow() {
			s.sendError(c.id, "", "", apperrors.NewRateLimitError())
			continue
		}

		if err := s.HandleMessage(ctx, c.id, data); err != nil {
			s.logger.Debugw("message rejected", "connection_id", c.id, "error", err)
		}
	}
}

func (s *WebSocketServer) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case pm := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WritePreparedMessage(pm); err != nil {
				s.logger.Infow("error writing message", "connection_id", c.id, "error", err)
				// unblock the reader
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "connection_id", c.id, "error", err)
				conn.Close()
				return
			}

		case <-c.done:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
			return
		}
	}
}

// HandleMessage decodes one frame from connID and executes it. Results
// and errors are replied to the sender; the returned error is for logging.
func (s *WebSocketServer) HandleMessage(ctx context.Context, connID domain.ConnectionID, data []byte) error {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		appErr := apperrors.NewInvalidInputError("malformed frame")
		s.sendError(connID, "", "", appErr)
		return fmt.Errorf("decode frame: %w", err)
	}
	if frame.Type == "" {
		appErr := apperrors.NewInvalidInputError("message type is required")
		s.sendError(connID, frame.ID, frame.EventID, appErr)
		return appErr
	}

	identity, ok := s.hub.Identity(connID)
	if !ok {
		return domain.ErrConnectionNotFound
	}

	if frame.Type != domain.MsgAudioChunk {
		var span trace.Span
		ctx, span = tracing.TraceWebSocketMessage(ctx, frame.Type, string(connID))
		defer span.End()
	}

	result, err := s.dispatch(ctx, connID, identity, frame)
	if err != nil {
		s.sendError(connID, frame.ID, frame.EventID, err)
		return err
	}
	if result != nil {
		return s.hub.reply(connID, outboundFrame{
			Type:    domain.MsgResult,
			ID:      frame.ID,
			EventID: frame.EventID,
			Payload: result,
		})
	}
	return nil
}

func (s *WebSocketServer) HandleDisconnect(ctx context.Context, connID domain.ConnectionID) {
	s.service.HandleDisconnect(ctx, connID)
}

func (s *WebSocketServer) dispatch(ctx context.Context, connID domain.ConnectionID, identity domain.Identity, frame Frame) (interface{}, error) {
	switch frame.Type {
	case domain.MsgPing:
		return nil, s.hub.reply(connID, outboundFrame{Type: domain.MsgPong, ID: frame.ID})
	case domain.MsgLeaveListener:
		s.service.LeaveListener(ctx, connID)
		return okPayload{OK: true}, nil
	}

	if err := validation.ValidateEventID(string(frame.EventID)); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	eventID := frame.EventID

	switch frame.Type {
	case domain.MsgJoinListener:
		var payload joinListenerPayload
		if err := decodePayload(frame, &payload); err != nil {
			return nil, err
		}
		if err := validation.ValidateSlug(payload.Slug); err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
		return s.service.JoinListener(ctx, connID, eventID, payload.Slug, identity, payload.Token), nil

	case domain.MsgJoinManager:
		listeners, ok := s.service.JoinManager(ctx, connID, eventID, identity)
		if !ok {
			return nil, apperrors.NewForbiddenError("only organizers can manage this event")
		}
		if listeners == nil {
			listeners = []domain.ListenerInfo{}
		}
		return domain.ListenersSnapshotPayload{Listeners: listeners}, nil

	case domain.MsgStartStream:
		var payload startStreamPayload
		if err := decodePayload(frame, &payload); err != nil {
			return nil, err
		}
		if err := s.service.StartStream(ctx, connID, eventID, identity, payload.SampleRate); err != nil {
			return nil, apperrors.FromDomain(err)
		}
		return domain.StreamStartedPayload{SampleRate: payload.SampleRate}, nil

	case domain.MsgEndStream:
		if err := s.service.EndStream(ctx, connID, eventID, identity); err != nil {
			return nil, apperrors.FromDomain(err)
		}
		return okPayload{OK: true}, nil

	case domain.MsgAudioChunk:
		var payload domain.ChunkPayload
		if err := decodePayload(frame, &payload); err != nil {
			return nil, err
		}
		if err := s.service.BroadcastChunk(ctx, connID, eventID, payload.Data); err != nil {
			return nil, apperrors.FromDomain(err)
		}
		return nil, nil

	case domain.MsgStartRecording:
		return startRecordingPayload{Started: s.service.StartRecording(ctx, eventID, identity)}, nil

	case domain.MsgStopRecording:
		if !s.service.CanManage(ctx, eventID, identity) {
			return nil, apperrors.NewForbiddenError("only organizers can stop recordings")
		}
		result, ok := s.service.StopRecording(ctx, eventID)
		if !ok {
			return nil, apperrors.FromDomain(domain.ErrNotRecording)
		}
		return domain.RecordingStoppedPayload{Filename: result.Filename, Duration: result.DurationSeconds}, nil
	}

	return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown message type: %s", frame.Type))
}

func decodePayload(frame Frame, v interface{}) error {
	if len(frame.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(frame.Payload, v); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("invalid %s payload", frame.Type), http.StatusBadRequest)
	}
	return nil
}

func (s *WebSocketServer) sendError(connID domain.ConnectionID, id string, eventID domain.EventID, err error) {
	appErr := apperrors.FromDomain(err)
	if appErr.Code == apperrors.ErrCodeInternal {
		s.logger.Errorw("internal error handling message", "connection_id", connID, "error", err)
	}
	replyErr := s.hub.reply(connID, outboundFrame{
		Type:    domain.MsgError,
		ID:      id,
		EventID: eventID,
		Payload: errorPayload{Code: appErr.Code, Message: appErr.Message},
	})
	if replyErr != nil {
		s.logger.Debugw("error reply not delivered", "connection_id", connID, "error", replyErr)
	}
}

// HealthCheck reports the number of open connections.
func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.hub.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
