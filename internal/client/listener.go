package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"eventcast/internal/core/domain"

	"go.uber.org/zap"
)

// Sink receives the audio of a joined event. *player.Scheduler
// implements it.
type Sink interface {
	SetSampleRate(hz int)
	Push(chunk []byte)
	Reset()
}

// Listener feeds one event's audio stream into a sink.
type Listener struct {
	conn   *Conn
	sink   Sink
	logger *zap.SugaredLogger

	mu      sync.Mutex
	eventID domain.EventID
	live    bool
	chunks  int64
}

func NewListener(conn *Conn, sink Sink, logger *zap.SugaredLogger) *Listener {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	l := &Listener{conn: conn, sink: sink, logger: logger}
	conn.SetPushHandler(l.handlePush)
	return l
}

type joinRequest struct {
	Slug  string `json:"slug,omitempty"`
	Token string `json:"token,omitempty"`
}

// Join asks to listen to eventID. A denied join is not an error; the
// result carries the reason.
func (l *Listener) Join(ctx context.Context, eventID domain.EventID, slug, token string) (domain.JoinResult, error) {
	l.mu.Lock()
	l.eventID = eventID
	l.mu.Unlock()

	var result domain.JoinResult
	if err := l.conn.Request(ctx, domain.MsgJoinListener, eventID, joinRequest{Slug: slug, Token: token}, &result); err != nil {
		return result, fmt.Errorf("join %s: %w", eventID, err)
	}
	if !result.Allowed {
		return result, nil
	}

	l.mu.Lock()
	l.live = result.Live
	l.mu.Unlock()
	l.sink.SetSampleRate(result.SampleRateHz)

	l.logger.Infow("Joined event",
		"event_id", eventID,
		"live", result.Live,
		"sample_rate", result.SampleRateHz,
	)
	return result, nil
}

// Leave stops listening.
func (l *Listener) Leave(ctx context.Context) error {
	l.mu.Lock()
	eventID := l.eventID
	l.eventID = ""
	l.mu.Unlock()

	if eventID == "" {
		return nil
	}
	return l.conn.Request(ctx, domain.MsgLeaveListener, eventID, nil, nil)
}

// Live reports whether the joined event is streaming.
func (l *Listener) Live() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live
}

// Chunks returns how many audio chunks have arrived.
func (l *Listener) Chunks() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chunks
}

func (l *Listener) handlePush(frame Frame) {
	l.mu.Lock()
	joined := l.eventID
	l.mu.Unlock()

	if joined == "" || (frame.EventID != "" && frame.EventID != joined) {
		return
	}

	switch frame.Type {
	case domain.MsgAudioChunk:
		var payload domain.ChunkPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			l.logger.Warnw("Malformed audio chunk", "event_id", joined, "error", err)
			return
		}
		l.mu.Lock()
		l.chunks++
		l.mu.Unlock()
		l.sink.Push(payload.Data)

	case domain.MsgStreamStarted:
		var payload domain.StreamStartedPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			l.logger.Warnw("Malformed stream_started", "event_id", joined, "error", err)
			return
		}
		l.mu.Lock()
		l.live = true
		l.mu.Unlock()
		l.sink.SetSampleRate(payload.SampleRate)
		l.logger.Infow("Stream started", "event_id", joined, "sample_rate", payload.SampleRate)

	case domain.MsgStreamEnded:
		l.mu.Lock()
		l.live = false
		l.mu.Unlock()
		l.sink.Reset()
		l.logger.Infow("Stream ended", "event_id", joined)
	}
}
