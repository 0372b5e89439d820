package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/pkg/audio/pcm"
	"eventcast/pkg/audio/ratedetect"

	"go.uber.org/zap"
)

// BroadcastConfig controls how a broadcaster opens its stream.
type BroadcastConfig struct {
	// Calibration is how long capture is timed before the stream starts.
	// Zero trusts the rate the source reports.
	Calibration time.Duration
	// Tolerance is the relative distance within which a measured rate
	// snaps to a standard one.
	Tolerance float64
	// Record asks the hub to record the stream as it starts.
	Record bool
}

func DefaultBroadcastConfig() BroadcastConfig {
	return BroadcastConfig{
		Calibration: 2 * time.Second,
		Tolerance:   0.04,
	}
}

// BroadcastStats summarizes a finished broadcast.
type BroadcastStats struct {
	SampleRate   int
	ReportedRate int
	Chunks       int64
	Samples      int64
	Recording    bool
}

type startStreamRequest struct {
	SampleRate int `json:"sample_rate"`
}

type startRecordingResult struct {
	Started bool `json:"started"`
}

// Broadcaster streams a capture source into one event.
type Broadcaster struct {
	conn   *Conn
	cfg    BroadcastConfig
	logger *zap.SugaredLogger
}

func NewBroadcaster(conn *Conn, cfg BroadcastConfig, logger *zap.SugaredLogger) *Broadcaster {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultBroadcastConfig().Tolerance
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Broadcaster{conn: conn, cfg: cfg, logger: logger}
}

// Run streams src into eventID until the source is exhausted or ctx is
// cancelled. The announced sample rate is the one measured during
// calibration when it is close to a standard rate, otherwise the source's
// reported rate. Audio captured while calibrating is sent once the stream
// is open. The stream is ended on return.
func (b *Broadcaster) Run(ctx context.Context, eventID domain.EventID, src Source) (BroadcastStats, error) {
	stats := BroadcastStats{ReportedRate: src.ReportedRate()}

	backlog, eof, err := b.calibrate(ctx, src, &stats)
	if err != nil {
		return stats, err
	}

	if err := b.conn.Request(ctx, domain.MsgStartStream, eventID, startStreamRequest{SampleRate: stats.SampleRate}, nil); err != nil {
		return stats, fmt.Errorf("start stream: %w", err)
	}
	b.logger.Infow("Stream started",
		"event_id", eventID,
		"sample_rate", stats.SampleRate,
		"reported_rate", stats.ReportedRate,
	)
	defer b.end(eventID)

	if b.cfg.Record {
		var rec startRecordingResult
		if err := b.conn.Request(ctx, domain.MsgStartRecording, eventID, nil, &rec); err != nil {
			b.logger.Warnw("Failed to start recording", "event_id", eventID, "error", err)
		} else {
			stats.Recording = rec.Started
		}
	}

	for _, block := range backlog {
		if err := b.send(eventID, block, &stats); err != nil {
			return stats, err
		}
	}
	if eof {
		return stats, nil
	}

	for {
		block, _, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		if err := b.send(eventID, block, &stats); err != nil {
			return stats, err
		}
	}
}

func (b *Broadcaster) calibrate(ctx context.Context, src Source, stats *BroadcastStats) ([][]float32, bool, error) {
	stats.SampleRate = src.ReportedRate()
	if b.cfg.Calibration <= 0 {
		return nil, false, nil
	}

	detector := ratedetect.New(b.cfg.Calibration, b.cfg.Tolerance)
	var (
		backlog [][]float32
		first   time.Time
		eof     bool
	)
	for {
		block, at, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			eof = true
			break
		}
		if err != nil {
			return nil, false, err
		}
		backlog = append(backlog, block)
		detector.Observe(len(block), at)
		if first.IsZero() {
			first = at
		}
		if at.Sub(first) >= b.cfg.Calibration {
			break
		}
	}

	stats.SampleRate = detector.Resolve(stats.ReportedRate)
	if measured, ok := detector.Measured(); ok && stats.SampleRate != stats.ReportedRate {
		b.logger.Warnw("Capture rate differs from reported rate",
			"reported", stats.ReportedRate,
			"measured", measured,
			"using", stats.SampleRate,
		)
	}
	return backlog, eof, nil
}

func (b *Broadcaster) send(eventID domain.EventID, block []float32, stats *BroadcastStats) error {
	if len(block) == 0 {
		return nil
	}
	if err := b.conn.Send(domain.MsgAudioChunk, eventID, domain.ChunkPayload{Data: pcm.Encode(block)}); err != nil {
		return fmt.Errorf("send chunk: %w", err)
	}
	stats.Chunks++
	stats.Samples += int64(len(block))
	return nil
}

func (b *Broadcaster) end(eventID domain.EventID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.conn.Request(ctx, domain.MsgEndStream, eventID, nil, nil); err != nil {
		b.logger.Warnw("Failed to end stream", "event_id", eventID, "error", err)
		return
	}
	b.logger.Infow("Stream ended", "event_id", eventID)
}
