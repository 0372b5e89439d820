package player

import (
	"context"
	"sync"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/pkg/audio/pcm"

	"go.uber.org/zap"
)

// AudioClock is the playback device's clock, as an offset from its start.
type AudioClock interface {
	Now() time.Duration
}

// Output plays decoded samples starting exactly at the given clock time.
// rate is the playback speed multiplier.
type Output interface {
	Play(samples []float32, sampleRate int, at time.Duration, rate float64)
}

type Config struct {
	TickInterval  time.Duration
	StartupMargin time.Duration
	MaxPerTick    int
	TargetDepth   int
	SpeedupRate   float64
	MaxLead       time.Duration
	MaxQueue      int
	// Lookahead bounds how far ahead of the clock chunks are scheduled.
	// Chunks beyond it stay queued, so queue depth tracks real backlog.
	Lookahead time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval:  20 * time.Millisecond,
		StartupMargin: 50 * time.Millisecond,
		MaxPerTick:    3,
		TargetDepth:   10,
		SpeedupRate:   1.3,
		MaxLead:       2 * time.Second,
		MaxQueue:      100,
		Lookahead:     500 * time.Millisecond,
	}
}

// Stats are the running counters of a scheduler.
type Stats struct {
	Received  int64
	Scheduled int64
	Dropped   int64
	SpedUp    int64
	Underruns int64
	Invalid   int64
	Clamped   int64
}

// queuedChunk keeps the rate a chunk arrived under, so a rate change does
// not retime audio that is already buffered.
type queuedChunk struct {
	data       []byte
	sampleRate int
}

// Scheduler is a listener's jitter buffer. Arrivals only enqueue; Tick
// dequeues and pins each chunk to the end of the previous one on the
// audio clock, speeding playback up while the backlog exceeds the target
// depth.
type Scheduler struct {
	mu     sync.Mutex
	cfg    Config
	clock  AudioClock
	output Output
	logger *zap.SugaredLogger

	queue      []queuedChunk
	sampleRate int
	nextPlay   time.Duration
	primed     bool
	lastRate   float64
	stats      Stats
}

func NewScheduler(cfg Config, clock AudioClock, output Output, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		cfg:        cfg,
		clock:      clock,
		output:     output,
		logger:     logger,
		sampleRate: domain.DefaultSampleRate,
		lastRate:   1.0,
	}
}

// SetSampleRate sets the rate used to decode chunks pushed from now on.
func (s *Scheduler) SetSampleRate(hz int) {
	if hz <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleRate = hz
}

// Push enqueues an arrived chunk. Only at the emergency ceiling is the
// single oldest chunk dropped.
func (s *Scheduler) Push(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Received++
	if s.cfg.MaxQueue > 0 && len(s.queue) >= s.cfg.MaxQueue {
		s.queue[0] = queuedChunk{}
		s.queue = s.queue[1:]
		s.stats.Dropped++
		s.logger.Warnw("Jitter buffer full, dropped oldest chunk", "depth", len(s.queue)+1)
	}
	s.queue = append(s.queue, queuedChunk{data: chunk, sampleRate: s.sampleRate})
}

// Tick schedules up to MaxPerTick queued chunks.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return
	}

	now := s.clock.Now()
	if !s.primed || s.nextPlay < now {
		if s.primed {
			s.stats.Underruns++
			s.logger.Debugw("Playback underrun", "behind", now-s.nextPlay)
		}
		s.nextPlay = now + s.cfg.StartupMargin
		s.primed = true
	}

	scheduled := 0
	for len(s.queue) > 0 && scheduled < s.cfg.MaxPerTick {
		if s.cfg.Lookahead > 0 && s.nextPlay-now >= s.cfg.Lookahead {
			break
		}

		chunk := s.queue[0]
		s.queue[0] = queuedChunk{}
		s.queue = s.queue[1:]

		samples, err := pcm.Decode(chunk.data)
		if err != nil {
			s.stats.Invalid++
			continue
		}

		rate := 1.0
		if len(s.queue) > s.cfg.TargetDepth {
			rate = s.cfg.SpeedupRate
			s.stats.SpedUp++
		}
		if rate != s.lastRate {
			s.logger.Debugw("Playback rate changed", "rate", rate, "depth", len(s.queue))
			s.lastRate = rate
		}

		s.output.Play(samples, chunk.sampleRate, s.nextPlay, rate)
		s.stats.Scheduled++
		scheduled++

		s.nextPlay += chunkDuration(len(samples), chunk.sampleRate, rate)
		if ceiling := now + s.cfg.MaxLead; s.cfg.MaxLead > 0 && s.nextPlay > ceiling {
			s.nextPlay = ceiling
			s.stats.Clamped++
		}
	}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Reset discards queued audio and the scheduling position. Called when
// the stream ends.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = nil
	s.primed = false
	s.nextPlay = 0
	s.lastRate = 1.0
}

func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Lead is how far ahead of the clock audio is scheduled.
func (s *Scheduler) Lead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		return 0
	}
	lead := s.nextPlay - s.clock.Now()
	if lead < 0 {
		return 0
	}
	return lead
}

// NextPlayTime returns the clock time the next chunk will start at.
func (s *Scheduler) NextPlayTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPlay
}

// PlaybackRate returns the rate chosen for the most recent chunk.
func (s *Scheduler) PlaybackRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRate
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func chunkDuration(samples, sampleRate int, rate float64) time.Duration {
	if sampleRate <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(float64(samples) * float64(time.Second) / (float64(sampleRate) * rate))
}
