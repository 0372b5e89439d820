package player

import (
	"fmt"
	"sync"
	"time"

	"eventcast/pkg/audio/pcm"
	"eventcast/pkg/audio/wav"

	"go.uber.org/zap"
)

// WallClock is an AudioClock backed by the monotonic system clock.
type WallClock struct {
	start time.Time
}

func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

func (c *WallClock) Now() time.Duration {
	return time.Since(c.start)
}

// WAVOutput renders scheduled chunks into a WAV file as a sound device
// would play them: gaps between chunks become silence and sped-up chunks
// are resampled to their shortened length. The file is opened at the
// sample rate of the first chunk.
type WAVOutput struct {
	mu      sync.Mutex
	path    string
	writer  *wav.Writer
	rate    int
	origin  int64
	written int64
	err     error
	logger  *zap.SugaredLogger
}

func NewWAVOutput(path string, logger *zap.SugaredLogger) *WAVOutput {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WAVOutput{path: path, logger: logger}
}

func (o *WAVOutput) Play(samples []float32, sampleRate int, at time.Duration, rate float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.err != nil {
		return
	}
	if o.writer == nil {
		w, err := wav.NewWriter(o.path, sampleRate, 1)
		if err != nil {
			o.fail(err)
			return
		}
		o.writer = w
		o.rate = sampleRate
		// the file starts at the first chunk
		o.origin = sampleIndex(at, o.rate)
	}
	if sampleRate != o.rate {
		o.logger.Warnw("Sample rate changed mid-file, chunk resampled", "from", sampleRate, "to", o.rate)
		rate = rate * float64(sampleRate) / float64(o.rate)
	}

	startSample := sampleIndex(at, o.rate) - o.origin
	if gap := startSample - o.written; gap > 0 {
		if err := o.writer.Append(make([]byte, gap*pcm.BytesPerSample)); err != nil {
			o.fail(err)
			return
		}
		o.written += gap
	}

	out := Resample(samples, rate)
	if err := o.writer.Append(pcm.Encode(out)); err != nil {
		o.fail(err)
		return
	}
	o.written += int64(len(out))
}

// Close finalizes the WAV file. Safe to call more than once.
func (o *WAVOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.writer == nil {
		return o.err
	}
	if err := o.writer.Complete(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", o.path, err)
	}
	return o.err
}

// Samples returns how many samples have been rendered, silence included.
func (o *WAVOutput) Samples() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written
}

// SampleRate returns the rate the file was opened at, 0 before the first chunk.
func (o *WAVOutput) SampleRate() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rate
}

func (o *WAVOutput) fail(err error) {
	o.err = err
	o.logger.Errorw("WAV output failed", "path", o.path, "error", err)
}

func sampleIndex(at time.Duration, rate int) int64 {
	return int64(at) * int64(rate) / int64(time.Second)
}

// Resample shortens or stretches samples by rate using linear
// interpolation. rate 1 returns the input unchanged.
func Resample(samples []float32, rate float64) []float32 {
	if rate == 1 || rate <= 0 || len(samples) == 0 {
		return samples
	}

	n := int(float64(len(samples)) / rate)
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * rate
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}
