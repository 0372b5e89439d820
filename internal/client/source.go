package client

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"eventcast/pkg/audio/pcm"
	"eventcast/pkg/audio/wav"
)

// Source delivers captured mono audio in blocks, the way a capture device
// does. ReportedRate is the rate the device claims to run at; the real
// rate may differ.
type Source interface {
	ReportedRate() int
	// Read blocks until the next block is captured and returns it with its
	// capture time. It returns io.EOF when the source is exhausted.
	Read(ctx context.Context) ([]float32, time.Time, error)
}

// pacer releases blocks on the wall-clock schedule of a given rate.
type pacer struct {
	rate  int
	start time.Time
	sent  int64
}

func (p *pacer) wait(ctx context.Context, frames int) (time.Time, error) {
	if p.rate <= 0 {
		return time.Now(), nil
	}
	if p.start.IsZero() {
		p.start = time.Now()
	}
	p.sent += int64(frames)
	due := p.start.Add(time.Duration(p.sent * int64(time.Second) / int64(p.rate)))

	timer := time.NewTimer(time.Until(due))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	case <-timer.C:
		return time.Now(), nil
	}
}

// ToneSource generates a sine tone. It runs at actualRate while reporting
// reportedRate, like a device whose driver misreports its clock.
type ToneSource struct {
	freq         float64
	actualRate   int
	reportedRate int
	block        int
	total        int64
	phase        float64
	pacer        pacer
}

// NewToneSource returns a tone of freq Hz lasting duration (0 for endless).
func NewToneSource(freq float64, actualRate, reportedRate, block int, duration time.Duration) *ToneSource {
	s := &ToneSource{
		freq:         freq,
		actualRate:   actualRate,
		reportedRate: reportedRate,
		block:        block,
		total:        -1,
		pacer:        pacer{rate: actualRate},
	}
	if duration > 0 {
		s.total = int64(duration.Seconds() * float64(actualRate))
	}
	return s
}

func (s *ToneSource) ReportedRate() int {
	return s.reportedRate
}

func (s *ToneSource) Read(ctx context.Context) ([]float32, time.Time, error) {
	n := s.block
	if s.total >= 0 {
		if s.total == 0 {
			return nil, time.Time{}, io.EOF
		}
		if int64(n) > s.total {
			n = int(s.total)
		}
		s.total -= int64(n)
	}

	out := make([]float32, n)
	step := 2 * math.Pi * s.freq / float64(s.actualRate)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(s.phase))
		s.phase += step
	}
	s.phase = math.Mod(s.phase, 2*math.Pi)

	at, err := s.pacer.wait(ctx, n)
	if err != nil {
		return nil, time.Time{}, err
	}
	return out, at, nil
}

// WAVSource plays a mono PCM16 WAV file in real time.
type WAVSource struct {
	file   *wav.File
	block  int
	offset int
	pacer  pacer
}

func NewWAVSource(path string, block int) (*WAVSource, error) {
	file, err := wav.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if file.Header.Channels != 1 || file.Header.BitsPerSample != 16 {
		return nil, fmt.Errorf("%s: need mono 16-bit PCM, got %d channels at %d bits",
			path, file.Header.Channels, file.Header.BitsPerSample)
	}
	return &WAVSource{
		file:  file,
		block: block,
		pacer: pacer{rate: file.Header.SampleRate},
	}, nil
}

func (s *WAVSource) ReportedRate() int {
	return s.file.Header.SampleRate
}

func (s *WAVSource) Read(ctx context.Context) ([]float32, time.Time, error) {
	data := s.file.Data[s.offset:]
	if len(data) < pcm.BytesPerSample {
		return nil, time.Time{}, io.EOF
	}
	if n := s.block * pcm.BytesPerSample; len(data) > n {
		data = data[:n]
	}
	data = data[:len(data)-len(data)%pcm.BytesPerSample]
	s.offset += len(data)

	samples, err := pcm.Decode(data)
	if err != nil {
		return nil, time.Time{}, err
	}
	at, err := s.pacer.wait(ctx, len(samples))
	if err != nil {
		return nil, time.Time{}, err
	}
	return samples, at, nil
}
