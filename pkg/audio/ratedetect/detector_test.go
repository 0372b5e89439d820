package ratedetect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func feed(d *Detector, rate, framesPerCallback int, callbacks int) {
	start := time.Unix(1700000000, 0)
	interval := time.Duration(int64(framesPerCallback) * int64(time.Second) / int64(rate))
	for i := 0; i <= callbacks; i++ {
		d.Observe(framesPerCallback, start.Add(time.Duration(i)*interval))
	}
}

func TestDetector_DetectsTrueRateDespiteNominal(t *testing.T) {
	d := New(time.Second, 0.03)
	// Device claims 44100 but delivers 48000 frames per second.
	feed(d, 48000, 4096, 30)

	hz, ok := d.Estimate()
	assert.True(t, ok)
	assert.Equal(t, 48000, hz)
	assert.Equal(t, 48000, d.Resolve(44100))
}

func TestDetector_NeedsMinimumWindow(t *testing.T) {
	d := New(2*time.Second, 0.03)
	feed(d, 48000, 4096, 5)

	_, ok := d.Estimate()
	assert.False(t, ok)
	assert.Equal(t, 44100, d.Resolve(44100))
}

func TestDetector_Reset(t *testing.T) {
	d := New(time.Second, 0.03)
	feed(d, 16000, 1600, 20)
	_, ok := d.Estimate()
	assert.True(t, ok)

	d.Reset()
	_, ok = d.Measured()
	assert.False(t, ok)
}

func TestSnap(t *testing.T) {
	cases := []struct {
		measured float64
		want     int
		ok       bool
	}{
		{47850, 48000, true},
		{44150, 44100, true},
		{22000, 22050, true},
		{8010, 8000, true},
		{60000, 0, false},
	}

	for _, tc := range cases {
		got, ok := Snap(tc.measured, 0.02)
		assert.Equal(t, tc.ok, ok, "measured %v", tc.measured)
		assert.Equal(t, tc.want, got, "measured %v", tc.measured)
	}
}
