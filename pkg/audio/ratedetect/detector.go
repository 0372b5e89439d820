package ratedetect

import (
	"math"
	"sync"
	"time"
)

// StandardRates are the hardware sample rates a capture device may run at.
var StandardRates = []int{8000, 11025, 16000, 22050, 24000, 32000, 44100, 48000, 88200, 96000}

// Detector estimates the real capture sample rate of a device from the
// number of frames it delivers over wall-clock time. Devices frequently
// report a nominal rate that differs from the rate they actually run at;
// sending the nominal one makes listeners drift.
type Detector struct {
	mu        sync.Mutex
	minWindow time.Duration
	tolerance float64

	start  time.Time
	last   time.Time
	frames int64
}

// New creates a detector that needs at least minWindow of observations
// before producing an estimate. tolerance is the maximum relative distance
// (e.g. 0.03) between the measured rate and a standard rate for snapping.
func New(minWindow time.Duration, tolerance float64) *Detector {
	return &Detector{
		minWindow: minWindow,
		tolerance: tolerance,
	}
}

// Observe records that frames samples were delivered by the device at t.
// The first observation only anchors the window; its frames were captured
// before the window started.
func (d *Detector) Observe(frames int, t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.start.IsZero() {
		d.start = t
		d.last = t
		return
	}
	d.frames += int64(frames)
	d.last = t
}

// Measured returns the raw frames-per-second rate seen so far.
func (d *Detector) Measured() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := d.last.Sub(d.start)
	if d.start.IsZero() || elapsed < d.minWindow || elapsed <= 0 {
		return 0, false
	}
	return float64(d.frames) / elapsed.Seconds(), true
}

// Estimate returns the standard rate closest to the measured rate, when the
// window is long enough and the measurement is within tolerance of it.
func (d *Detector) Estimate() (int, bool) {
	measured, ok := d.Measured()
	if !ok {
		return 0, false
	}
	return Snap(measured, d.tolerance)
}

// Resolve picks the rate to negotiate: the detected one when available,
// otherwise the device-reported one.
func (d *Detector) Resolve(reported int) int {
	if hz, ok := d.Estimate(); ok {
		return hz
	}
	return reported
}

// Reset discards all observations.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.start = time.Time{}
	d.last = time.Time{}
	d.frames = 0
}

// Snap maps a measured rate onto the nearest standard rate.
func Snap(measured float64, tolerance float64) (int, bool) {
	best := 0
	bestDist := math.MaxFloat64
	for _, rate := range StandardRates {
		dist := math.Abs(measured-float64(rate)) / float64(rate)
		if dist < bestDist {
			best = rate
			bestDist = dist
		}
	}
	if bestDist > tolerance {
		return 0, false
	}
	return best, true
}
