// Package inclination reduces accelerometer samples to a device tilt angle.
package inclination

import (
	"context"
	"math"
	"sync/atomic"
)

// Sample is one raw 3-axis acceleration reading, in any consistent unit.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// noMeasurement marks an empty slot. Real angles are never NaN.
var noMeasurement = math.Float64bits(math.NaN())

// Angle returns the tilt of s in radians: -asin(z/|s|). Face up reads
// positive. A zero or non-finite vector has no angle.
func Angle(s Sample) (float64, bool) {
	norm := math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return 0, false
	}
	r := s.Z / norm
	// rounding can push the ratio just past +-1
	r = math.Max(-1, math.Min(1, r))
	return -math.Asin(r), true
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Tracker keeps the latest tilt angle and the angle captured at the last
// distance adjustment. It holds no history. One goroutine may push samples
// while another reads.
type Tracker struct {
	supported bool
	current   atomic.Uint64
	captured  atomic.Uint64
}

// NewTracker returns a tracker. When supported is false the device has no
// accelerometer and every read reports no measurement.
func NewTracker(supported bool) *Tracker {
	t := &Tracker{supported: supported}
	t.current.Store(noMeasurement)
	t.captured.Store(noMeasurement)
	return t
}

// Supported reports whether a sensor stream exists.
func (t *Tracker) Supported() bool {
	return t != nil && t.supported
}

// Consume reduces s and makes it the current angle.
func (t *Tracker) Consume(s Sample) {
	if !t.Supported() {
		return
	}
	if a, ok := Angle(s); ok {
		t.current.Store(math.Float64bits(a))
	}
}

// Push is Consume for loose components.
func (t *Tracker) Push(x, y, z float64) {
	t.Consume(Sample{X: x, Y: y, Z: z})
}

// Current returns the latest angle in radians.
func (t *Tracker) Current() (float64, bool) {
	if !t.Supported() {
		return 0, false
	}
	return load(&t.current)
}

// CaptureAtAdjustment records the current angle as the angle at the last
// adjustment and returns it.
func (t *Tracker) CaptureAtAdjustment() (float64, bool) {
	if !t.Supported() {
		return 0, false
	}
	bits := t.current.Load()
	t.captured.Store(bits)
	return decode(bits)
}

// LastAdjustment returns the angle captured by CaptureAtAdjustment.
func (t *Tracker) LastAdjustment() (float64, bool) {
	if !t.Supported() {
		return 0, false
	}
	return load(&t.captured)
}

// Follow consumes samples until the channel closes or ctx is done. It may be
// called again later with a new channel.
func (t *Tracker) Follow(ctx context.Context, samples <-chan Sample) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-samples:
			if !ok {
				return nil
			}
			t.Consume(s)
		}
	}
}

func load(v *atomic.Uint64) (float64, bool) {
	return decode(v.Load())
}

func decode(bits uint64) (float64, bool) {
	f := math.Float64frombits(bits)
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
