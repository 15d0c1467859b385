// Package session drives one range estimate: the user moves an alignment
// marker, the session re-solves the distance after every move, and Finalize
// produces the single result handed back to the caller.
package session

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/rangefinder/internal/inclination"
	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/solver"
	"github.com/banshee-data/rangefinder/internal/timeutil"
	"github.com/banshee-data/rangefinder/internal/units"
)

// State is the session lifecycle.
type State int

const (
	Uninitialized State = iota
	Active
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrTerminated is returned by every mutating call after Finalize.
	ErrTerminated = errors.New("session terminated")
	// ErrInvalidDisplay is returned for a non-positive width or density.
	ErrInvalidDisplay = errors.New("display width and pixel density must be positive")
	// ErrNoDisplay wraps solver.ErrUnconfigured until display metrics are known.
	ErrNoDisplay = fmt.Errorf("%w: display metrics not set", solver.ErrUnconfigured)
)

// Display describes the viewport the marker moves across.
type Display struct {
	WidthPixels    int     `json:"width"`
	PixelsPerMeter float64 `json:"pixels_per_meter"`
}

// Valid reports whether d can convert pixels to meters.
func (d Display) Valid() bool {
	return d.WidthPixels > 0 && d.PixelsPerMeter > 0 &&
		!math.IsInf(d.PixelsPerMeter, 0)
}

// ConstantsSource supplies optical constants and the display unit. The
// preference-backed UnitStore implements it.
type ConstantsSource interface {
	Constants() solver.OpticalConstants
	System() units.System
}

// Option configures a Session.
type Option func(*Session)

// WithTracker attaches an inclination tracker. Without one, results never
// carry an inclination.
func WithTracker(t *inclination.Tracker) Option {
	return func(s *Session) { s.tracker = t }
}

// WithClock overrides the clock used to stamp results.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithPerturbation sets the displacement step used for accuracy, in meters.
func WithPerturbation(delta float64) Option {
	return func(s *Session) { s.delta = delta }
}

// WithDisplay sets the initial display metrics.
func WithDisplay(d Display) Option {
	return func(s *Session) {
		if d.Valid() {
			s.display = d
		}
	}
}

// Session owns the marker position and the estimate derived from it. All
// methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id      uuid.UUID
	clock   timeutil.Clock
	tracker *inclination.Tracker
	delta   float64

	constants solver.OpticalConstants
	system    units.System
	display   Display
	pixel     int
	placed    bool
	state     State

	estimate Estimate
	err      error

	result    *Result
	resultErr error
}

// New returns an Uninitialized session.
func New(opts ...Option) *Session {
	s := &Session{
		id:    uuid.New(),
		clock: timeutil.RealClock{},
		delta: solver.DefaultPerturbation,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.display.Valid() {
		s.pixel = s.display.WidthPixels / 2
		s.placed = true
	}
	s.recompute()
	return s
}

// ID identifies the session and its result.
func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pixel returns the marker position and whether one has been set.
func (s *Session) Pixel() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pixel, s.placed
}

func (s *Session) Display() Display {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// Constants returns the optical constants and unit currently in use.
func (s *Session) Constants() (solver.OpticalConstants, units.System) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.constants, s.system
}

// Configure sets the optical constants and display unit. Usable constants
// make the session Active; unusable ones return it to Uninitialized.
func (s *Session) Configure(c solver.OpticalConstants, sys units.System) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Terminated {
		return ErrTerminated
	}

	s.constants = c
	s.system = sys
	if c.Configured() {
		s.state = Active
	} else {
		s.state = Uninitialized
	}
	s.recompute()
	return nil
}

// ConfigureFrom reads constants and unit from src.
func (s *Session) ConfigureFrom(src ConstantsSource) error {
	return s.Configure(src.Constants(), src.System())
}

// SetDisplay updates the viewport. The first display a session sees places
// the marker at its center; later ones keep the marker clamped in range.
func (s *Session) SetDisplay(d Display) error {
	if !d.Valid() {
		return ErrInvalidDisplay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Terminated {
		return ErrTerminated
	}

	s.display = d
	if !s.placed {
		s.pixel = d.WidthPixels / 2
		s.placed = true
	} else {
		s.pixel = clamp(s.pixel, 0, d.WidthPixels)
	}
	s.recompute()
	return nil
}

// AdjustDisplacement moves the marker to an absolute pixel, clamped to
// [0, width], re-solves, and records the inclination at this adjustment.
// The returned error is that of the new estimate.
func (s *Session) AdjustDisplacement(pixels, width int, pixelsPerMeter float64) error {
	d := Display{WidthPixels: width, PixelsPerMeter: pixelsPerMeter}
	if !d.Valid() {
		return ErrInvalidDisplay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Terminated {
		return ErrTerminated
	}

	s.display = d
	return s.moveLocked(pixels)
}

// Nudge moves the marker by delta pixels, as the step buttons and keys do.
// Deltas wider than the display saturate at the nearest edge.
func (s *Session) Nudge(delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Terminated {
		return ErrTerminated
	}
	if !s.display.Valid() {
		return ErrNoDisplay
	}
	w := s.display.WidthPixels
	return s.moveLocked(s.pixel + clamp(delta, -w, w))
}

// TrackballStep converts a trackball motion to a pixel step. Any non-zero
// motion moves at least one pixel.
func TrackballStep(dx float64) int {
	const limit = math.MaxInt32
	step := int(math.Max(-limit, math.Min(limit, dx*10)))
	if step == 0 {
		if dx > 0 {
			return 1
		}
		return -1
	}
	return step
}

// Trackball nudges the marker by TrackballStep(dx).
func (s *Session) Trackball(dx float64) error {
	if dx == 0 || math.IsNaN(dx) {
		return nil
	}
	return s.Nudge(TrackballStep(dx))
}

func (s *Session) moveLocked(pixels int) error {
	s.pixel = clamp(pixels, 0, s.display.WidthPixels)
	s.placed = true
	s.recompute()
	s.tracker.CaptureAtAdjustment()
	return s.err
}

// CurrentEstimate returns the estimate for the current marker position.
// errors.Is(err, solver.ErrUnconfigured) means constants or display metrics
// are missing.
func (s *Session) CurrentEstimate() (Estimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimate, s.err
}

// PushTiltSample forwards an accelerometer reading to the tracker.
func (s *Session) PushTiltSample(x, y, z float64) {
	s.tracker.Push(x, y, z)
}

// Finalize solves one last time, terminates the session and returns the
// result. Later calls return the same result and error without recomputing.
func (s *Session) Finalize() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Terminated {
		if s.result != nil {
			return s.result.clone(), s.resultErr
		}
		return Result{}, s.resultErr
	}

	s.recompute()
	s.state = Terminated
	if s.err != nil {
		s.resultErr = s.err
		monitoring.Logf("session %s finalized without an estimate: %v", s.id, s.err)
		return Result{}, s.resultErr
	}

	r := Result{
		ID:             s.id,
		DistanceMeters: s.estimate.Distance,
		AccuracyMeters: s.estimate.Accuracy,
		Unit:           s.system,
		Infinite:       s.estimate.Infinite,
		FinalizedAt:    s.clock.Now().UTC(),
	}
	if a, ok := s.tracker.LastAdjustment(); ok {
		deg := inclination.Degrees(a)
		r.InclinationDegrees = &deg
	}
	s.result = &r
	monitoring.Logf("session %s finalized: %s", s.id, r)
	return r.clone(), nil
}

// recompute derives the estimate from scratch. Callers hold mu.
func (s *Session) recompute() {
	s.estimate = Estimate{Unit: s.system, Pixel: s.pixel}
	if !s.constants.Configured() {
		s.err = solver.ErrUnconfigured
		return
	}
	if !s.display.Valid() || !s.placed {
		s.err = ErrNoDisplay
		return
	}

	x := float64(s.pixel) / s.display.PixelsPerMeter
	sol, err := solver.SolveWithDelta(x, s.constants, s.delta)
	if err != nil {
		s.err = err
		return
	}
	s.estimate = newEstimate(sol, s.system, s.pixel, x)
	s.err = nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
