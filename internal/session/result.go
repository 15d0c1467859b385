package session

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rangefinder/internal/solver"
	"github.com/banshee-data/rangefinder/internal/units"
)

// Estimate is the solved distance for the current marker position.
type Estimate struct {
	Distance     float64 // meters, +Inf when Infinite
	Accuracy     float64 // meters, solver.AccuracyUndefined when Infinite
	Unit         units.System
	Decimals     int
	Infinite     bool
	Pixel        int
	Displacement float64 // meters
}

func newEstimate(sol solver.Solution, sys units.System, pixel int, x float64) Estimate {
	e := Estimate{
		Distance:     sol.Distance,
		Accuracy:     sol.Accuracy,
		Unit:         sys,
		Infinite:     sol.Infinite(),
		Pixel:        pixel,
		Displacement: x,
	}
	if !e.Infinite {
		e.Decimals = solver.Decimals(sol.Accuracy)
	}
	return e
}

func (e Estimate) solution() solver.Solution {
	return solver.Solution{Distance: e.Distance, Accuracy: e.Accuracy}
}

// String renders the distance in the display unit, e.g. "0.700m" or "∞".
func (e Estimate) String() string {
	return solver.Format(e.solution(), e.Unit)
}

type estimateJSON struct {
	Distance     *float64 `json:"distance_m"`
	Accuracy     float64  `json:"accuracy_m"`
	Unit         string   `json:"unit"`
	Decimals     int      `json:"decimals"`
	Infinite     bool     `json:"infinite"`
	Pixel        int      `json:"pixel"`
	Displacement float64  `json:"displacement_m"`
	Display      string   `json:"display"`
}

// MarshalJSON encodes an infinite distance as null.
func (e Estimate) MarshalJSON() ([]byte, error) {
	return json.Marshal(estimateJSON{
		Distance:     finite(e.Distance),
		Accuracy:     e.Accuracy,
		Unit:         e.Unit.String(),
		Decimals:     e.Decimals,
		Infinite:     e.Infinite,
		Pixel:        e.Pixel,
		Displacement: e.Displacement,
		Display:      e.String(),
	})
}

// Result is the immutable outcome of a finalized session.
type Result struct {
	ID                 uuid.UUID
	DistanceMeters     float64
	AccuracyMeters     float64
	Unit               units.System
	InclinationDegrees *float64
	Infinite           bool
	FinalizedAt        time.Time
}

// clone copies r so that callers cannot write through to a cached result.
func (r Result) clone() Result {
	if r.InclinationDegrees != nil {
		deg := *r.InclinationDegrees
		r.InclinationDegrees = &deg
	}
	return r
}

func (r Result) String() string {
	s := solver.Format(solver.Solution{Distance: r.DistanceMeters, Accuracy: r.AccuracyMeters}, r.Unit)
	if r.InclinationDegrees != nil {
		s += fmt.Sprintf(" at %.1f°", *r.InclinationDegrees)
	}
	return s
}

// Extras returns the values handed back to a calling application. Distance
// and accuracy are always meters; units names the unit the user saw.
// Inclination is present only when a measurement was captured.
func (r Result) Extras() map[string]any {
	m := map[string]any{
		"distance": r.DistanceMeters,
		"accuracy": r.AccuracyMeters,
		"units":    r.Unit.ResultLabel(),
	}
	if r.InclinationDegrees != nil {
		m["inclination"] = *r.InclinationDegrees
	}
	return m
}

type resultJSON struct {
	ID                 string   `json:"id"`
	DistanceMeters     *float64 `json:"distance_m"`
	AccuracyMeters     float64  `json:"accuracy_m"`
	Unit               string   `json:"unit"`
	Units              string   `json:"units"`
	InclinationDegrees *float64 `json:"inclination_deg,omitempty"`
	Infinite           bool     `json:"infinite"`
	FinalizedAt        string   `json:"finalized_at"`
	Display            string   `json:"display"`
}

// MarshalJSON encodes an infinite distance as null.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		ID:                 r.ID.String(),
		DistanceMeters:     finite(r.DistanceMeters),
		AccuracyMeters:     r.AccuracyMeters,
		Unit:               r.Unit.String(),
		Units:              r.Unit.ResultLabel(),
		InclinationDegrees: r.InclinationDegrees,
		Infinite:           r.Infinite,
		FinalizedAt:        r.FinalizedAt.Format(time.RFC3339Nano),
		Display:            r.String(),
	})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
