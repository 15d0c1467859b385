// Package solver estimates the distance to an object from the parallax
// displacement between two sightlines.
//
// With eye separation E, arm length A and an observed displacement X of the
// alignment marker, the distance D satisfies
//
//	X = E*(D-A)/D
//
// which inverts to D = E*A/(E-X). Displacement can never reach E for a finite
// object, and distance can never be less than A.
package solver

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/diff/fd"
)

// DefaultPerturbation is the displacement step, in meters, used to estimate
// accuracy. It is roughly the smallest physical offset a user can set.
const DefaultPerturbation = 0.00025

// AccuracyUndefined is reported alongside an infinite distance.
const AccuracyUndefined = -1.0

var (
	// ErrUnconfigured means arm length or eye separation has not been set.
	ErrUnconfigured = errors.New("optical constants not configured")
	// ErrInvalidDisplacement is returned for NaN or infinite displacements.
	ErrInvalidDisplacement = errors.New("displacement is not a finite number")
)

// OpticalConstants are the fixed model lengths, in meters.
type OpticalConstants struct {
	ArmLength     float64 `json:"arm_length_m"`
	EyeSeparation float64 `json:"eye_separation_m"`
}

// Configured reports whether both constants are usable.
func (c OpticalConstants) Configured() bool {
	return c.ArmLength > 0 && c.EyeSeparation > 0 &&
		!math.IsInf(c.ArmLength, 0) && !math.IsInf(c.EyeSeparation, 0)
}

// Solution is a solved distance and its accuracy bound, both in meters.
type Solution struct {
	Distance float64
	Accuracy float64
}

// Infinite reports whether the solution is the degenerate "infinity" result.
func (s Solution) Infinite() bool {
	return math.IsInf(s.Distance, 1)
}

// DistanceAt evaluates D = E*A/(E-X). It does not guard the asymptote.
func DistanceAt(x float64, c OpticalConstants) float64 {
	return c.EyeSeparation * c.ArmLength / (c.EyeSeparation - x)
}

// DisplacementAt is the inverse of DistanceAt: X = E*(D-A)/D.
func DisplacementAt(d float64, c OpticalConstants) float64 {
	if math.IsInf(d, 1) {
		return c.EyeSeparation
	}
	return c.EyeSeparation * (d - c.ArmLength) / d
}

// Solve computes the distance for displacement x using DefaultPerturbation.
func Solve(x float64, c OpticalConstants) (Solution, error) {
	return SolveWithDelta(x, c, DefaultPerturbation)
}

// SolveWithDelta computes the distance for displacement x and estimates its
// accuracy from the symmetric difference f(x+delta) - f(x-delta), halved.
// The curve steepens towards the asymptote, so the two sides differ and the
// average tracks it better than either one alone.
func SolveWithDelta(x float64, c OpticalConstants, delta float64) (Solution, error) {
	if !c.Configured() {
		return Solution{}, ErrUnconfigured
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return Solution{}, ErrInvalidDisplacement
	}
	if x >= c.EyeSeparation {
		return Solution{Distance: math.Inf(1), Accuracy: AccuracyUndefined}, nil
	}
	if delta <= 0 {
		delta = DefaultPerturbation
	}

	d := DistanceAt(x, c)
	f := func(v float64) float64 { return DistanceAt(v, c) }
	slope := fd.Derivative(f, x, &fd.Settings{
		Formula: fd.Central,
		Step:    delta,
	})
	acc := slope * delta

	// Near the asymptote x+delta may cross E; report 100% uncertainty.
	if acc < 0 || acc > d || math.IsNaN(acc) || math.IsInf(acc, 0) {
		acc = d
	}
	return Solution{Distance: d, Accuracy: acc}, nil
}

// Decimals returns how many fraction digits are meaningful for a distance
// with the given accuracy.
func Decimals(accuracy float64) int {
	switch {
	case accuracy > 1:
		return 0
	case accuracy > 0.1:
		return 1
	case accuracy > 0.01:
		return 2
	default:
		return 3
	}
}
