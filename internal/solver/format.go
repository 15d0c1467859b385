package solver

import (
	"github.com/banshee-data/rangefinder/internal/units"
)

// InfinitySymbol is shown in place of a distance for the degenerate case.
const InfinitySymbol = "∞"

// Format renders a solution in the display unit of s, with as many decimals
// as its accuracy supports. Accuracy tiers are chosen on the metric value
// for both systems.
func Format(sol Solution, s units.System) string {
	if sol.Infinite() {
		return InfinitySymbol
	}
	v := units.ConvertDistance(sol.Distance, s)
	return units.FormatFixed(v, Decimals(sol.Accuracy)) + s.DistanceAbbr()
}

// Tick is one labelled mark on a range card.
type Tick struct {
	Label          string  `json:"label"`
	DistanceMeters float64 `json:"distance_m"`
	Displacement   float64 `json:"displacement_m"`
	Pixel          int     `json:"pixel"`
}

// Ticks returns the positions of the canned card distances for the given
// constants. Distances inside the arm length have no valid displacement and
// are skipped.
func Ticks(c OpticalConstants, s units.System, pixelsPerMeter float64) ([]Tick, error) {
	if !c.Configured() || pixelsPerMeter <= 0 {
		return nil, ErrUnconfigured
	}

	var ticks []Tick
	for _, v := range units.CardDistances(s) {
		d := units.DistanceToMeters(v, s)
		if d < c.ArmLength {
			continue
		}
		x := DisplacementAt(d, c)
		label := units.FormatTrimmed(v, 1) + s.DistanceAbbr()
		if s == units.Imperial {
			label = units.FormatTrimmed(v, 0) + s.DistanceAbbr()
		}
		ticks = append(ticks, Tick{
			Label:          label,
			DistanceMeters: d,
			Displacement:   x,
			Pixel:          int(x * pixelsPerMeter),
		})
	}
	return ticks, nil
}
