// Package units provides shared constants, conversion and formatting for the
// two length unit systems the rangefinder works in.
package units

import (
	"strconv"
	"strings"
)

// System selects how lengths are entered and displayed.
type System int

const (
	Metric System = iota
	Imperial
)

// Text forms stored in preferences.
const (
	MetricName   = "metric"
	ImperialName = "imperial"
)

// Conversion constants. The inch is defined exactly as 2.54 cm.
const (
	CentimetersPerInch = 2.54
	MetersPerFoot      = 0.3048
	InchesPerMeter     = 39.3700787
)

// ValidSystems contains all valid unit system names
var ValidSystems = []string{MetricName, ImperialName}

// IsValid checks if the given name is a known unit system
func IsValid(name string) bool {
	for _, valid := range ValidSystems {
		if name == valid {
			return true
		}
	}
	return false
}

// GetValidSystemsString returns a comma-separated string of valid systems for error messages
func GetValidSystemsString() string {
	return strings.Join(ValidSystems, ", ")
}

// ParseSystem maps a stored preference value to a System. Anything other than
// "imperial" is metric, which is also the default for an empty store.
func ParseSystem(name string) System {
	if strings.TrimSpace(name) == ImperialName {
		return Imperial
	}
	return Metric
}

func (s System) String() string {
	if s == Imperial {
		return ImperialName
	}
	return MetricName
}

// LengthAbbr is the short label for arm length and eye separation inputs.
func (s System) LengthAbbr() string {
	if s == Imperial {
		return "in"
	}
	return "cm"
}

// DistanceAbbr is the short label for an estimated distance.
func (s System) DistanceAbbr() string {
	if s == Imperial {
		return "ft"
	}
	return "m"
}

// ResultLabel names the unit reported with a finished measurement.
func (s System) ResultLabel() string {
	if s == Imperial {
		return "feet"
	}
	return "meters"
}

// InputToMeters converts an arm/eye input value (cm or inches) to meters.
func InputToMeters(v float64, s System) float64 {
	if s == Imperial {
		return v * CentimetersPerInch / 100
	}
	return v / 100
}

// ConvertInput converts an input value from one system to the other.
func ConvertInput(v float64, from System) float64 {
	if from == Imperial {
		return v * CentimetersPerInch
	}
	return v / CentimetersPerInch
}

// ConvertDistance converts a distance in meters to the display unit
// Distances are always held in meters internally
func ConvertDistance(meters float64, s System) float64 {
	if s == Imperial {
		return meters / MetersPerFoot
	}
	return meters
}

// DistanceToMeters is the inverse of ConvertDistance.
func DistanceToMeters(v float64, s System) float64 {
	if s == Imperial {
		return v * MetersPerFoot
	}
	return v
}

// DotsPerMeter converts a horizontal display density in dots per inch.
func DotsPerMeter(dpi float64) float64 {
	return dpi * InchesPerMeter
}

// FormatTrimmed renders v with at most decimals fraction digits, dropping
// trailing zeros and a dangling point ("30.50" -> "30.5", "12.00" -> "12").
func FormatTrimmed(v float64, decimals int) string {
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		s = "0"
	}
	return s
}

// FormatFixed renders v with exactly decimals fraction digits.
func FormatFixed(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// CardDistances returns the canned distances marked on a range card, in the
// display unit of s (meters or feet).
func CardDistances(s System) []float64 {
	if s == Imperial {
		return []float64{4, 6, 8, 12, 16, 24, 48}
	}
	return []float64{1, 1.5, 2, 3, 5, 10, 20}
}
