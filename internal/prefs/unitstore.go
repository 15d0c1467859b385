package prefs

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/solver"
	"github.com/banshee-data/rangefinder/internal/units"
)

// Preference keys.
const (
	KeyUnits                 = "units"
	KeyEyeSeparationMetric   = "eye_separation_metric"
	KeyArmLengthMetric       = "arm_length_metric"
	KeyEyeSeparationImperial = "eye_separation_imperial"
	KeyArmLengthImperial     = "arm_length_imperial"
)

const (
	metricDerivedDecimals   = 1
	imperialDerivedDecimals = 2
)

// Quantity names one of the two configurable lengths.
type Quantity int

const (
	ArmLength Quantity = iota
	EyeSeparation
)

func (q Quantity) String() string {
	if q == EyeSeparation {
		return "eye_separation"
	}
	return "arm_length"
}

// ParseQuantity accepts the names returned by Quantity.String.
func ParseQuantity(name string) (Quantity, error) {
	switch name {
	case "arm_length":
		return ArmLength, nil
	case "eye_separation":
		return EyeSeparation, nil
	}
	return 0, fmt.Errorf("unknown quantity %q", name)
}

// Key returns the preference key holding q in system s.
func Key(q Quantity, s units.System) string {
	switch {
	case q == ArmLength && s == units.Imperial:
		return KeyArmLengthImperial
	case q == ArmLength:
		return KeyArmLengthMetric
	case s == units.Imperial:
		return KeyEyeSeparationImperial
	default:
		return KeyEyeSeparationMetric
	}
}

// ParseKey is the inverse of Key. It reports false for KeyUnits and unknown
// keys.
func ParseKey(key string) (Quantity, units.System, bool) {
	switch key {
	case KeyArmLengthMetric:
		return ArmLength, units.Metric, true
	case KeyArmLengthImperial:
		return ArmLength, units.Imperial, true
	case KeyEyeSeparationMetric:
		return EyeSeparation, units.Metric, true
	case KeyEyeSeparationImperial:
		return EyeSeparation, units.Imperial, true
	}
	return 0, units.Metric, false
}

// UnitStore holds each quantity twice, in centimeters and in inches, and keeps
// the two in step. Each edit re-derives only the opposite representation, so
// an update never feeds back into the value the user typed.
type UnitStore struct {
	store Store
}

// NewUnitStore wraps a key/value store.
func NewUnitStore(store Store) *UnitStore {
	return &UnitStore{store: store}
}

// System returns the active unit system.
func (u *UnitStore) System() units.System {
	v, err := u.store.Get(KeyUnits)
	if err != nil {
		monitoring.Logf("prefs: read %s: %v", KeyUnits, err)
		return units.Metric
	}
	return units.ParseSystem(v)
}

// SetSystem changes the active unit system.
func (u *UnitStore) SetSystem(s units.System) error {
	if err := u.store.Set(KeyUnits, s.String()); err != nil {
		return fmt.Errorf("failed to set %s: %w", KeyUnits, err)
	}
	return nil
}

// SetQuantity stores raw text for q in system s and rewrites the other
// system's value from it. Metric values derived from inches keep one decimal,
// imperial values derived from centimeters keep two.
func (u *UnitStore) SetQuantity(q Quantity, s units.System, raw string) error {
	raw = strings.TrimSpace(raw)
	if err := u.store.Set(Key(q, s), raw); err != nil {
		return fmt.Errorf("failed to set %s: %w", Key(q, s), err)
	}

	other := units.Imperial
	decimals := imperialDerivedDecimals
	if s == units.Imperial {
		other = units.Metric
		decimals = metricDerivedDecimals
	}

	derived := ""
	if v := parseQuantity(raw); v != 0 {
		derived = units.FormatTrimmed(units.ConvertInput(v, s), decimals)
	}
	if err := u.store.Set(Key(q, other), derived); err != nil {
		return fmt.Errorf("failed to set %s: %w", Key(q, other), err)
	}
	return nil
}

// Raw returns the stored text for q in system s.
func (u *UnitStore) Raw(q Quantity, s units.System) string {
	v, err := u.store.Get(Key(q, s))
	if err != nil {
		monitoring.Logf("prefs: read %s: %v", Key(q, s), err)
		return ""
	}
	return v
}

// Value parses the stored value for q in system s. Unset or malformed text
// reads as 0, meaning "not configured".
func (u *UnitStore) Value(q Quantity, s units.System) float64 {
	return parseQuantity(u.Raw(q, s))
}

// Meters returns q in meters, taken from the active representation.
func (u *UnitStore) Meters(q Quantity) float64 {
	s := u.System()
	return units.InputToMeters(u.Value(q, s), s)
}

// Constants returns the optical constants for the solver.
func (u *UnitStore) Constants() solver.OpticalConstants {
	return solver.OpticalConstants{
		ArmLength:     u.Meters(ArmLength),
		EyeSeparation: u.Meters(EyeSeparation),
	}
}

// Configured reports whether both quantities are set in the active system.
func (u *UnitStore) Configured() bool {
	return u.Constants().Configured()
}

// Summary is the active value with its unit suffix, or "" when unset.
func (u *UnitStore) Summary(q Quantity) string {
	s := u.System()
	v := u.Value(q, s)
	if v == 0 {
		return ""
	}
	decimals := metricDerivedDecimals
	if s == units.Imperial {
		decimals = imperialDerivedDecimals
	}
	return units.FormatTrimmed(v, decimals) + s.LengthAbbr()
}

// SeedDefaults writes s as the unit system when none is stored, then c in
// system s for each quantity that has no value in either system yet.
// Existing user values are never replaced.
func (u *UnitStore) SeedDefaults(c solver.OpticalConstants, s units.System) error {
	current, err := u.store.Get(KeyUnits)
	if err != nil {
		return fmt.Errorf("read %s: %w", KeyUnits, err)
	}
	if strings.TrimSpace(current) == "" {
		if err := u.SetSystem(s); err != nil {
			return err
		}
	}
	seeds := map[Quantity]float64{
		ArmLength:     c.ArmLength,
		EyeSeparation: c.EyeSeparation,
	}
	for _, q := range []Quantity{ArmLength, EyeSeparation} {
		if u.Raw(q, units.Metric) != "" || u.Raw(q, units.Imperial) != "" {
			continue
		}
		meters := seeds[q]
		if meters <= 0 {
			continue
		}
		v := meters * 100
		decimals := metricDerivedDecimals
		if s == units.Imperial {
			v = meters * 100 / units.CentimetersPerInch
			decimals = imperialDerivedDecimals
		}
		if err := u.SetQuantity(q, s, units.FormatTrimmed(v, decimals)); err != nil {
			return err
		}
	}
	return nil
}

// Values lists every stored preference, keyed as in the store.
func (u *UnitStore) Values() map[string]string {
	out := map[string]string{KeyUnits: u.System().String()}
	for _, q := range []Quantity{ArmLength, EyeSeparation} {
		for _, s := range []units.System{units.Metric, units.Imperial} {
			out[Key(q, s)] = u.Raw(q, s)
		}
	}
	return out
}

func parseQuantity(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		monitoring.Debugf("prefs: ignoring malformed quantity %q: %v", raw, err)
		return 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
