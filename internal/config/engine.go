package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/rangefinder/internal/sensor"
	"github.com/banshee-data/rangefinder/internal/session"
	"github.com/banshee-data/rangefinder/internal/solver"
	"github.com/banshee-data/rangefinder/internal/units"
)

// DefaultConfigPath is the path to the checked-in engine defaults file.
const DefaultConfigPath = "config/rangefinder.defaults.json"

// Tilt sources. Serial trusts the accelerometer port, host trusts samples
// pushed to /api/tilt, none never reports inclination.
const (
	TiltSourceSerial = "serial"
	TiltSourceHost   = "host"
	TiltSourceNone   = "none"
)

// EngineConfig is the daemon configuration. Every field is optional; the
// Get* methods supply defaults for anything the file leaves out.
type EngineConfig struct {
	// Optical model, used to seed an empty preference store.
	ArmLengthMeters     *float64 `json:"arm_length_m,omitempty"`
	EyeSeparationMeters *float64 `json:"eye_separation_m,omitempty"`
	Units               *string  `json:"units,omitempty"` // "metric" or "imperial"

	// Solver
	PerturbationMeters *float64 `json:"perturbation_m,omitempty"`

	// Display metrics reported by the host
	XDPI             *float64 `json:"xdpi,omitempty"`
	ViewportWidthPix *int     `json:"viewport_width_px,omitempty"`

	// Storage and transport
	DBPath *string `json:"db_path,omitempty"`
	Listen *string `json:"listen,omitempty"`

	// Accelerometer. An empty port runs without a sensor.
	TiltSource    *string             `json:"tilt_source,omitempty"` // "serial", "host" or "none"
	SensorPort    *string             `json:"sensor_port,omitempty"`
	SensorOptions *sensor.PortOptions `json:"sensor_options,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyEngineConfig returns an EngineConfig with all fields set to nil.
func EmptyEngineConfig() *EngineConfig {
	return &EngineConfig{}
}

// DefaultEngineConfig returns a config with every field set to its default.
func DefaultEngineConfig() *EngineConfig {
	opts := sensor.PortOptions{}
	opts, _ = opts.Normalize()
	return &EngineConfig{
		ArmLengthMeters:     ptrFloat64(0.60),
		EyeSeparationMeters: ptrFloat64(0.07),
		Units:               ptrString(units.MetricName),
		PerturbationMeters:  ptrFloat64(solver.DefaultPerturbation),
		XDPI:                ptrFloat64(160),
		ViewportWidthPix:    ptrInt(480),
		DBPath:              ptrString("rangefinder.db"),
		Listen:              ptrString(":8090"),
		TiltSource:          ptrString(TiltSourceSerial),
		SensorPort:          ptrString(""),
		SensorOptions:       &opts,
	}
}

// LoadEngineConfig loads an EngineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to defaults, so partial configs
// are safe.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEngineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory. Panics if the file cannot be loaded, intended for test
// setup.
func MustLoadDefaultConfig() *EngineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadEngineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *EngineConfig) Validate() error {
	if c.ArmLengthMeters != nil && *c.ArmLengthMeters < 0 {
		return fmt.Errorf("arm_length_m must be non-negative, got %f", *c.ArmLengthMeters)
	}
	if c.EyeSeparationMeters != nil && *c.EyeSeparationMeters < 0 {
		return fmt.Errorf("eye_separation_m must be non-negative, got %f", *c.EyeSeparationMeters)
	}
	if c.ArmLengthMeters != nil && c.EyeSeparationMeters != nil &&
		*c.EyeSeparationMeters > 0 && *c.EyeSeparationMeters >= *c.ArmLengthMeters {
		return fmt.Errorf("eye_separation_m (%f) must be smaller than arm_length_m (%f)",
			*c.EyeSeparationMeters, *c.ArmLengthMeters)
	}

	if c.Units != nil && *c.Units != "" && !units.IsValid(strings.ToLower(*c.Units)) {
		return fmt.Errorf("invalid units %q: must be one of: %s", *c.Units, units.GetValidSystemsString())
	}

	if c.PerturbationMeters != nil {
		if *c.PerturbationMeters <= 0 || *c.PerturbationMeters > 0.01 {
			return fmt.Errorf("perturbation_m must be in (0, 0.01], got %f", *c.PerturbationMeters)
		}
	}

	if c.XDPI != nil && *c.XDPI <= 0 {
		return fmt.Errorf("xdpi must be positive, got %f", *c.XDPI)
	}
	if c.ViewportWidthPix != nil && *c.ViewportWidthPix <= 0 {
		return fmt.Errorf("viewport_width_px must be positive, got %d", *c.ViewportWidthPix)
	}

	if c.TiltSource != nil && *c.TiltSource != "" {
		switch strings.ToLower(strings.TrimSpace(*c.TiltSource)) {
		case TiltSourceSerial, TiltSourceHost, TiltSourceNone:
		default:
			return fmt.Errorf("invalid tilt_source %q: must be one of: serial, host, none", *c.TiltSource)
		}
	}

	if c.SensorOptions != nil {
		if _, err := c.SensorOptions.Normalize(); err != nil {
			return fmt.Errorf("sensor_options: %w", err)
		}
	}

	return nil
}

// GetArmLengthMeters returns the arm_length_m value or the default.
func (c *EngineConfig) GetArmLengthMeters() float64 {
	if c.ArmLengthMeters == nil {
		return 0.60
	}
	return *c.ArmLengthMeters
}

// GetEyeSeparationMeters returns the eye_separation_m value or the default.
func (c *EngineConfig) GetEyeSeparationMeters() float64 {
	if c.EyeSeparationMeters == nil {
		return 0.07
	}
	return *c.EyeSeparationMeters
}

// GetOpticalConstants bundles arm length and eye separation.
func (c *EngineConfig) GetOpticalConstants() solver.OpticalConstants {
	return solver.OpticalConstants{
		ArmLength:     c.GetArmLengthMeters(),
		EyeSeparation: c.GetEyeSeparationMeters(),
	}
}

// GetUnits returns the configured unit system, defaulting to metric.
func (c *EngineConfig) GetUnits() units.System {
	if c.Units == nil {
		return units.Metric
	}
	return units.ParseSystem(strings.ToLower(*c.Units))
}

// GetPerturbationMeters returns the perturbation_m value or the default.
func (c *EngineConfig) GetPerturbationMeters() float64 {
	if c.PerturbationMeters == nil {
		return solver.DefaultPerturbation
	}
	return *c.PerturbationMeters
}

// GetXDPI returns the xdpi value or the default.
func (c *EngineConfig) GetXDPI() float64 {
	if c.XDPI == nil {
		return 160
	}
	return *c.XDPI
}

// GetViewportWidthPix returns the viewport_width_px value or the default.
func (c *EngineConfig) GetViewportWidthPix() int {
	if c.ViewportWidthPix == nil {
		return 480
	}
	return *c.ViewportWidthPix
}

// GetDisplay converts the display metrics to a session display.
func (c *EngineConfig) GetDisplay() session.Display {
	return session.Display{
		WidthPixels:    c.GetViewportWidthPix(),
		PixelsPerMeter: units.DotsPerMeter(c.GetXDPI()),
	}
}

// GetDBPath returns the db_path value or the default.
func (c *EngineConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "rangefinder.db"
	}
	return *c.DBPath
}

// GetListen returns the listen value or the default.
func (c *EngineConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8090"
	}
	return *c.Listen
}

// GetTiltSource returns the tilt_source value or the default.
func (c *EngineConfig) GetTiltSource() string {
	if c.TiltSource == nil || strings.TrimSpace(*c.TiltSource) == "" {
		return TiltSourceSerial
	}
	return strings.ToLower(strings.TrimSpace(*c.TiltSource))
}

// GetSensorPort returns the accelerometer device path, or "" when disabled.
func (c *EngineConfig) GetSensorPort() string {
	if c.SensorPort == nil {
		return ""
	}
	return strings.TrimSpace(*c.SensorPort)
}

// GetSensorOptions returns the serial options with defaults applied.
func (c *EngineConfig) GetSensorOptions() sensor.PortOptions {
	var opts sensor.PortOptions
	if c.SensorOptions != nil {
		opts = *c.SensorOptions
	}
	normalized, err := opts.Normalize()
	if err != nil {
		normalized, _ = sensor.PortOptions{}.Normalize()
	}
	return normalized
}
