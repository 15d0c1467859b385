package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/rangefinder/internal/inclination"
)

var ErrMalformedSample = errors.New("malformed accelerometer sample")

// ParseSample decodes one line from the accelerometer. Two framings are
// accepted: three numbers separated by commas or whitespace ("0.1,9.8,0.3"),
// or a JSON object with x, y and z fields.
func ParseSample(line string) (inclination.Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return inclination.Sample{}, ErrMalformedSample
	}

	if strings.HasPrefix(line, "{") {
		var raw struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
			Z *float64 `json:"z"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return inclination.Sample{}, fmt.Errorf("%w: %v", ErrMalformedSample, err)
		}
		if raw.X == nil || raw.Y == nil || raw.Z == nil {
			return inclination.Sample{}, fmt.Errorf("%w: missing axis in %q", ErrMalformedSample, line)
		}
		return inclination.Sample{X: *raw.X, Y: *raw.Y, Z: *raw.Z}, nil
	}

	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	})
	if len(fields) != 3 {
		return inclination.Sample{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedSample, len(fields))
	}

	var v [3]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return inclination.Sample{}, fmt.Errorf("%w: axis %d: %v", ErrMalformedSample, i, err)
		}
		v[i] = n
	}
	return inclination.Sample{X: v[0], Y: v[1], Z: v[2]}, nil
}
