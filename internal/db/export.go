package db

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/rangefinder/internal/fsutil"
	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/security"
	"github.com/banshee-data/rangefinder/internal/session"
)

var resultsHeader = []string{
	"session_id", "distance_m", "accuracy_m", "unit", "inclination_deg", "infinite", "finalized_at", "display",
}

// WriteResultsCSV writes results as CSV. Infinite distances and missing
// inclinations are left empty.
func WriteResultsCSV(w io.Writer, results []session.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resultsHeader); err != nil {
		return err
	}
	for _, r := range results {
		distance := ""
		if !r.Infinite {
			distance = strconv.FormatFloat(r.DistanceMeters, 'f', -1, 64)
		}
		inclination := ""
		if r.InclinationDegrees != nil {
			inclination = strconv.FormatFloat(*r.InclinationDegrees, 'f', 2, 64)
		}
		row := []string{
			r.ID.String(),
			distance,
			strconv.FormatFloat(r.AccuracyMeters, 'f', -1, 64),
			r.Unit.String(),
			inclination,
			strconv.FormatBool(r.Infinite),
			r.FinalizedAt.Format(time.RFC3339),
			r.String(),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportResults writes up to limit stored results to path. The path must be
// inside the working directory or the temp directory.
func (db *DB) ExportResults(fsys fsutil.FileSystem, path string, limit int) (int, error) {
	if err := security.ValidateExportPath(path); err != nil {
		monitoring.Logf("Security: rejected export path %s: %v", path, err)
		return 0, fmt.Errorf("invalid export path: %w", err)
	}

	results, err := db.ListResults(limit)
	if err != nil {
		return 0, err
	}

	if dir := filepath.Dir(path); !fsys.Exists(dir) {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteResultsCSV(f, results); err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return len(results), nil
}
