package db

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rangefinder/internal/session"
	"github.com/banshee-data/rangefinder/internal/solver"
	"github.com/banshee-data/rangefinder/internal/units"
)

// DefaultResultsLimit caps ListResults when no limit is given.
const DefaultResultsLimit = 100

// RecordResult stores a finalized session result. An infinite distance is
// stored as NULL. Recording the same session twice is an error.
func (db *DB) RecordResult(r session.Result) error {
	var distance sql.NullFloat64
	if !r.Infinite && !math.IsInf(r.DistanceMeters, 0) {
		distance = sql.NullFloat64{Float64: r.DistanceMeters, Valid: true}
	}
	var inclination sql.NullFloat64
	if r.InclinationDegrees != nil {
		inclination = sql.NullFloat64{Float64: *r.InclinationDegrees, Valid: true}
	}

	_, err := db.Exec(
		`INSERT INTO session_results (
			session_id, distance_m, accuracy_m, unit, inclination_deg, infinite, finalized_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), distance, r.AccuracyMeters, r.Unit.String(), inclination,
		r.Infinite, r.FinalizedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record result %s: %w", r.ID, err)
	}
	return nil
}

// ListResults returns the most recent results first.
func (db *DB) ListResults(limit int) ([]session.Result, error) {
	if limit <= 0 {
		limit = DefaultResultsLimit
	}
	rows, err := db.Query(`SELECT session_id, distance_m, accuracy_m, unit, inclination_deg, infinite, finalized_at
		FROM session_results ORDER BY finalized_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []session.Result
	for rows.Next() {
		var (
			id          string
			distance    sql.NullFloat64
			accuracy    float64
			unit        string
			inclination sql.NullFloat64
			infinite    bool
			finalizedAt int64
		)
		if err := rows.Scan(&id, &distance, &accuracy, &unit, &inclination, &infinite, &finalizedAt); err != nil {
			return nil, err
		}

		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("bad session id %q: %w", id, err)
		}
		r := session.Result{
			ID:             parsed,
			AccuracyMeters: accuracy,
			Unit:           units.ParseSystem(unit),
			Infinite:       infinite,
			FinalizedAt:    time.Unix(0, finalizedAt).UTC(),
		}
		if distance.Valid {
			r.DistanceMeters = distance.Float64
		} else {
			r.DistanceMeters = math.Inf(1)
			r.AccuracyMeters = solver.AccuracyUndefined
		}
		if inclination.Valid {
			deg := inclination.Float64
			r.InclinationDegrees = &deg
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
