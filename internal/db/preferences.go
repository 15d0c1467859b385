package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// PreferenceStore is a prefs.Store backed by the preferences table.
type PreferenceStore struct {
	db *DB
}

// Preferences returns the key/value store over db.
func (db *DB) Preferences() *PreferenceStore {
	return &PreferenceStore{db: db}
}

// Get returns the stored value, or "" when the key has never been set.
func (p *PreferenceStore) Get(key string) (string, error) {
	var value string
	err := p.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read preference %q: %w", key, err)
	}
	return value, nil
}

// Set upserts key.
func (p *PreferenceStore) Set(key, value string) error {
	_, err := p.db.Exec(`
		INSERT INTO preferences (key, value, updated_at)
		VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write preference %q: %w", key, err)
	}
	return nil
}

// All returns every stored preference.
func (p *PreferenceStore) All() (map[string]string, error) {
	rows, err := p.db.Query(`SELECT key, value FROM preferences ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
