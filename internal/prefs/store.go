// Package prefs keeps the user's arm length and eye separation in both unit
// systems, on top of a plain key/value store.
package prefs

import "sync"

// Store is the key/value collaborator holding raw preference text. A missing
// key reads as "".
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty store, optionally seeded with values.
func NewMemoryStore(seed map[string]string) *MemoryStore {
	m := &MemoryStore{values: make(map[string]string, len(seed))}
	for k, v := range seed {
		m.values[k] = v
	}
	return m
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Snapshot copies the current contents.
func (m *MemoryStore) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
