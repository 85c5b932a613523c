// Package settings persists small named values (timestamps, credentials,
// the last reported result) across agent restarts.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("settings: key not found")

// Store is a flat string key/value store. SetIfAbsent is atomic: of any
// number of concurrent callers with the same key exactly one wins.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Has(key string) (bool, error)
	Delete(key string) error
	SetIfAbsent(key, value string) (bool, error)
}

// MemoryStore is an in-process Store for tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Has(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok, nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) SetIfAbsent(key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

// GetTime reads a timestamp stored by SetTime. A missing key is the zero
// time.
func GetTime(s Store, key string) (time.Time, error) {
	v, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("setting %s: %w", key, err)
	}
	return t, nil
}

// SetTime stores t in RFC 3339 form.
func SetTime(s Store, key string, t time.Time) error {
	return s.Set(key, t.UTC().Format(time.RFC3339Nano))
}

// GetJSON decodes the value at key into v. found is false for a missing
// key.
func GetJSON(s Store, key string, v any) (found bool, err error) {
	raw, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, fmt.Errorf("setting %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v encoded as JSON.
func SetJSON(s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return s.Set(key, string(raw))
}
