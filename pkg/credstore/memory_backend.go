package credstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps entries in process memory. Intended for tests and
// sessions that must not outlive the process.
type MemoryBackend struct {
	mutex   sync.RWMutex
	entries map[string][]byte
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (backend *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	backend.mutex.RLock()
	defer backend.mutex.RUnlock()
	value, ok := backend.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

// SetMany stores all entries under a single lock.
func (backend *MemoryBackend) SetMany(ctx context.Context, entries map[string][]byte) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	for key, value := range entries {
		backend.entries[key] = append([]byte(nil), value...)
	}
	return nil
}

// Delete removes keys; absent keys are ignored.
func (backend *MemoryBackend) Delete(ctx context.Context, keys ...string) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	for _, key := range keys {
		delete(backend.entries, key)
	}
	return nil
}

// Close is a no-op.
func (backend *MemoryBackend) Close() error {
	return nil
}

// Len returns the number of stored keys.
func (backend *MemoryBackend) Len() int {
	backend.mutex.RLock()
	defer backend.mutex.RUnlock()
	return len(backend.entries)
}
