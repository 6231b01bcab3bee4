package etag

import (
	"context"
	"errors"
	"sync"
)

// ErrCacheMiss indicates the requested key was not found in the store.
var ErrCacheMiss = errors.New("cache miss")

// Store persists cache entries keyed by method and path. Implementations
// must be safe for concurrent use; last write wins per key.
type Store interface {
	// Get returns the entry for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores the entry for key, overwriting any prior entry.
	Set(ctx context.Context, key string, entry *Entry) error

	// Delete removes the entry for key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error
}

// MemoryStore is a mutex-guarded in-memory Store. It is the default store
// and the one used in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Get returns the entry for key, or ErrCacheMiss.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	// Return a copy so callers cannot mutate the stored entry.
	return &entry, nil
}

// Set stores the entry for key.
func (s *MemoryStore) Set(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = *entry
	return nil
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Clear removes all entries.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
