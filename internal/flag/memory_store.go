package flag

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for tests and local
// development. It enforces the same version discipline as the durable stores.
type MemoryStore struct {
	mu    sync.RWMutex
	flags map[string]*Definition
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: make(map[string]*Definition)}
}

// Get returns the current definition for the flag.
func (s *MemoryStore) Get(ctx context.Context, flagID string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.flags[flagID]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return def.Clone(), nil
}

// Create inserts a new definition.
func (s *MemoryStore) Create(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flags[def.ID]; ok {
		return ErrFlagExists
	}
	s.flags[def.ID] = def.Clone()
	return nil
}

// Put replaces the stored definition if the version matches.
func (s *MemoryStore) Put(ctx context.Context, flagID string, expectedVersion int64, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.flags[flagID]
	if !ok {
		return ErrFlagNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	next := def.Clone()
	next.ID = flagID
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	s.flags[flagID] = next
	return nil
}

// List returns all non-archived flags for an environment.
func (s *MemoryStore) List(ctx context.Context, environment string) ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var defs []*Definition
	for _, def := range s.flags {
		if def.Environment == environment && !def.Archived {
			defs = append(defs, def.Clone())
		}
	}
	return defs, nil
}

// Archive marks the flag permanently disabled.
func (s *MemoryStore) Archive(ctx context.Context, flagID string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.flags[flagID]
	if !ok {
		return ErrFlagNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	next := current.Clone()
	next.Stage = StageDisabled
	next.RolloutPercent = 0
	next.Archived = true
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	s.flags[flagID] = next
	return nil
}

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)
