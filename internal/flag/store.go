package flag

import "context"

// Store is the versioned key-value store holding flag definitions. It is the
// single source of truth for flag state; every stage or percentage change
// goes through Put with the version the writer last read.
type Store interface {
	// Get returns the current definition for the flag, or ErrFlagNotFound.
	Get(ctx context.Context, flagID string) (*Definition, error)

	// Create inserts a new definition. Returns ErrFlagExists if the ID is
	// already taken.
	Create(ctx context.Context, def *Definition) error

	// Put replaces the stored definition if its version still equals
	// expectedVersion, bumping the version by one. Returns
	// ErrVersionConflict if another writer got there first, or
	// ErrFlagNotFound if the flag does not exist.
	Put(ctx context.Context, flagID string, expectedVersion int64, def *Definition) error

	// List returns all flags for an environment, archived ones excluded.
	List(ctx context.Context, environment string) ([]*Definition, error)

	// Archive marks the flag permanently disabled. The definition is kept so
	// historical transition records stay resolvable.
	Archive(ctx context.Context, flagID string, expectedVersion int64) error
}
