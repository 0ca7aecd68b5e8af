package flag

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketFlags = []byte("flags")

// BoltStore is a bbolt-backed implementation of Store for single-node
// deployments where Postgres is not available. The version check runs inside
// the write transaction, so it serializes naturally.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the flag database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "rampgate.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open flag database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFlags)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get returns the current definition for the flag.
func (s *BoltStore) Get(ctx context.Context, flagID string) (*Definition, error) {
	var def *Definition
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFlags).Get([]byte(flagID))
		if data == nil {
			return ErrFlagNotFound
		}
		var d Definition
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		def = &d
		return nil
	})
	return def, err
}

// Create inserts a new definition.
func (s *BoltStore) Create(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFlags)
		if b.Get([]byte(def.ID)) != nil {
			return ErrFlagExists
		}
		data, err := json.Marshal(def)
		if err != nil {
			return err
		}
		return b.Put([]byte(def.ID), data)
	})
}

// Put replaces the stored definition if the version matches.
func (s *BoltStore) Put(ctx context.Context, flagID string, expectedVersion int64, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFlags)
		data := b.Get([]byte(flagID))
		if data == nil {
			return ErrFlagNotFound
		}
		var current Definition
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}

		next := def.Clone()
		next.ID = flagID
		next.Version = expectedVersion + 1
		next.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return b.Put([]byte(flagID), out)
	})
}

// List returns all non-archived flags for an environment.
func (s *BoltStore) List(ctx context.Context, environment string) ([]*Definition, error) {
	var defs []*Definition
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFlags).ForEach(func(k, v []byte) error {
			var def Definition
			if err := json.Unmarshal(v, &def); err != nil {
				return err
			}
			if def.Environment == environment && !def.Archived {
				defs = append(defs, &def)
			}
			return nil
		})
	})
	return defs, err
}

// Archive marks the flag permanently disabled.
func (s *BoltStore) Archive(ctx context.Context, flagID string, expectedVersion int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFlags)
		data := b.Get([]byte(flagID))
		if data == nil {
			return ErrFlagNotFound
		}
		var current Definition
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}

		current.Stage = StageDisabled
		current.RolloutPercent = 0
		current.Archived = true
		current.Version = expectedVersion + 1
		current.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(&current)
		if err != nil {
			return err
		}
		return b.Put([]byte(flagID), out)
	})
}

// Ensure BoltStore implements Store interface.
var _ Store = (*BoltStore)(nil)
