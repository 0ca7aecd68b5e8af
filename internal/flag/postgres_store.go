package flag

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of Store. Optimistic
// concurrency is enforced with a version predicate on the UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL flag store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const flagColumns = `
	id, environment, stage, rollout_percent,
	allow_list, deny_list, baseline,
	archived, created_at, updated_at, version
`

// Get returns the current definition for the flag.
func (s *PostgresStore) Get(ctx context.Context, flagID string) (*Definition, error) {
	query := `SELECT ` + flagColumns + ` FROM flags WHERE id = $1`
	return s.scanDefinition(s.pool.QueryRow(ctx, query, flagID))
}

// Create inserts a new definition.
func (s *PostgresStore) Create(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	baseline, err := marshalBaseline(def.Baseline)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flags (` + flagColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query,
		def.ID, def.Environment, string(def.Stage), def.RolloutPercent,
		def.AllowList, def.DenyList, baseline,
		def.Archived, def.CreatedAt, def.UpdatedAt, def.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFlagExists
	}
	return nil
}

// Put replaces the stored definition if the version matches. A zero
// RowsAffected means either the flag is gone or another writer bumped the
// version first; a follow-up read disambiguates.
func (s *PostgresStore) Put(ctx context.Context, flagID string, expectedVersion int64, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	baseline, err := marshalBaseline(def.Baseline)
	if err != nil {
		return err
	}

	query := `
		UPDATE flags SET
			environment = $3,
			stage = $4,
			rollout_percent = $5,
			allow_list = $6,
			deny_list = $7,
			baseline = $8,
			archived = $9,
			updated_at = $10,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	tag, err := s.pool.Exec(ctx, query,
		flagID, expectedVersion,
		def.Environment, string(def.Stage), def.RolloutPercent,
		def.AllowList, def.DenyList, baseline,
		def.Archived, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, flagID); errors.Is(getErr, ErrFlagNotFound) {
			return ErrFlagNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// List returns all non-archived flags for an environment.
func (s *PostgresStore) List(ctx context.Context, environment string) ([]*Definition, error) {
	query := `
		SELECT ` + flagColumns + `
		FROM flags
		WHERE environment = $1 AND NOT archived
		ORDER BY id
	`

	rows, err := s.pool.Query(ctx, query, environment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		def, err := s.scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return defs, nil
}

// Archive marks the flag permanently disabled.
func (s *PostgresStore) Archive(ctx context.Context, flagID string, expectedVersion int64) error {
	query := `
		UPDATE flags SET
			stage = $3,
			rollout_percent = 0,
			archived = TRUE,
			updated_at = $4,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	tag, err := s.pool.Exec(ctx, query, flagID, expectedVersion, string(StageDisabled), time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, flagID); errors.Is(getErr, ErrFlagNotFound) {
			return ErrFlagNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanDefinition(row rowScanner) (*Definition, error) {
	var (
		def          Definition
		stage        string
		baselineJSON []byte
	)

	err := row.Scan(
		&def.ID,
		&def.Environment,
		&stage,
		&def.RolloutPercent,
		&def.AllowList,
		&def.DenyList,
		&baselineJSON,
		&def.Archived,
		&def.CreatedAt,
		&def.UpdatedAt,
		&def.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFlagNotFound
		}
		return nil, err
	}

	def.Stage = Stage(stage)
	if len(baselineJSON) > 0 {
		var b Baseline
		if err := json.Unmarshal(baselineJSON, &b); err != nil {
			return nil, err
		}
		def.Baseline = &b
	}
	return &def, nil
}

func marshalBaseline(b *Baseline) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	return json.Marshal(b)
}

// Ensure PostgresStore implements Store interface.
var _ Store = (*PostgresStore)(nil)
