package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rampgate/rampgate/internal/flag"
)

// PostgresLog is a PostgreSQL implementation of Log. Rows are insert-only;
// there is no update or delete path.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog creates a new PostgreSQL audit log.
func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

// Append writes a record.
func (l *PostgresLog) Append(ctx context.Context, rec *TransitionRecord) error {
	query := `
		INSERT INTO flag_transitions (id, flag_id, from_stage, to_stage, cause, detail, sample_ref, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	var sampleJSON []byte
	if rec.SampleRef != nil {
		var err error
		sampleJSON, err = json.Marshal(rec.SampleRef)
		if err != nil {
			return err
		}
	}

	_, err := l.pool.Exec(ctx, query,
		rec.ID, rec.FlagID, string(rec.FromStage), string(rec.ToStage),
		string(rec.Cause), rec.Detail, sampleJSON, rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	return nil
}

// Query returns records for a flag within [from, to], ordered by time.
func (l *PostgresLog) Query(ctx context.Context, flagID string, from, to time.Time) ([]*TransitionRecord, error) {
	query := `
		SELECT id, flag_id, from_stage, to_stage, cause, detail, sample_ref, occurred_at
		FROM flag_transitions
		WHERE flag_id = $1
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR occurred_at <= $3)
		ORDER BY occurred_at
	`

	rows, err := l.pool.Query(ctx, query, flagID, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TransitionRecord
	for rows.Next() {
		var (
			rec        TransitionRecord
			fromStage  string
			toStage    string
			cause      string
			sampleJSON []byte
		)
		err := rows.Scan(
			&rec.ID, &rec.FlagID, &fromStage, &toStage,
			&cause, &rec.Detail, &sampleJSON, &rec.OccurredAt,
		)
		if err != nil {
			return nil, err
		}

		rec.FromStage = flag.Stage(fromStage)
		rec.ToStage = flag.Stage(toStage)
		rec.Cause = Cause(cause)
		if len(sampleJSON) > 0 {
			var ref SampleRef
			if err := json.Unmarshal(sampleJSON, &ref); err != nil {
				return nil, err
			}
			rec.SampleRef = &ref
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Ensure PostgresLog implements Log interface.
var _ Log = (*PostgresLog)(nil)
