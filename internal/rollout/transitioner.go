package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/flag"
)

// EventPublisher receives committed transition records. Implemented by
// audit.Publisher; nil disables event fan-out.
type EventPublisher interface {
	Publish(ctx context.Context, rec *audit.TransitionRecord)
}

// TransitionerConfig holds configuration for the transitioner.
type TransitionerConfig struct {
	Store     flag.Store
	AuditLog  audit.Log
	Publisher EventPublisher
	Logger    zerolog.Logger

	// MaxCommitElapsed bounds the retry loop around the versioned store
	// write. Default: 10 seconds.
	MaxCommitElapsed time.Duration

	// MaxAuditElapsed bounds retries of the audit append. Default: 10
	// seconds. Audit failure never fails the transition.
	MaxAuditElapsed time.Duration
}

// Transitioner commits stage transitions. Concurrency safety comes entirely
// from the store's versioned writes: a losing writer re-reads, re-applies its
// decision against the new state, and abandons the cycle if a stronger
// decision already landed.
type Transitioner struct {
	store            flag.Store
	auditLog         audit.Log
	publisher        EventPublisher
	logger           zerolog.Logger
	maxCommitElapsed time.Duration
	maxAuditElapsed  time.Duration
}

// NewTransitioner creates a new transitioner.
func NewTransitioner(cfg TransitionerConfig) *Transitioner {
	maxCommit := cfg.MaxCommitElapsed
	if maxCommit == 0 {
		maxCommit = 10 * time.Second
	}
	maxAudit := cfg.MaxAuditElapsed
	if maxAudit == 0 {
		maxAudit = 10 * time.Second
	}
	return &Transitioner{
		store:            cfg.Store,
		auditLog:         cfg.AuditLog,
		publisher:        cfg.Publisher,
		logger:           cfg.Logger,
		maxCommitElapsed: maxCommit,
		maxAuditElapsed:  maxAudit,
	}
}

// Transition applies the request to the flag and commits it. The transition
// is complete once the store write succeeds; the audit append is retried
// independently and its failure is logged, not returned.
//
// Returns the committed definition. If a concurrent writer already made an
// equivalent-or-stronger transition, returns that state with no error and no
// new audit record.
func (t *Transitioner) Transition(ctx context.Context, flagID string, req Request) (*flag.Definition, error) {
	var (
		committed *flag.Definition
		record    *audit.TransitionRecord
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = t.maxCommitElapsed

	operation := func() error {
		def, err := t.store.Get(ctx, flagID)
		if err != nil {
			if errors.Is(err, flag.ErrFlagNotFound) {
				return backoff.Permanent(err)
			}
			// Store unavailable: keep retrying, never drop the transition.
			return err
		}

		if Supersedes(def, req) {
			t.logger.Debug().
				Str("flag", flagID).
				Str("stage", string(def.Stage)).
				Str("requested", string(req.To)).
				Msg("transition superseded by concurrent writer")
			committed = def
			record = nil
			return nil
		}

		next, err := Apply(def, req)
		if err != nil {
			return backoff.Permanent(err)
		}

		if err := t.store.Put(ctx, flagID, def.Version, next); err != nil {
			if errors.Is(err, flag.ErrVersionConflict) {
				// Lost the race: re-read and re-decide on the next attempt.
				return err
			}
			if errors.Is(err, flag.ErrFlagNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		next.Version = def.Version + 1

		rec := audit.NewTransitionRecord(flagID, def.Stage, next.Stage, req.Cause)
		rec.Detail = req.Detail
		rec.SampleRef = req.SampleRef
		if def.Stage == flag.StageRamping && next.Stage == flag.StageRamping && rec.Detail == "" {
			rec.Detail = fmt.Sprintf("percent %d -> %d", def.RolloutPercent, next.RolloutPercent)
		}

		committed = next
		record = rec
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	if record != nil {
		t.logger.Info().
			Str("flag", flagID).
			Str("from", string(record.FromStage)).
			Str("to", string(record.ToStage)).
			Str("cause", string(record.Cause)).
			Msg("flag transition committed")

		t.appendAudit(ctx, record)
		if t.publisher != nil {
			t.publisher.Publish(ctx, record)
		}
	}

	return committed, nil
}

// appendAudit writes the record with its own retry budget. The store write
// already committed, so audit failure degrades traceability but never
// reverses the transition.
func (t *Transitioner) appendAudit(ctx context.Context, rec *audit.TransitionRecord) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = t.maxAuditElapsed

	err := backoff.Retry(func() error {
		return t.auditLog.Append(ctx, rec)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		t.logger.Error().Err(err).
			Str("flag", rec.FlagID).
			Str("record_id", rec.ID).
			Msg("audit append failed after retries")
	}
}

// CaptureBaseline stores the health baseline for a flag that just entered
// canary. The write is versioned like any other; a conflict means the state
// moved on and the capture is retried against it.
func (t *Transitioner) CaptureBaseline(ctx context.Context, flagID string, baseline flag.Baseline) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = t.maxCommitElapsed

	operation := func() error {
		def, err := t.store.Get(ctx, flagID)
		if err != nil {
			if errors.Is(err, flag.ErrFlagNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		if def.Stage != flag.StageCanary || def.Baseline != nil {
			// Moved on or already captured.
			return nil
		}

		next := def.Clone()
		b := baseline
		next.Baseline = &b
		return t.store.Put(ctx, flagID, def.Version, next)
	}

	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}
