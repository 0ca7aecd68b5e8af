// Package audit records every flag stage transition in an append-only log.
//
// The log is best-effort durable: appends are retried independently of the
// flag store write and never block the evaluation path.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rampgate/rampgate/internal/flag"
)

// ErrAppendFailed is returned when a record could not be written after
// exhausting retries.
var ErrAppendFailed = errors.New("audit append failed")

// Cause identifies what triggered a transition.
type Cause string

// Transition causes.
const (
	CauseManual        Cause = "manual"
	CauseScheduledRamp Cause = "scheduled_ramp"
	CauseAutoRollback  Cause = "auto_rollback"
)

// SampleRef points at the health sample that triggered a transition.
type SampleRef struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Baseline  float64   `json:"baseline"`
	Timestamp time.Time `json:"timestamp"`
}

// TransitionRecord is one immutable entry in the audit trail.
type TransitionRecord struct {
	ID         string     `json:"id"`
	FlagID     string     `json:"flagId"`
	FromStage  flag.Stage `json:"fromStage"`
	ToStage    flag.Stage `json:"toStage"`
	Cause      Cause      `json:"cause"`
	Detail     string     `json:"detail,omitempty"`
	SampleRef  *SampleRef `json:"sampleRef,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// NewTransitionRecord creates a record with a fresh ID and timestamp.
func NewTransitionRecord(flagID string, from, to flag.Stage, cause Cause) *TransitionRecord {
	return &TransitionRecord{
		ID:         uuid.New().String(),
		FlagID:     flagID,
		FromStage:  from,
		ToStage:    to,
		Cause:      cause,
		OccurredAt: time.Now().UTC(),
	}
}

// Log is the append-only transition log.
type Log interface {
	// Append writes a record. Records are never overwritten or deleted.
	Append(ctx context.Context, rec *TransitionRecord) error

	// Query returns records for a flag within [from, to], ordered by time.
	// Zero time bounds are open-ended.
	Query(ctx context.Context, flagID string, from, to time.Time) ([]*TransitionRecord, error)
}
