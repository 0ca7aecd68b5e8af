// Package evaluate decides whether a flag is active for a subject.
//
// Evaluation is read-only and fail-closed: any store error, timeout, or
// unknown flag resolves to a disabled result rather than an error, so a
// flagging outage never breaks the calling application.
package evaluate

import (
	"context"
	"errors"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/rampgate/rampgate/internal/flag"
)

// bucketSteps is the granularity of the bucket space. Buckets land on
// multiples of 1/1000th of a percent, which keeps the distribution smooth at
// low rollout percentages.
const bucketSteps = 100000

// Result is the outcome of a single evaluation. It is ephemeral; callers log
// it explicitly if they want a trail.
type Result struct {
	FlagID    string     `json:"flagId"`
	SubjectID string     `json:"subjectId"`
	Enabled   bool       `json:"enabled"`
	Stage     flag.Stage `json:"stage"`
	Bucket    float64    `json:"bucket"`
	Reason    string     `json:"reason"`
}

// Evaluation reasons, for debugging.
const (
	ReasonDenyList   = "deny_list"
	ReasonAllowList  = "allow_list"
	ReasonStage      = "stage"
	ReasonRolledBack = "rolled_back"
	ReasonBucket     = "bucket"
	ReasonNotFound   = "flag_not_found"
	ReasonStoreError = "store_error"
)

// Config holds configuration for the evaluator.
type Config struct {
	Store  flag.Store
	Logger zerolog.Logger

	// ReadTimeout bounds the single store read on the evaluation path.
	// Default: 100ms.
	ReadTimeout time.Duration
}

// Evaluator answers "is flag F active for subject S" against the flag store.
type Evaluator struct {
	store       flag.Store
	logger      zerolog.Logger
	readTimeout time.Duration
}

// New creates a new evaluator.
func New(cfg Config) *Evaluator {
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 100 * time.Millisecond
	}
	return &Evaluator{
		store:       cfg.Store,
		logger:      cfg.Logger,
		readTimeout: readTimeout,
	}
}

// Evaluate reads the flag's current definition and applies bucketing. It
// never returns an error; failures resolve to a disabled result.
func (e *Evaluator) Evaluate(ctx context.Context, flagID, subjectID string) Result {
	readCtx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()

	def, err := e.store.Get(readCtx, flagID)
	if err != nil {
		reason := ReasonStoreError
		if errors.Is(err, flag.ErrFlagNotFound) {
			reason = ReasonNotFound
		} else {
			e.logger.Warn().Err(err).Str("flag", flagID).Msg("flag store read failed, evaluating closed")
		}
		return Result{
			FlagID:    flagID,
			SubjectID: subjectID,
			Enabled:   false,
			Stage:     flag.StageDisabled,
			Reason:    reason,
		}
	}

	return Decide(def, subjectID)
}

// Decide applies the bucketing rules to a definition. It is pure: the same
// definition and subject always produce the same result.
//
// Precedence: deny-list, then rolled-back (allow-listed subjects are
// force-excluded after a rollback), then allow-list, then stage, then bucket.
func Decide(def *flag.Definition, subjectID string) Result {
	r := Result{
		FlagID:    def.ID,
		SubjectID: subjectID,
		Stage:     def.Stage,
		Bucket:    Bucket(def.ID, subjectID),
	}

	switch {
	case def.InDenyList(subjectID):
		r.Reason = ReasonDenyList
	case def.Stage == flag.StageRolledBack:
		r.Reason = ReasonRolledBack
	case def.InAllowList(subjectID):
		r.Enabled = true
		r.Reason = ReasonAllowList
	case def.Stage == flag.StageDisabled, def.Stage == flag.StageCanary:
		// Canary is allow-list only; its percentage is pinned at 0.
		r.Reason = ReasonStage
	case def.Stage == flag.StageFull:
		r.Enabled = true
		r.Reason = ReasonStage
	default:
		// Ramping: deterministic percentage bucketing.
		r.Enabled = r.Bucket < float64(def.RolloutPercent)
		r.Reason = ReasonBucket
	}

	return r
}

// Bucket maps (flagID, subjectID) to a stable value in [0,100). The hash is
// keyed by both identifiers so a subject's position differs per flag, and a
// fixed subject never moves within one flag's rollout: raising the
// percentage only ever adds subjects.
func Bucket(flagID, subjectID string) float64 {
	h := xxhash.New()
	_, _ = h.WriteString(flagID)
	_, _ = h.WriteString(":")
	_, _ = h.WriteString(subjectID)
	return float64(h.Sum64()%bucketSteps) * 100 / bucketSteps
}
