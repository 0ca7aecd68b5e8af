package rollout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/flag"
	"github.com/rampgate/rampgate/internal/rollout"
)

func newTransitioner(t *testing.T, store flag.Store, log audit.Log) *rollout.Transitioner {
	t.Helper()
	return rollout.NewTransitioner(rollout.TransitionerConfig{
		Store:            store,
		AuditLog:         log,
		Logger:           zerolog.Nop(),
		MaxCommitElapsed: 2 * time.Second,
		MaxAuditElapsed:  100 * time.Millisecond,
	})
}

func seedFlag(t *testing.T, store flag.Store, stage flag.Stage, percent int) {
	t.Helper()
	def := flag.NewDefinition("checkout-v2", "production")
	require.NoError(t, store.Create(context.Background(), def))
	if stage == flag.StageDisabled {
		return
	}
	def.Stage = stage
	def.RolloutPercent = percent
	require.NoError(t, store.Put(context.Background(), "checkout-v2", 1, def))
}

func TestTransitioner_CommitsAndAudits(t *testing.T) {
	store := flag.NewMemoryStore()
	log := audit.NewMemoryLog()
	tr := newTransitioner(t, store, log)
	ctx := context.Background()

	seedFlag(t, store, flag.StageDisabled, 0)

	def, err := tr.Transition(ctx, "checkout-v2", rollout.Request{
		To:     flag.StageCanary,
		Cause:  audit.CauseManual,
		Detail: "starting rollout",
	})
	require.NoError(t, err)
	assert.Equal(t, flag.StageCanary, def.Stage)

	// Committed to the store with a bumped version.
	stored, err := store.Get(ctx, "checkout-v2")
	require.NoError(t, err)
	assert.Equal(t, flag.StageCanary, stored.Stage)
	assert.Equal(t, int64(2), stored.Version)

	// One audit record, fully populated.
	recs, err := log.Query(ctx, "checkout-v2", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, flag.StageDisabled, recs[0].FromStage)
	assert.Equal(t, flag.StageCanary, recs[0].ToStage)
	assert.Equal(t, audit.CauseManual, recs[0].Cause)
	assert.Equal(t, "starting rollout", recs[0].Detail)
	assert.NotEmpty(t, recs[0].ID)
}

func TestTransitioner_RampStepRecordsPercent(t *testing.T) {
	store := flag.NewMemoryStore()
	log := audit.NewMemoryLog()
	tr := newTransitioner(t, store, log)
	ctx := context.Background()

	seedFlag(t, store, flag.StageRamping, 5)

	_, err := tr.Transition(ctx, "checkout-v2", rollout.Request{
		To:      flag.StageRamping,
		Percent: 25,
		Cause:   audit.CauseScheduledRamp,
	})
	require.NoError(t, err)

	recs, err := log.Query(ctx, "checkout-v2", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "percent 5 -> 25", recs[0].Detail)
}

func TestTransitioner_IllegalTransitionIsPermanent(t *testing.T) {
	store := flag.NewMemoryStore()
	tr := newTransitioner(t, store, audit.NewMemoryLog())

	seedFlag(t, store, flag.StageDisabled, 0)

	_, err := tr.Transition(context.Background(), "checkout-v2", rollout.Request{
		To:    flag.StageFull,
		Cause: audit.CauseManual,
	})
	assert.ErrorIs(t, err, rollout.ErrIllegalTransition)
}

func TestTransitioner_UnknownFlag(t *testing.T) {
	tr := newTransitioner(t, flag.NewMemoryStore(), audit.NewMemoryLog())

	_, err := tr.Transition(context.Background(), "missing", rollout.Request{
		To:    flag.StageCanary,
		Cause: audit.CauseManual,
	})
	assert.ErrorIs(t, err, flag.ErrFlagNotFound)
}

// conflictingStore rejects the first n writes with a version conflict, then
// delegates. It simulates losing the race to a concurrent writer.
type conflictingStore struct {
	flag.Store
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) Put(ctx context.Context, flagID string, expectedVersion int64, def *flag.Definition) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return flag.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.Store.Put(ctx, flagID, expectedVersion, def)
}

func TestTransitioner_RetriesOnVersionConflict(t *testing.T) {
	inner := flag.NewMemoryStore()
	store := &conflictingStore{Store: inner, conflicts: 2}
	log := audit.NewMemoryLog()
	tr := newTransitioner(t, store, log)
	ctx := context.Background()

	seedFlag(t, inner, flag.StageDisabled, 0)

	def, err := tr.Transition(ctx, "checkout-v2", rollout.Request{
		To:    flag.StageCanary,
		Cause: audit.CauseManual,
	})
	require.NoError(t, err)
	assert.Equal(t, flag.StageCanary, def.Stage)

	recs, err := log.Query(ctx, "checkout-v2", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestTransitioner_SupersededByConcurrentRollback(t *testing.T) {
	store := flag.NewMemoryStore()
	log := audit.NewMemoryLog()
	tr := newTransitioner(t, store, log)
	ctx := context.Background()

	seedFlag(t, store, flag.StageRolledBack, 25)

	// A ramp advance arriving after a rollback landed is silently abandoned.
	def, err := tr.Transition(ctx, "checkout-v2", rollout.Request{
		To:      flag.StageRamping,
		Percent: 50,
		Cause:   audit.CauseScheduledRamp,
	})
	require.NoError(t, err)
	assert.Equal(t, flag.StageRolledBack, def.Stage)

	// No audit record for the abandoned request.
	recs, err := log.Query(ctx, "checkout-v2", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// failingLog always fails appends.
type failingLog struct{}

func (failingLog) Append(context.Context, *audit.TransitionRecord) error {
	return errors.New("log unavailable")
}

func (failingLog) Query(context.Context, string, time.Time, time.Time) ([]*audit.TransitionRecord, error) {
	return nil, nil
}

func TestTransitioner_AuditFailureDoesNotFailTransition(t *testing.T) {
	store := flag.NewMemoryStore()
	tr := newTransitioner(t, store, failingLog{})
	ctx := context.Background()

	seedFlag(t, store, flag.StageDisabled, 0)

	def, err := tr.Transition(ctx, "checkout-v2", rollout.Request{
		To:    flag.StageCanary,
		Cause: audit.CauseManual,
	})
	require.NoError(t, err)
	assert.Equal(t, flag.StageCanary, def.Stage)

	// The store write stuck even though the audit append kept failing.
	stored, err := store.Get(ctx, "checkout-v2")
	require.NoError(t, err)
	assert.Equal(t, flag.StageCanary, stored.Stage)
}

func TestTransitioner_CaptureBaseline(t *testing.T) {
	store := flag.NewMemoryStore()
	tr := newTransitioner(t, store, audit.NewMemoryLog())
	ctx := context.Background()

	seedFlag(t, store, flag.StageCanary, 0)

	baseline := flag.Baseline{ErrorRate: 0.01, LatencyP95: 120, CapturedAt: time.Now().UTC()}
	require.NoError(t, tr.CaptureBaseline(ctx, "checkout-v2", baseline))

	stored, err := store.Get(ctx, "checkout-v2")
	require.NoError(t, err)
	require.NotNil(t, stored.Baseline)
	assert.Equal(t, 0.01, stored.Baseline.ErrorRate)

	// A second capture is a no-op; the first baseline wins.
	require.NoError(t, tr.CaptureBaseline(ctx, "checkout-v2", flag.Baseline{ErrorRate: 0.5}))
	stored, err = store.Get(ctx, "checkout-v2")
	require.NoError(t, err)
	assert.Equal(t, 0.01, stored.Baseline.ErrorRate)
}

func TestTransitioner_CaptureBaselineSkipsNonCanary(t *testing.T) {
	store := flag.NewMemoryStore()
	tr := newTransitioner(t, store, audit.NewMemoryLog())
	ctx := context.Background()

	seedFlag(t, store, flag.StageRamping, 25)

	require.NoError(t, tr.CaptureBaseline(ctx, "checkout-v2", flag.Baseline{ErrorRate: 0.01}))

	stored, err := store.Get(ctx, "checkout-v2")
	require.NoError(t, err)
	assert.Nil(t, stored.Baseline)
}
