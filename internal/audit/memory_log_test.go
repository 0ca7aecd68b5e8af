package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/flag"
)

func TestMemoryLog_AppendAndQuery(t *testing.T) {
	log := audit.NewMemoryLog()
	ctx := context.Background()

	rec := audit.NewTransitionRecord("checkout-v2", flag.StageDisabled, flag.StageCanary, audit.CauseManual)
	require.NoError(t, log.Append(ctx, rec))

	recs, err := log.Query(ctx, "checkout-v2", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
	assert.Equal(t, flag.StageCanary, recs[0].ToStage)
}

func TestMemoryLog_QueryFiltersByFlag(t *testing.T) {
	log := audit.NewMemoryLog()
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, audit.NewTransitionRecord("a", flag.StageDisabled, flag.StageCanary, audit.CauseManual)))
	require.NoError(t, log.Append(ctx, audit.NewTransitionRecord("b", flag.StageDisabled, flag.StageCanary, audit.CauseManual)))

	recs, err := log.Query(ctx, "a", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].FlagID)
}

func TestMemoryLog_QueryTimeWindow(t *testing.T) {
	log := audit.NewMemoryLog()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := audit.NewTransitionRecord("checkout-v2", flag.StageRamping, flag.StageRamping, audit.CauseScheduledRamp)
		rec.OccurredAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, log.Append(ctx, rec))
	}

	recs, err := log.Query(ctx, "checkout-v2", base.Add(30*time.Minute), base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, base.Add(time.Hour), recs[0].OccurredAt)

	// Open-ended bounds return everything in time order.
	recs, err = log.Query(ctx, "checkout-v2", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i := 1; i < len(recs); i++ {
		assert.False(t, recs[i].OccurredAt.Before(recs[i-1].OccurredAt))
	}
}

func TestMemoryLog_RecordsAreCopied(t *testing.T) {
	log := audit.NewMemoryLog()
	ctx := context.Background()

	rec := audit.NewTransitionRecord("checkout-v2", flag.StageDisabled, flag.StageCanary, audit.CauseManual)
	require.NoError(t, log.Append(ctx, rec))

	// Mutating the original after append must not affect the log.
	rec.Detail = "mutated"

	recs, err := log.Query(ctx, "checkout-v2", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Detail)
}
