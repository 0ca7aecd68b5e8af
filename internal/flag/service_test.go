package flag_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampgate/rampgate/internal/flag"
)

func newService(t *testing.T) (*flag.Service, *flag.MemoryStore) {
	t.Helper()
	store := flag.NewMemoryStore()
	svc := flag.NewService(flag.ServiceConfig{
		Store:  store,
		Logger: zerolog.Nop(),
	})
	return svc, store
}

func TestService_Create(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	def, err := svc.Create(ctx, "checkout-v2", "production")
	require.NoError(t, err)
	assert.Equal(t, flag.StageDisabled, def.Stage)
	assert.Equal(t, 0, def.RolloutPercent)

	_, err = svc.Create(ctx, "checkout-v2", "production")
	assert.ErrorIs(t, err, flag.ErrFlagExists)
}

func TestService_SetLists(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "checkout-v2", "production")
	require.NoError(t, err)

	def, err := svc.SetLists(ctx, "checkout-v2", []string{"qa-1", "qa-2"}, []string{"vip-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"qa-1", "qa-2"}, def.AllowList)
	assert.Equal(t, []string{"vip-1"}, def.DenyList)

	// Replacing, not merging.
	def, err = svc.SetLists(ctx, "checkout-v2", nil, []string{"vip-2"})
	require.NoError(t, err)
	assert.Empty(t, def.AllowList)
	assert.Equal(t, []string{"vip-2"}, def.DenyList)
}

func TestService_SetListsToleratesOverlap(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "checkout-v2", "production")
	require.NoError(t, err)

	// A subject on both lists is stored as-is; evaluation resolves it.
	def, err := svc.SetLists(ctx, "checkout-v2", []string{"both"}, []string{"both"})
	require.NoError(t, err)
	assert.True(t, def.InAllowList("both"))
	assert.True(t, def.InDenyList("both"))
}

func TestService_SetListsUnknownFlag(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.SetLists(context.Background(), "missing", []string{"a"}, nil)
	assert.ErrorIs(t, err, flag.ErrFlagNotFound)
}

func TestService_Archive(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "checkout-v2", "production")
	require.NoError(t, err)

	require.NoError(t, svc.Archive(ctx, "checkout-v2"))

	got, err := store.Get(ctx, "checkout-v2")
	require.NoError(t, err)
	assert.True(t, got.Archived)

	// Archiving twice is a no-op.
	require.NoError(t, svc.Archive(ctx, "checkout-v2"))

	// Archived flags reject list edits.
	_, err = svc.SetLists(ctx, "checkout-v2", []string{"a"}, nil)
	assert.ErrorIs(t, err, flag.ErrFlagArchived)
}
