package maintenance

import (
	"context"
	"testing"

	"github.com/rackwatch/rackwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func rack(id, chain, site, dc string) models.RackContext {
	return models.RackContext{RackID: id, Chain: chain, Site: site, DC: dc}
}

func TestStartIndividualAndSuppressedSet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	entry, err := r.StartIndividual(ctx, rack("rack-1", "C1", "S1", "D1"), "psu swap", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.MaintenanceIndividual, entry.EntryType)
	require.Len(t, entry.Details, 1)
	assert.Equal(t, "rack-1", entry.Details[0].RackID)

	set, err := r.SuppressedSet(ctx)
	require.NoError(t, err)
	assert.Contains(t, set, "rack-1")

	ok, err := r.IsSuppressed(ctx, "rack-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDoubleStartIndividualConflicts(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.StartIndividual(ctx, rack("rack-1", "C1", "S1", "D1"), "", "alice")
	require.NoError(t, err)

	_, err = r.StartIndividual(ctx, rack("rack-1", "C1", "S1", "D1"), "", "bob")
	assert.ErrorIs(t, err, ErrAlreadyInMaintenance)
}

func TestStartEndRoundTripLeavesRegistryUnchanged(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.StartIndividual(ctx, rack("rack-1", "C1", "S1", "D1"), "", "alice")
	require.NoError(t, err)
	require.NoError(t, r.EndRack(ctx, "rack-1"))

	entries, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	set, err := r.SuppressedSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestStartChainSkipsAlreadyCovered(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.StartIndividual(ctx, rack("rack-2", "C1", "S1", "D1"), "", "alice")
	require.NoError(t, err)

	catalog := []models.RackContext{
		rack("rack-2", "C1", "S1", "D1"),
		rack("rack-3", "C1", "S1", "D1"),
		rack("rack-4", "C1", "S1", "D1"),
		rack("rack-9", "C2", "S1", "D1"), // different chain, not matched
	}
	result, err := r.StartChain(ctx, "C1", "S1", "D1", "transformer work", "bob", catalog)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 3, result.Total)

	set, err := r.SuppressedSet(ctx)
	require.NoError(t, err)
	assert.Len(t, set, 3)
	for _, id := range []string{"rack-2", "rack-3", "rack-4"} {
		assert.Contains(t, set, id)
	}
}

func TestStartChainNoMatches(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	catalog := []models.RackContext{rack("rack-1", "C2", "S1", "D1")}
	_, err := r.StartChain(ctx, "C1", "S1", "D1", "", "bob", catalog)
	assert.ErrorIs(t, err, ErrNoRacksFound)

	entries, listErr := r.List(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, entries)
}

func TestStartChainAllCoveredCreatesNoEntry(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.StartIndividual(ctx, rack("rack-1", "C1", "S1", "D1"), "", "alice")
	require.NoError(t, err)

	_, err = r.StartChain(ctx, "C1", "S1", "D1", "", "bob", []models.RackContext{rack("rack-1", "C1", "S1", "D1")})
	assert.ErrorIs(t, err, ErrAlreadyInMaintenance)

	entries, listErr := r.List(ctx)
	require.NoError(t, listErr)
	require.Len(t, entries, 1) // only the individual entry
	assert.Equal(t, models.MaintenanceIndividual, entries[0].EntryType)
}

func TestEndEntryCascadesDetails(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	catalog := []models.RackContext{
		rack("rack-1", "C1", "S1", "D1"),
		rack("rack-2", "C1", "S1", "D1"),
	}
	result, err := r.StartChain(ctx, "C1", "S1", "D1", "", "bob", catalog)
	require.NoError(t, err)

	require.NoError(t, r.EndEntry(ctx, result.EntryID))

	set, err := r.SuppressedSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, set)

	orphans, err := r.OrphanDetailCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, orphans)

	assert.ErrorIs(t, r.EndEntry(ctx, result.EntryID), ErrNotFound)
}

func TestEndRackRemovesEmptyParent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	catalog := []models.RackContext{
		rack("rack-1", "C1", "S1", "D1"),
		rack("rack-2", "C1", "S1", "D1"),
	}
	_, err := r.StartChain(ctx, "C1", "S1", "D1", "", "bob", catalog)
	require.NoError(t, err)

	require.NoError(t, r.EndRack(ctx, "rack-1"))

	entries, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Details, 1)
	assert.Equal(t, "rack-2", entries[0].Details[0].RackID)

	// Removing the last detail removes the parent too.
	require.NoError(t, r.EndRack(ctx, "rack-2"))
	entries, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, r.EndRack(ctx, "rack-2"), ErrNotFound)
}

func TestBulkStartReportsPerRow(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.StartIndividual(ctx, rack("rack-2", "C1", "S1", "D1"), "", "alice")
	require.NoError(t, err)

	summary := r.BulkStart(ctx, []models.RackContext{
		rack("rack-1", "C1", "S1", "D1"),
		rack("rack-2", "C1", "S1", "D1"), // duplicate
		{}, // missing rack id
	}, "import", "carol")

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.AlreadyInMaintenance)
	require.Len(t, summary.Failed, 1)
}

func TestSuppressedSetCacheInvalidatedByMutation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	set, err := r.SuppressedSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, set)

	_, err = r.StartIndividual(ctx, rack("rack-1", "C1", "S1", "D1"), "", "alice")
	require.NoError(t, err)

	set, err = r.SuppressedSet(ctx)
	require.NoError(t, err)
	assert.Contains(t, set, "rack-1")
}
