package thresholds

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGlobalAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutGlobal(ctx, "critical_amperage_high_single_phase", 25, "", "max line draw"))
	require.NoError(t, s.PutGlobal(ctx, "warning_temperature_high", 35, "°C", ""))

	entries, err := s.ListGlobal(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "critical_amperage_high_single_phase", entries[0].Key)
	assert.Equal(t, 25.0, entries[0].Value)
	assert.Equal(t, "A", entries[0].Unit)
	assert.Equal(t, "max line draw", entries[0].Description)
}

func TestPutGlobalUpsertsIdempotently(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutGlobal(ctx, "critical_voltage_low", 200, "", ""))
	require.NoError(t, s.PutGlobal(ctx, "critical_voltage_low", 210, "", ""))

	entries, err := s.ListGlobal(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 210.0, entries[0].Value)
}

func TestPutRejectsUnknownKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.PutGlobal(ctx, "critical_frequency_high", 60, "", "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	err = s.PutRack(ctx, "rack-1", "bogus", 1, "", "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestPutRejectsInvalidValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.PutGlobal(ctx, "warning_humidity_high", -1, "", ""), ErrInvalidValue)
	assert.ErrorIs(t, s.PutGlobal(ctx, "warning_humidity_high", math.NaN(), "", ""), ErrInvalidValue)
	assert.ErrorIs(t, s.PutGlobal(ctx, "warning_humidity_high", math.Inf(1), "", ""), ErrInvalidValue)

	// Zero is a legal value (meaningful for voltage lower bounds).
	assert.NoError(t, s.PutGlobal(ctx, "critical_voltage_low", 0, "", ""))
}

func TestEffectiveForOverrideWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutGlobal(ctx, "critical_amperage_high_single_phase", 25, "", ""))
	require.NoError(t, s.PutGlobal(ctx, "warning_amperage_high_single_phase", 20, "", ""))
	require.NoError(t, s.PutRack(ctx, "rack-1", "critical_amperage_high_single_phase", 30, "", ""))

	eff, err := s.EffectiveFor(ctx, "rack-1")
	require.NoError(t, err)
	assert.Equal(t, 30.0, eff["critical_amperage_high_single_phase"])
	assert.Equal(t, 20.0, eff["warning_amperage_high_single_phase"])

	// A rack without overrides sees only globals.
	eff2, err := s.EffectiveFor(ctx, "rack-2")
	require.NoError(t, err)
	assert.Equal(t, 25.0, eff2["critical_amperage_high_single_phase"])

	// Absent keys stay absent.
	_, ok := eff2["critical_humidity_low"]
	assert.False(t, ok)
}

func TestMutationInvalidatesEffectiveCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutGlobal(ctx, "warning_voltage_high", 250, "", ""))

	eff, err := s.EffectiveFor(ctx, "rack-1")
	require.NoError(t, err)
	assert.Equal(t, 250.0, eff["warning_voltage_high"])

	require.NoError(t, s.PutGlobal(ctx, "warning_voltage_high", 245, "", ""))

	eff, err = s.EffectiveFor(ctx, "rack-1")
	require.NoError(t, err)
	assert.Equal(t, 245.0, eff["warning_voltage_high"])
}

func TestDeleteRackResetsToGlobal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutGlobal(ctx, "critical_amperage_high_single_phase", 25, "", ""))
	require.NoError(t, s.PutRack(ctx, "rack-1", "critical_amperage_high_single_phase", 30, "", ""))

	require.NoError(t, s.DeleteRack(ctx, "rack-1"))

	eff, err := s.EffectiveFor(ctx, "rack-1")
	require.NoError(t, err)
	assert.Equal(t, 25.0, eff["critical_amperage_high_single_phase"])

	// Second delete finds nothing.
	assert.ErrorIs(t, s.DeleteRack(ctx, "rack-1"), ErrNotFound)
}

func TestBulkPutGlobalAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.BulkPutGlobal(ctx, map[string]float64{
		"warning_temperature_high": 35,
		"not_a_key":                1,
	})
	assert.ErrorIs(t, err, ErrInvalidKey)

	entries, err := s.ListGlobal(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.BulkPutGlobal(ctx, map[string]float64{
		"warning_temperature_high":  35,
		"critical_temperature_high": 40,
	}))
	entries, err = s.ListGlobal(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestListRackScopesByRack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRack(ctx, "rack-1", "warning_humidity_low", 20, "", ""))
	require.NoError(t, s.PutRack(ctx, "rack-2", "warning_humidity_low", 25, "", ""))

	entries, err := s.ListRack(ctx, "rack-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rack-1", entries[0].RackID)
	assert.Equal(t, 20.0, entries[0].Value)
}
