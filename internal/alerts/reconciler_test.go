package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/rackwatch/rackwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(t *testing.T) (*Reconciler, *Store) {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewReconciler(store), store
}

func classifiedCritical(pduID, rackID string, value, threshold float64) models.ClassifiedPDU {
	return models.ClassifiedPDU{
		PDU: models.PDU{
			ID: pduID, RackID: rackID, Name: "PDU " + pduID,
			Country: "DE", Site: "S1", DC: "D1",
			Phase: models.PhaseSingle, Chain: "C1", Node: "n1", Serial: "sn",
		},
		Status: models.StatusCritical,
		Reasons: []models.Reason{{
			Code:      "critical_amperage_high_single_phase",
			Severity:  models.SeverityCritical,
			Metric:    models.MetricAmperage,
			Field:     models.FieldCurrent,
			Value:     value,
			Threshold: threshold,
		}},
	}
}

func TestReconcileOpensNewCritical(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	stats, err := r.Reconcile(ctx, []models.ClassifiedPDU{classifiedCritical("pdu-A", "rack-1", 26, 25)}, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Opened)

	rows, err := store.Active(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	a := rows[0]
	assert.Equal(t, "pdu-A", a.PDUID)
	assert.Equal(t, models.MetricAmperage, a.MetricType)
	assert.Equal(t, "critical_amperage_high_single_phase", a.AlertReason)
	assert.Equal(t, 26.0, a.AlertValue)
	assert.Equal(t, 25.0, a.ThresholdExceeded)
	assert.Equal(t, models.FieldCurrent, a.AlertField)
	assert.Equal(t, now.Unix(), a.AlertStartedAt.Unix())
	assert.Equal(t, now.Unix(), a.LastUpdatedAt.Unix())
}

func TestReconcileRefreshPreservesStartedAt(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	t0 := time.Now().Add(-time.Minute).Truncate(time.Second)
	t1 := t0.Add(30 * time.Second)

	_, err := r.Reconcile(ctx, []models.ClassifiedPDU{classifiedCritical("pdu-A", "rack-1", 26, 25)}, nil, t0)
	require.NoError(t, err)

	stats, err := r.Reconcile(ctx, []models.ClassifiedPDU{classifiedCritical("pdu-A", "rack-1", 27, 25)}, nil, t1)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Opened)
	assert.Equal(t, 1, stats.Refreshed)
	assert.Equal(t, 0, stats.Closed)

	rows, err := store.Active(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, t0.Unix(), rows[0].AlertStartedAt.Unix(), "started_at must not move while continuously critical")
	assert.Equal(t, t1.Unix(), rows[0].LastUpdatedAt.Unix())
	assert.Equal(t, 27.0, rows[0].AlertValue)
}

func TestReconcileClosesCleared(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	now := time.Now()

	_, err := r.Reconcile(ctx, []models.ClassifiedPDU{classifiedCritical("pdu-A", "rack-1", 26, 25)}, nil, now)
	require.NoError(t, err)

	// Next cycle the PDU is back to normal (no critical reasons).
	normal := models.ClassifiedPDU{PDU: models.PDU{ID: "pdu-A", RackID: "rack-1"}, Status: models.StatusNormal}
	stats, err := r.Reconcile(ctx, []models.ClassifiedPDU{normal}, nil, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Closed)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcileEmptyBatchClosesEverything(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, []models.ClassifiedPDU{classifiedCritical("pdu-A", "rack-1", 26, 25)}, nil, time.Now())
	require.NoError(t, err)

	stats, err := r.Reconcile(ctx, nil, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Closed)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcileSuppressionClosesAndReopens(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	t0 := time.Now().Add(-2 * time.Minute).Truncate(time.Second)

	critical := []models.ClassifiedPDU{classifiedCritical("pdu-A", "rack-1", 26, 25)}

	_, err := r.Reconcile(ctx, critical, nil, t0)
	require.NoError(t, err)

	// Rack enters maintenance: the row is closed on the next cycle.
	suppressed := map[string]struct{}{"rack-1": {}}
	stats, err := r.Reconcile(ctx, critical, suppressed, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Closed)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Maintenance ends: the alert reappears with a fresh started_at.
	t2 := t0.Add(90 * time.Second)
	stats, err = r.Reconcile(ctx, critical, nil, t2)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Opened)

	rows, err := store.Active(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, t2.Unix(), rows[0].AlertStartedAt.Unix())
}

func TestReconcileIdempotent(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	input := []models.ClassifiedPDU{
		classifiedCritical("pdu-A", "rack-1", 26, 25),
		classifiedCritical("pdu-B", "rack-2", 30, 25),
	}

	_, err := r.Reconcile(ctx, input, nil, now)
	require.NoError(t, err)
	first, err := store.Active(ctx, Filter{})
	require.NoError(t, err)

	stats, err := r.Reconcile(ctx, input, nil, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Opened)
	assert.Equal(t, 2, stats.Refreshed)
	assert.Equal(t, 0, stats.Closed)

	second, err := store.Active(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range second {
		assert.Equal(t, first[i].Key(), second[i].Key())
		assert.Equal(t, first[i].AlertStartedAt.Unix(), second[i].AlertStartedAt.Unix())
	}
}

func TestReconcileIgnoresWarningReasons(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()

	warning := models.ClassifiedPDU{
		PDU:    models.PDU{ID: "pdu-A", RackID: "rack-1"},
		Status: models.StatusWarning,
		Reasons: []models.Reason{{
			Code:     "warning_amperage_high_single_phase",
			Severity: models.SeverityWarning,
			Metric:   models.MetricAmperage,
			Field:    models.FieldCurrent,
			Value:    21,
		}},
	}
	stats, err := r.Reconcile(ctx, []models.ClassifiedPDU{warning}, nil, time.Now())
	require.NoError(t, err)
	assert.Zero(t, stats.Desired)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestActiveFilter(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()

	a := classifiedCritical("pdu-A", "rack-1", 26, 25)
	b := classifiedCritical("pdu-B", "rack-2", 26, 25)
	b.Site = "S2"
	b.Reasons[0].Metric = models.MetricVoltage
	b.Reasons[0].Code = "critical_voltage_high"

	_, err := r.Reconcile(ctx, []models.ClassifiedPDU{a, b}, nil, time.Now())
	require.NoError(t, err)

	rows, err := store.Active(ctx, Filter{MetricType: models.MetricVoltage})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "pdu-B", rows[0].PDUID)

	rows, err = store.Active(ctx, Filter{Site: "S1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "pdu-A", rows[0].PDUID)

	rows, err = store.Active(ctx, Filter{DC: "D1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestStaleCount(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	old := time.Now().Add(-10 * time.Minute)

	_, err := r.Reconcile(ctx, []models.ClassifiedPDU{classifiedCritical("pdu-A", "rack-1", 26, 25)}, nil, old)
	require.NoError(t, err)

	n, err := store.StaleCount(ctx, time.Now().Add(-90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.StaleCount(ctx, old.Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}
