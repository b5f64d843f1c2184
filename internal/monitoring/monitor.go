// Package monitoring drives the periodic evaluation cycle: fetch from
// NENG, classify every PDU, reconcile the active-alert table, publish a
// fresh snapshot.
package monitoring

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rackwatch/rackwatch/internal/alerts"
	"github.com/rackwatch/rackwatch/internal/maintenance"
	"github.com/rackwatch/rackwatch/internal/models"
	"github.com/rackwatch/rackwatch/internal/telemetry"
	"github.com/rackwatch/rackwatch/internal/thresholds"
	"github.com/rs/zerolog/log"
)

// Fetcher produces one complete PDU batch per cycle.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.PDU, error)
}

// Config tunes the monitor.
type Config struct {
	Interval time.Duration
	// HousekeepingEvery controls the slow staleness/orphan sweep. Zero
	// disables it.
	HousekeepingEvery time.Duration
}

// Monitor owns the evaluation loop and the published snapshot.
type Monitor struct {
	cfg        Config
	fetcher    Fetcher
	thresholds *thresholds.Store
	registry   *maintenance.Registry
	alertStore *alerts.Store
	reconciler *alerts.Reconciler
	metrics    *telemetry.Metrics

	snapshot atomic.Pointer[models.Snapshot]
	cycleID  atomic.Int64
	running  atomic.Bool
}

// New wires a monitor over its collaborators.
func New(cfg Config, fetcher Fetcher, ts *thresholds.Store, reg *maintenance.Registry, as *alerts.Store, metrics *telemetry.Metrics) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	m := &Monitor{
		cfg:        cfg,
		fetcher:    fetcher,
		thresholds: ts,
		registry:   reg,
		alertStore: as,
		reconciler: alerts.NewReconciler(as),
		metrics:    metrics,
	}
	// Readers always get a snapshot, even before the first cycle.
	m.snapshot.Store(&models.Snapshot{Stale: true, PDUs: []models.ClassifiedPDU{}})
	return m
}

// Snapshot returns the most recently published snapshot. Never nil.
func (m *Monitor) Snapshot() *models.Snapshot {
	return m.snapshot.Load()
}

// Registry exposes the maintenance registry for API handlers.
func (m *Monitor) Registry() *maintenance.Registry { return m.registry }

// Thresholds exposes the threshold store for API handlers.
func (m *Monitor) Thresholds() *thresholds.Store { return m.thresholds }

// Alerts exposes the alert store for API handlers.
func (m *Monitor) Alerts() *alerts.Store { return m.alertStore }

// RunOnce performs a single evaluation cycle outside the loop. Used by
// the one-shot CLI mode and by tests.
func (m *Monitor) RunOnce(ctx context.Context) {
	m.runCycleGuarded(ctx)
}

// Start runs the evaluation loop until ctx is cancelled. Ticks that
// arrive while a cycle is in progress are dropped, not queued.
func (m *Monitor) Start(ctx context.Context) {
	log.Info().Dur("interval", m.cfg.Interval).Msg("Starting evaluation loop")

	if m.cfg.HousekeepingEvery > 0 {
		go m.housekeepingLoop(ctx)
	}

	// Immediate first cycle so the API has data before the first tick.
	m.runCycleGuarded(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCycleGuarded(ctx)
		case <-ctx.Done():
			log.Info().Msg("Evaluation loop stopped")
			return
		}
	}
}

// runCycleGuarded enforces single-flight: a cycle still running when the
// next tick fires causes the tick to be dropped.
func (m *Monitor) runCycleGuarded(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		if m.metrics != nil {
			m.metrics.TicksDropped.Inc()
		}
		log.Debug().Msg("Previous cycle still running, dropping tick")
		return
	}
	defer m.running.Store(false)
	m.runCycle(ctx)
}

func (m *Monitor) runCycle(ctx context.Context) {
	started := time.Now()
	cycleID := m.cycleID.Add(1)
	if m.metrics != nil {
		m.metrics.CyclesTotal.Inc()
	}

	batch, err := m.fetcher.Fetch(ctx)
	if err != nil {
		// A failed or partial fetch never reaches the reconciler:
		// clearing alerts on an outage would be a lie. The previous
		// snapshot stays visible, marked stale.
		m.markStale(cycleID)
		if m.metrics != nil {
			m.metrics.CycleFailures.Inc()
		}
		log.Error().Err(err).Int64("cycle", cycleID).Msg("Upstream fetch failed, skipping reconciliation")
		return
	}

	suppressed, err := m.registry.SuppressedSet(ctx)
	if err != nil {
		m.markStale(cycleID)
		if m.metrics != nil {
			m.metrics.CycleFailures.Inc()
		}
		log.Error().Err(err).Int64("cycle", cycleID).Msg("Reading suppressed set failed, skipping reconciliation")
		return
	}

	classified := make([]models.ClassifiedPDU, 0, len(batch))
	effByRack := make(map[string]map[string]float64)
	for _, pdu := range batch {
		eff, ok := effByRack[pdu.RackID]
		if !ok {
			eff, err = m.thresholds.EffectiveFor(ctx, pdu.RackID)
			if err != nil {
				m.markStale(cycleID)
				if m.metrics != nil {
					m.metrics.CycleFailures.Inc()
				}
				log.Error().Err(err).Str("rackId", pdu.RackID).Int64("cycle", cycleID).Msg("Threshold resolution failed, skipping reconciliation")
				return
			}
			effByRack[pdu.RackID] = eff
		}

		status, reasons := alerts.Classify(pdu, eff)
		_, inMaintenance := suppressed[pdu.RackID]
		classified = append(classified, models.ClassifiedPDU{
			PDU:           pdu,
			Status:        status,
			Reasons:       reasons,
			InMaintenance: inMaintenance,
		})
	}

	snapshot := &models.Snapshot{
		CycleID:  cycleID,
		PolledAt: started,
		Stale:    false,
		PDUs:     classified,
	}
	m.snapshot.Store(snapshot)

	stats, err := m.reconciler.Reconcile(ctx, classified, suppressed, started)
	if err != nil {
		// The snapshot is already published; the table converges on the
		// next cycle.
		log.Error().Err(err).Int64("cycle", cycleID).Msg("Alert reconciliation failed")
		return
	}

	if m.metrics != nil {
		m.metrics.CycleDuration.Set(time.Since(started).Seconds())
		m.metrics.PDUsInLastCycle.Set(float64(len(classified)))
		m.metrics.SuppressedRacks.Set(float64(len(suppressed)))
		m.metrics.ActiveAlerts.Set(float64(stats.Desired))
	}

	log.Debug().
		Int64("cycle", cycleID).
		Int("pdus", len(classified)).
		Int("opened", stats.Opened).
		Int("closed", stats.Closed).
		Dur("took", time.Since(started)).
		Msg("Evaluation cycle complete")
}

// markStale republishes the previous snapshot contents flagged stale so
// readers can tell the data is aging.
func (m *Monitor) markStale(cycleID int64) {
	prev := m.snapshot.Load()
	m.snapshot.Store(&models.Snapshot{
		CycleID:  cycleID,
		PolledAt: prev.PolledAt,
		Stale:    true,
		PDUs:     prev.PDUs,
	})
}

// housekeepingLoop runs the slow sweep: orphan maintenance details and
// alerts not confirmed for several cycles.
func (m *Monitor) housekeepingLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HousekeepingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.housekeep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) housekeep(ctx context.Context) {
	if orphans, err := m.registry.OrphanDetailCount(ctx); err != nil {
		log.Warn().Err(err).Msg("Housekeeping: orphan check failed")
	} else if orphans > 0 {
		log.Warn().Int("orphans", orphans).Msg("Housekeeping: orphan maintenance details found")
	}

	cutoff := time.Now().Add(-3 * m.cfg.Interval)
	if stale, err := m.alertStore.StaleCount(ctx, cutoff); err != nil {
		log.Warn().Err(err).Msg("Housekeeping: stale alert check failed")
	} else if stale > 0 {
		log.Warn().Int("staleAlerts", stale).Msg("Housekeeping: alerts not confirmed for several cycles")
	}
}
