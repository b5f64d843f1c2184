package alerts

import (
	"context"
	"time"

	"github.com/rackwatch/rackwatch/internal/models"
	"github.com/rs/zerolog/log"
)

// Stats summarises one reconciliation.
type Stats struct {
	Desired   int
	Opened    int
	Refreshed int
	Closed    int
}

// Reconciler diffs classifier output against the persisted alert table.
type Reconciler struct {
	store *Store
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store *Store) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile computes and applies the open/refresh/close plan for one
// cycle. It must only be called with a complete batch; a failed fetch
// skips reconciliation so alerts age instead of clearing.
func (r *Reconciler) Reconcile(ctx context.Context, classified []models.ClassifiedPDU, suppressed map[string]struct{}, now time.Time) (Stats, error) {
	desired := make(map[models.AlertKey]models.ActiveAlert)
	for _, pdu := range classified {
		if _, inMaintenance := suppressed[pdu.RackID]; inMaintenance {
			continue
		}
		for _, reason := range pdu.Reasons {
			if reason.Severity != models.SeverityCritical {
				continue
			}
			a := models.ActiveAlert{
				PDUID:             pdu.ID,
				RackID:            pdu.RackID,
				Name:              pdu.Name,
				Country:           pdu.Country,
				Site:              pdu.Site,
				DC:                pdu.DC,
				Phase:             pdu.Phase,
				Chain:             pdu.Chain,
				Node:              pdu.Node,
				Serial:            pdu.Serial,
				AlertType:         string(models.SeverityCritical),
				MetricType:        reason.Metric,
				AlertReason:       reason.Code,
				AlertValue:        reason.Value,
				AlertField:        reason.Field,
				ThresholdExceeded: reason.Threshold,
			}
			desired[a.Key()] = a
		}
	}

	current, err := r.store.ByKey(ctx)
	if err != nil {
		return Stats{}, err
	}

	plan := Plan{Now: now}
	for key, a := range desired {
		if _, exists := current[key]; exists {
			plan.ToRefresh = append(plan.ToRefresh, a)
		} else {
			plan.ToOpen = append(plan.ToOpen, a)
		}
	}
	for key := range current {
		if _, wanted := desired[key]; !wanted {
			plan.ToClose = append(plan.ToClose, key)
		}
	}

	if err := r.store.ApplyPlan(ctx, plan); err != nil {
		// A failed write aborts the remainder; the next cycle converges.
		return Stats{}, err
	}

	stats := Stats{
		Desired:   len(desired),
		Opened:    len(plan.ToOpen),
		Refreshed: len(plan.ToRefresh),
		Closed:    len(plan.ToClose),
	}
	if stats.Opened > 0 || stats.Closed > 0 {
		log.Info().
			Int("opened", stats.Opened).
			Int("refreshed", stats.Refreshed).
			Int("closed", stats.Closed).
			Msg("Active alerts reconciled")
	} else {
		log.Debug().
			Int("refreshed", stats.Refreshed).
			Msg("Active alerts reconciled, no changes")
	}
	return stats, nil
}
