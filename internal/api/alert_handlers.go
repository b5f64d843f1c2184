package api

import (
	"net/http"

	"github.com/rackwatch/rackwatch/internal/alerts"
	"github.com/rackwatch/rackwatch/internal/models"
)

// handleActiveAlerts serves the live alert table, optionally filtered by
// metric_type, site, and dc query parameters.
func (rt *Router) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}

	q := r.URL.Query()
	filter := alerts.Filter{
		MetricType: q.Get("metric_type"),
		Site:       q.Get("site"),
		DC:         q.Get("dc"),
	}

	rows, err := rt.monitor.Alerts().Active(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"alerts": rows,
		"count":  len(rows),
	})
}

// handleAlertSummary aggregates the snapshot and the alert table into the
// counts the dashboard header needs. A rack counts toward a severity when
// at least one of its PDUs is at that severity.
func (rt *Router) handleAlertSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}

	snap := rt.monitor.Snapshot()

	pduByStatus := map[models.Status]int{}
	for _, p := range snap.PDUs {
		pduByStatus[p.Status]++
	}

	rackByStatus := map[models.Status]int{}
	for _, status := range snap.RackSeverity() {
		rackByStatus[status]++
	}

	rows, err := rt.monitor.Alerts().Active(r.Context(), alerts.Filter{})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	byMetric := map[string]int{}
	for _, a := range rows {
		byMetric[a.MetricType]++
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"cycleId": snap.CycleID,
		"stale":   snap.Stale,
		"pdus": map[string]int{
			"total":    len(snap.PDUs),
			"normal":   pduByStatus[models.StatusNormal],
			"warning":  pduByStatus[models.StatusWarning],
			"critical": pduByStatus[models.StatusCritical],
		},
		"racks": map[string]int{
			"normal":   rackByStatus[models.StatusNormal],
			"warning":  rackByStatus[models.StatusWarning],
			"critical": rackByStatus[models.StatusCritical],
		},
		"activeAlerts":         len(rows),
		"activeAlertsByMetric": byMetric,
	})
}
