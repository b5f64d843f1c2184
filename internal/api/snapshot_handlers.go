package api

import (
	"fmt"
	"net/http"
	"time"
)

// handleHealth reports service liveness and the state of the last cycle.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}

	snap := rt.monitor.Snapshot()
	status := "healthy"
	if snap.Stale {
		status = "degraded"
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"status":   status,
		"uptime":   time.Since(rt.startedAt).Round(time.Second).String(),
		"cycleId":  snap.CycleID,
		"polledAt": snap.PolledAt,
		"stale":    snap.Stale,
		"pdus":     len(snap.PDUs),
	})
}

// handleRacks serves the current snapshot. The ETag is the cycle id, so
// pollers that saw this cycle already get a 304 without a body.
func (rt *Router) handleRacks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}

	snap := rt.monitor.Snapshot()
	etag := fmt.Sprintf("\"cycle-%d\"", snap.CycleID)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"data": snap})
}

// handleSites lists the distinct sites in the last snapshot.
func (rt *Router) handleSites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"sites": rt.monitor.Snapshot().Sites(),
	})
}
