// Package api serves the REST surface: snapshot reads, threshold and
// maintenance mutations, alert queries, CSV export and import.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rackwatch/rackwatch/internal/monitoring"
	"github.com/rackwatch/rackwatch/internal/telemetry"
)

// Router wires handlers onto a ServeMux over the monitor's stores.
type Router struct {
	mux       *http.ServeMux
	monitor   *monitoring.Monitor
	metrics   *telemetry.Metrics
	tokens    map[string]string
	startedAt time.Time
}

// NewRouter builds the router. tokens maps bearer token to role; an empty
// map disables authentication.
func NewRouter(monitor *monitoring.Monitor, metrics *telemetry.Metrics, tokens map[string]string) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		monitor:   monitor,
		metrics:   metrics,
		tokens:    tokens,
		startedAt: time.Now(),
	}
	r.setupRoutes()
	return r
}

func (rt *Router) setupRoutes() {
	rt.mux.HandleFunc("/api/health", rt.handleHealth)
	rt.mux.HandleFunc("/api/racks", rt.handleRacks)
	rt.mux.HandleFunc("/api/racks/", rt.handleRackSubresource)
	rt.mux.HandleFunc("/api/sites", rt.handleSites)
	rt.mux.HandleFunc("/api/alerts/active", rt.handleActiveAlerts)
	rt.mux.HandleFunc("/api/alerts/summary", rt.handleAlertSummary)
	rt.mux.HandleFunc("/api/thresholds", rt.handleThresholds)
	rt.mux.HandleFunc("/api/maintenance", rt.handleMaintenanceList)
	rt.mux.HandleFunc("/api/maintenance/rack", rt.handleMaintenanceRack)
	rt.mux.HandleFunc("/api/maintenance/rack/", rt.handleMaintenanceRackEnd)
	rt.mux.HandleFunc("/api/maintenance/chain", rt.handleMaintenanceChain)
	rt.mux.HandleFunc("/api/maintenance/import", rt.handleMaintenanceImport)
	rt.mux.HandleFunc("/api/maintenance/entry/", rt.handleMaintenanceEntryEnd)
	rt.mux.HandleFunc("/api/export/alerts", rt.handleExportAlerts)

	if rt.metrics != nil {
		rt.mux.Handle("/metrics", rt.metrics.Handler())
	}
}

// Handler returns the mux wrapped in the error/request-id middleware.
func (rt *Router) Handler() http.Handler {
	return ErrorHandler(rt.mux)
}

// handleRackSubresource dispatches /api/racks/{rack_id}/thresholds. The
// rack id itself may not contain a slash.
func (rt *Router) handleRackSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/racks/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "thresholds" {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}
	rt.handleRackThresholds(w, r, parts[0])
}
