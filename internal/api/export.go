package api

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rackwatch/rackwatch/internal/alerts"
	"github.com/rackwatch/rackwatch/internal/models"
	"github.com/rs/zerolog/log"
)

var alertExportHeader = []string{
	"pdu_id", "rack_id", "name", "country", "site", "dc", "phase", "chain",
	"node", "serial", "metric_type", "alert_reason", "alert_value",
	"alert_field", "threshold_exceeded", "alert_started_at", "last_updated_at",
}

// handleExportAlerts streams the active-alert table as a CSV download.
func (rt *Router) handleExportAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	role := rt.roleFor(r)
	if !canExport(role) {
		forbid(w, role)
		return
	}

	rows, err := rt.monitor.Alerts().Active(r.Context(), alerts.Filter{})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	filename := fmt.Sprintf("active-alerts-%s.csv", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	w.WriteHeader(http.StatusOK)

	// Rows stream straight to the client; a mid-stream failure usually
	// means the client went away, and the headers are already sent.
	if err := writeAlertCSV(w, rows); err != nil {
		log.Warn().Err(err).Int("rows", len(rows)).Msg("Alert CSV export aborted mid-stream")
	}
}

func writeAlertCSV(out io.Writer, rows []models.ActiveAlert) error {
	cw := csv.NewWriter(out)

	if err := cw.Write(alertExportHeader); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, a := range rows {
		record := []string{
			a.PDUID, a.RackID, a.Name, a.Country, a.Site, a.DC,
			string(a.Phase), a.Chain, a.Node, a.Serial,
			a.MetricType, a.AlertReason,
			strconv.FormatFloat(a.AlertValue, 'f', -1, 64),
			a.AlertField,
			strconv.FormatFloat(a.ThresholdExceeded, 'f', -1, 64),
			a.AlertStartedAt.UTC().Format(time.RFC3339),
			a.LastUpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write CSV row for %s: %w", a.PDUID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("CSV write error: %w", err)
	}
	return nil
}

// handleMaintenanceImport bulk-starts individual maintenance from an
// uploaded CSV. The first row is a header; rack_id is the only required
// column. Each row succeeds or fails independently and the response
// carries a per-row summary.
func (rt *Router) handleMaintenanceImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	role := rt.roleFor(r)
	if !canManageMaintenance(role) {
		forbid(w, role)
		return
	}

	racks, err := parseMaintenanceCSV(r.Body)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_csv", err.Error())
		return
	}
	if len(racks) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_csv", "no data rows in upload")
		return
	}

	q := r.URL.Query()
	reason := q.Get("reason")
	if reason == "" {
		reason = "bulk import"
	}
	startedBy := q.Get("started_by")

	summary := rt.monitor.Registry().BulkStart(r.Context(), racks, reason, startedBy)
	writeSuccess(w, http.StatusOK, map[string]any{"data": summary})
}

// parseMaintenanceCSV reads the upload into rack contexts. Column order is
// taken from the header row so exports from different tools all work.
func parseMaintenanceCSV(body io.Reader) ([]models.RackContext, error) {
	cr := csv.NewReader(body)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	if _, ok := col["rack_id"]; !ok {
		return nil, fmt.Errorf("CSV header must contain a rack_id column")
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var racks []models.RackContext
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV row: %w", err)
		}
		racks = append(racks, models.RackContext{
			RackID:  field(record, "rack_id"),
			Name:    field(record, "name"),
			Country: field(record, "country"),
			Site:    field(record, "site"),
			DC:      field(record, "dc"),
			Chain:   field(record, "chain"),
		})
	}
	return racks, nil
}
