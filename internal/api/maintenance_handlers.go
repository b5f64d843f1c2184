package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rackwatch/rackwatch/internal/models"
)

// handleMaintenanceList serves all active maintenance entries with their
// rack details.
func (rt *Router) handleMaintenanceList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	entries, err := rt.monitor.Registry().List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

type startRackRequest struct {
	models.RackContext
	Reason    string `json:"reason"`
	StartedBy string `json:"startedBy"`
}

// handleMaintenanceRack starts individual maintenance for one rack.
func (rt *Router) handleMaintenanceRack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	role := rt.roleFor(r)
	if !canManageMaintenance(role) {
		forbid(w, role)
		return
	}

	var req startRackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	if req.RackID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_body", "rackId is required")
		return
	}

	entry, err := rt.monitor.Registry().StartIndividual(r.Context(), req.RackContext, req.Reason, req.StartedBy)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"data": entry})
}

type startChainRequest struct {
	Chain     string `json:"chain"`
	Site      string `json:"site"`
	DC        string `json:"dc"`
	Reason    string `json:"reason"`
	StartedBy string `json:"startedBy"`
}

// handleMaintenanceChain starts chain maintenance. The covered racks are
// resolved from the current snapshot at start time and persisted as
// details; racks joining the chain later are not auto-suppressed.
func (rt *Router) handleMaintenanceChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	role := rt.roleFor(r)
	if !canManageMaintenance(role) {
		forbid(w, role)
		return
	}

	var req startChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	if req.Chain == "" || req.Site == "" || req.DC == "" {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_body", "chain, site, and dc are required")
		return
	}

	catalog := rackCatalog(rt.monitor.Snapshot())
	result, err := rt.monitor.Registry().StartChain(r.Context(), req.Chain, req.Site, req.DC, req.Reason, req.StartedBy, catalog)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"data": result})
}

// handleMaintenanceEntryEnd ends an entry by id, cascading its details.
func (rt *Router) handleMaintenanceEntryEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only DELETE is supported")
		return
	}
	role := rt.roleFor(r)
	if !canManageMaintenance(role) {
		forbid(w, role)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/maintenance/entry/")
	entryID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_entry_id", "entry id must be an integer")
		return
	}

	if err := rt.monitor.Registry().EndEntry(r.Context(), entryID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"entryId": entryID, "ended": true})
}

// handleMaintenanceRackEnd ends maintenance for a single rack. If that
// empties the parent entry, the entry goes too.
func (rt *Router) handleMaintenanceRackEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only DELETE is supported")
		return
	}
	role := rt.roleFor(r)
	if !canManageMaintenance(role) {
		forbid(w, role)
		return
	}

	rackID := strings.TrimPrefix(r.URL.Path, "/api/maintenance/rack/")
	if rackID == "" || strings.Contains(rackID, "/") {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_rack_id", "rack id is required")
		return
	}

	if err := rt.monitor.Registry().EndRack(r.Context(), rackID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"rackId": rackID, "ended": true})
}

// rackCatalog extracts the distinct racks of a snapshot with their
// location context. First PDU of a rack wins; they agree on location.
func rackCatalog(snap *models.Snapshot) []models.RackContext {
	seen := make(map[string]struct{})
	catalog := make([]models.RackContext, 0)
	for _, p := range snap.PDUs {
		if p.RackID == "" {
			continue
		}
		if _, ok := seen[p.RackID]; ok {
			continue
		}
		seen[p.RackID] = struct{}{}
		catalog = append(catalog, models.RackContext{
			RackID:  p.RackID,
			Name:    p.Name,
			Country: p.Country,
			Site:    p.Site,
			DC:      p.DC,
			Chain:   p.Chain,
		})
	}
	return catalog
}
