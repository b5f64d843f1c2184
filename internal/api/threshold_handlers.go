package api

import (
	"encoding/json"
	"net/http"
)

// handleThresholds serves and mutates the global threshold config.
//
//	GET  /api/thresholds          list global entries
//	PUT  /api/thresholds          bulk upsert, body {key: value, ...}
func (rt *Router) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := rt.monitor.Thresholds().ListGlobal(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"thresholds": entries})

	case http.MethodPut:
		role := rt.roleFor(r)
		if !canEditThresholds(role) {
			forbid(w, role)
			return
		}
		values, ok := decodeThresholdBody(w, r)
		if !ok {
			return
		}
		if err := rt.monitor.Thresholds().BulkPutGlobal(r.Context(), values); err != nil {
			writeStoreError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"updated": len(values)})

	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET and PUT are supported")
	}
}

// handleRackThresholds serves and mutates per-rack overrides.
//
//	GET    /api/racks/{rack}/thresholds   {global[], rackSpecific[]}
//	PUT    /api/racks/{rack}/thresholds   bulk upsert overrides
//	DELETE /api/racks/{rack}/thresholds   drop all overrides for the rack
func (rt *Router) handleRackThresholds(w http.ResponseWriter, r *http.Request, rackID string) {
	store := rt.monitor.Thresholds()

	switch r.Method {
	case http.MethodGet:
		global, err := store.ListGlobal(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		rack, err := store.ListRack(r.Context(), rackID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{
			"global":       global,
			"rackSpecific": rack,
		})

	case http.MethodPut:
		role := rt.roleFor(r)
		if !canEditThresholds(role) {
			forbid(w, role)
			return
		}
		values, ok := decodeThresholdBody(w, r)
		if !ok {
			return
		}
		if err := store.BulkPutRack(r.Context(), rackID, values); err != nil {
			writeStoreError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"rackId": rackID, "updated": len(values)})

	case http.MethodDelete:
		role := rt.roleFor(r)
		if !canEditThresholds(role) {
			forbid(w, role)
			return
		}
		if err := store.DeleteRack(r.Context(), rackID); err != nil {
			writeStoreError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"rackId": rackID, "deleted": true})

	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET, PUT, and DELETE are supported")
	}
}

// decodeThresholdBody parses a {key: value} object. It reports the parse
// failure itself; key and value validation is the store's job so a bad
// batch never half-applies.
func decodeThresholdBody(w http.ResponseWriter, r *http.Request) (map[string]float64, bool) {
	var values map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_body", "body must be a JSON object of key to numeric value")
		return nil, false
	}
	if len(values) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_body", "no threshold values provided")
		return nil, false
	}
	return values, true
}
