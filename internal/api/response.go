package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rackwatch/rackwatch/internal/maintenance"
	"github.com/rackwatch/rackwatch/internal/thresholds"
	"github.com/rs/zerolog/log"
)

// APIError is the structured error envelope every failed request returns.
type APIError struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	StatusCode int    `json:"status_code"`
	Timestamp  int64  `json:"timestamp"`
	RequestID  string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeSuccess writes the success envelope: the handler's fields plus
// "success": true at the top level.
func writeSuccess(w http.ResponseWriter, status int, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	writeJSON(w, status, body)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	resp := APIError{
		Success:    false,
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Timestamp:  time.Now().Unix(),
	}
	if rw, ok := w.(*responseWriter); ok {
		resp.RequestID = rw.requestID
	}
	writeJSON(w, statusCode, resp)
}

// writeStoreError maps store sentinels to HTTP statuses. Anything not in
// the closed taxonomy is a 500 with a generic message; the raw error is
// only logged.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, thresholds.ErrInvalidKey):
		writeErrorResponse(w, http.StatusBadRequest, "invalid_threshold_key", err.Error())
	case errors.Is(err, thresholds.ErrInvalidValue):
		writeErrorResponse(w, http.StatusBadRequest, "invalid_threshold_value", err.Error())
	case errors.Is(err, thresholds.ErrNotFound), errors.Is(err, maintenance.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, maintenance.ErrAlreadyInMaintenance):
		writeErrorResponse(w, http.StatusConflict, "already_in_maintenance", err.Error())
	case errors.Is(err, maintenance.ErrNoRacksFound):
		writeErrorResponse(w, http.StatusNotFound, "no_racks_found", err.Error())
	default:
		log.Error().Err(err).Msg("Store operation failed")
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
