package api

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Role names resolved from the static token map. The gate only cares
// about which role may call which mutation.
const (
	RoleAdmin      = "admin"
	RoleOperator   = "operator"
	RoleTechnician = "technician"
	RoleObserver   = "observer"
)

// responseWriter captures the status code for logging and carries the
// request id into error envelopes.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	requestID  string
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// ErrorHandler wraps the mux: assigns a request id, recovers panics into
// 500 envelopes, and logs failed requests.
func ErrorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, requestID: requestID}
		rw.Header().Set("X-Request-ID", requestID)

		start := time.Now()

		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Str("request_id", requestID).
					Bytes("stack", debug.Stack()).
					Msg("Panic recovered in API handler")

				writeErrorResponse(rw, http.StatusInternalServerError, "internal_error",
					"An unexpected error occurred")
			}
		}()

		next.ServeHTTP(rw, r)

		if rw.statusCode >= 400 {
			log.Warn().
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Int("status", rw.statusCode).
				Str("request_id", requestID).
				Dur("took", time.Since(start)).
				Msg("Request failed")
		}
	})
}

// roleFor resolves the caller's role from the bearer token. An empty token
// map means authentication is disabled and every caller is an admin; with
// tokens configured, unknown or missing tokens fall back to observer.
func (rt *Router) roleFor(r *http.Request) string {
	if len(rt.tokens) == 0 {
		return RoleAdmin
	}
	auth := r.Header.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return RoleObserver
	}
	if role, ok := rt.tokens[token]; ok {
		return role
	}
	return RoleObserver
}

// canEditThresholds reports whether the role may mutate threshold config.
func canEditThresholds(role string) bool {
	return role == RoleAdmin || role == RoleOperator
}

// canManageMaintenance reports whether the role may start or end
// maintenance. Technicians get this plus export, nothing more.
func canManageMaintenance(role string) bool {
	return role == RoleAdmin || role == RoleOperator || role == RoleTechnician
}

func canExport(role string) bool {
	return canManageMaintenance(role)
}

// forbid writes the 403 envelope. Handlers call it before doing any work
// so a denied request has no side effects.
func forbid(w http.ResponseWriter, role string) {
	writeErrorResponse(w, http.StatusForbidden, "forbidden",
		"role "+role+" is not permitted to perform this operation")
}
