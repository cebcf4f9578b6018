package api

import (
	"encoding/json"
	"net/http"

	"shop-integrations-layer/internal/domain"

	"github.com/rs/zerolog"
)

// statusFor maps an error kind to the HTTP status returned to clients
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAuthentication:
		return http.StatusUnauthorized
	case domain.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the only error text clients see. Causes stay in the logs.
func publicMessage(kind domain.Kind) string {
	switch kind {
	case domain.KindValidation:
		return "invalid request"
	case domain.KindNotFound:
		return "not found"
	case domain.KindAuthentication:
		return "unauthorized"
	case domain.KindUpstream:
		return "upstream service unavailable"
	default:
		return "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs err and writes a generic JSON error for its kind
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	writeErrorStatus(w, r, logger, err, statusFor(domain.KindOf(err)))
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error, status int) {
	kind := domain.KindOf(err)
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).
		Str("kind", kind.String()).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("Request failed")
	writeJSON(w, status, map[string]string{"error": publicMessage(kind)})
}
