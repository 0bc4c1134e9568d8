package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/simdesk/simdesk/internal/domain"
)

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps a domain error onto the {error: ...} response shape.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, domain.ErrStorageUnavailable):
		status, message = http.StatusServiceUnavailable, "db_unavailable"
	case errors.Is(err, domain.ErrUnauthorized):
		status, message = http.StatusUnauthorized, err.Error()
	case errors.Is(err, domain.ErrForbidden):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrInvalid),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientUnits),
		errors.Is(err, domain.ErrRiskBlocked),
		errors.Is(err, domain.ErrDeployGate):
		status, message = http.StatusBadRequest, err.Error()
	default:
		s.log.Error().Err(err).Msg("Unhandled request error")
	}

	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeInvalid is the shortcut for request shape problems.
func (s *Server) writeInvalid(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

// decode reads a JSON body into v.
func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}
