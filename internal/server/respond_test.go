package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/simdesk/simdesk/internal/domain"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	s := &Server{log: zerolog.Nop()}

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid", fmt.Errorf("qty must be positive: %w", domain.ErrInvalid), http.StatusBadRequest},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", fmt.Errorf("managers only: %w", domain.ErrForbidden), http.StatusForbidden},
		{"not found", fmt.Errorf("order abc: %w", domain.ErrNotFound), http.StatusNotFound},
		{"insufficient funds", domain.ErrInsufficientFunds, http.StatusBadRequest},
		{"insufficient units", domain.ErrInsufficientUnits, http.StatusBadRequest},
		{"risk blocked", domain.ErrRiskBlocked, http.StatusBadRequest},
		{"deploy gate", domain.ErrDeployGate, http.StatusBadRequest},
		{"storage down", fmt.Errorf("failed to insert order: %w", domain.ErrStorageUnavailable), http.StatusServiceUnavailable},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.writeError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	s := &Server{log: zerolog.Nop()}

	rec := httptest.NewRecorder()
	s.writeError(rec, errors.New("dsn=secret://creds"))
	assert.NotContains(t, rec.Body.String(), "secret", "unclassified errors stay opaque")
	assert.Contains(t, rec.Body.String(), "internal error")

	rec = httptest.NewRecorder()
	s.writeError(rec, fmt.Errorf("failed to load candles: %w", domain.ErrStorageUnavailable))
	assert.Contains(t, rec.Body.String(), "db_unavailable")
}
