package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/simdesk/simdesk/internal/domain"
)

type contextKey string

const principalKey contextKey = "principal"

// requireAuth verifies the bearer token and stores the principal in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeError(w, fmt.Errorf("missing bearer token: %w", domain.ErrUnauthorized))
			return
		}

		principal, err := s.auth.Verify(token)
		if err != nil {
			s.writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal returns the authenticated caller. Only valid behind requireAuth.
func principal(r *http.Request) domain.Principal {
	p, _ := r.Context().Value(principalKey).(domain.Principal)
	return p
}

// fundIDParam parses the {fundID} URL parameter.
func fundIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "fundID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad fund id: %w", domain.ErrInvalid)
	}
	return id, nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad %s: %w", name, domain.ErrInvalid)
	}
	return id, nil
}

// requireMember loads the caller's membership in a fund. Any role passes.
func (s *Server) requireMember(r *http.Request, fundID int64) (*domain.FundMember, error) {
	m, err := s.store.Funds.GetMember(fundID, principal(r).UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("not a member of this fund: %w", domain.ErrForbidden)
		}
		return nil, err
	}
	return m, nil
}

// requireManager passes for owners and analysts; clients are read-only.
func (s *Server) requireManager(r *http.Request, fundID int64) (*domain.FundMember, error) {
	m, err := s.requireMember(r, fundID)
	if err != nil {
		return nil, err
	}
	if m.Role == domain.FundRoleClient {
		return nil, fmt.Errorf("clients cannot modify the fund: %w", domain.ErrForbidden)
	}
	return m, nil
}

// requireOwner passes only for the fund owner.
func (s *Server) requireOwner(r *http.Request, fundID int64) (*domain.FundMember, error) {
	m, err := s.requireMember(r, fundID)
	if err != nil {
		return nil, err
	}
	if m.Role != domain.FundRoleOwner {
		return nil, fmt.Errorf("owner role required: %w", domain.ErrForbidden)
	}
	return m, nil
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
