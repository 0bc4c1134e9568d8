package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/simdesk/simdesk/internal/auth"
	"github.com/simdesk/simdesk/internal/domain"
)

const defaultStartingCash = 100_000.0

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 || len(req.Password) < 8 {
		s.writeInvalid(w, "username must be 3+ chars and password 8+ chars")
		return
	}

	if _, err := s.store.Users.GetByUsername(req.Username); err == nil {
		s.writeInvalid(w, "username already taken")
		return
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.writeError(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	user := &domain.User{
		Username:     req.Username,
		PasswordHash: hash,
		Cash:         defaultStartingCash,
		StartingCash: defaultStartingCash,
		Role:         "user",
	}
	if err := s.store.Users.Insert(user); err != nil {
		s.writeError(w, err)
		return
	}

	token, err := s.auth.Mint(user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("username", user.Username).Int64("user_id", user.ID).Msg("User registered")
	s.writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.writeInvalid(w, "malformed body")
		return
	}

	user, err := s.store.Users.GetByUsername(strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, fmt.Errorf("bad credentials: %w", domain.ErrUnauthorized))
			return
		}
		s.writeError(w, err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.writeError(w, fmt.Errorf("bad credentials: %w", domain.ErrUnauthorized))
		return
	}

	token, err := s.auth.Mint(user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.Users.GetByID(principal(r).UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}
