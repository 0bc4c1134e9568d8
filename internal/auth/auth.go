// Package auth provides password hashing and token mint/verify. The hub
// and the HTTP middleware consume only Verify.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/simdesk/simdesk/internal/domain"
)

const tokenTTL = 24 * time.Hour

// Service mints and verifies HS256 session tokens.
type Service struct {
	secret []byte
}

// NewService requires a non-empty signing secret.
func NewService(secret string) (*Service, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret must not be empty")
	}
	return &Service{secret: []byte(secret)}, nil
}

// HashPassword returns the bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a candidate against the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Mint issues a signed token for the user.
func (s *Service) Mint(u *domain.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the principal it identifies.
func (s *Service) Verify(tokenString string) (domain.Principal, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return domain.Principal{}, fmt.Errorf("invalid token: %w", domain.ErrUnauthorized)
	}

	var userID int64
	if _, err := fmt.Sscanf(c.Subject, "%d", &userID); err != nil {
		return domain.Principal{}, fmt.Errorf("malformed subject: %w", domain.ErrUnauthorized)
	}
	return domain.Principal{
		UserID:   userID,
		Username: c.Username,
		Role:     c.Role,
	}, nil
}
