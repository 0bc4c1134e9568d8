package domain

import "errors"

// Sentinel errors classify failures across the platform. Call sites wrap
// them with context via %w; the HTTP boundary maps each kind to a status.
var (
	// ErrInvalid marks a request or configuration that fails validation.
	ErrInvalid = errors.New("invalid input")

	// ErrUnauthorized marks a missing or unverifiable credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden marks a valid principal lacking the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound marks a lookup that matched no row.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds marks a cash balance too small for the move.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientUnits marks a withdrawal exceeding the investor's
	// unit holding.
	ErrInsufficientUnits = errors.New("insufficient units")

	// ErrRiskBlocked marks a strategy signal stopped by a risk rule.
	ErrRiskBlocked = errors.New("blocked by risk limits")

	// ErrDeployGate marks a strategy start without a passing backtest
	// for the current configuration.
	ErrDeployGate = errors.New("no passing backtest for current config")

	// ErrStorageUnavailable marks an operation abandoned because both
	// storage endpoints are unreachable after retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
