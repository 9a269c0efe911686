package agriauth

import "errors"

var (
	// ErrRateLimited is returned when a rate window for the caller is exhausted.
	ErrRateLimited = errors.New("too many requests")
	// ErrInvalidCredentials covers unknown accounts, inactive accounts, and wrong
	// passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRiskRejected is returned when the risk score reaches the block threshold.
	ErrRiskRejected = errors.New("login rejected")
	// ErrInvalidOrExpiredChallenge covers unknown, expired, consumed, and
	// mismatched MFA challenges.
	ErrInvalidOrExpiredChallenge = errors.New("invalid or expired challenge")
	// ErrTokenInvalid covers malformed, tampered, and expired tokens.
	ErrTokenInvalid = errors.New("unauthorized")
	// ErrDownstreamUnavailable marks a failed best-effort collaborator call.
	// It is logged and never returned from the login decision.
	ErrDownstreamUnavailable = errors.New("downstream unavailable")
	// ErrBackendUnavailable is returned when a required store cannot be reached.
	ErrBackendUnavailable = errors.New("auth backend unavailable")
	// ErrValidation is the root of every input validation failure.
	ErrValidation = errors.New("validation failed")
	// ErrAccountExists is returned by stores and Register on a duplicate email.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is returned by stores when a lookup misses.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountConflict is returned by stores when an Update carries a stale
	// Version because the record changed after it was read.
	ErrAccountConflict = errors.New("account modified concurrently")
	// ErrInvalidOrExpiredToken covers unknown, expired, consumed, and
	// mismatched password reset and email verification tokens.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrIdentityLinked is returned when an external identity already
	// belongs to a different account, or the account already carries a
	// different subject for that provider.
	ErrIdentityLinked = errors.New("external identity already linked")
	// ErrForbidden is returned when the caller's role lacks a permission.
	ErrForbidden = errors.New("forbidden")
	// ErrEngineNotReady is returned by methods on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ValidationError describes one rejected input field. It matches
// [ErrValidation] under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return "validation failed: " + e.Field + ": " + e.Message
}

// Unwrap ties the error to [ErrValidation].
func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
