package goGate

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGate/internal/rate"
)

var (
	// ErrUnauthorized is the only text a caller ever sees for an authentication failure.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoCredential means no bearer token was presented.
	ErrNoCredential = errors.New("no credential")
	// ErrMalformedCredential covers bad encoding, bad signature, wrong algorithm and wrong kind.
	ErrMalformedCredential = errors.New("malformed credential")
	// ErrExpiredCredential means the token is past its expiry.
	ErrExpiredCredential = errors.New("expired credential")
	// ErrRevokedCredential means a blacklist entry covers the token or its subject.
	ErrRevokedCredential = errors.New("revoked credential")
	// ErrSubjectInactiveOrMissing means the subject no longer exists, was deleted or is inactive.
	ErrSubjectInactiveOrMissing = errors.New("subject inactive or missing")
	// ErrReplayedRefreshToken means a superseded refresh token was presented again.
	ErrReplayedRefreshToken = errors.New("replayed refresh token")
	// ErrSubjectNotFound is returned by a SubjectProvider for an unknown id or email.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrInvalidCredentials means the login email or password did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrRateLimitExceeded is matched by every *RateLimitError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInsufficientPermission is returned by Authorize.
	ErrInsufficientPermission = errors.New("insufficient permission")
	// ErrStoreUnavailable wraps failures of Redis or Postgres.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned when a required component was not wired.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// AuthError is every authentication failure. Error always returns the generic
// text so nothing distinguishes one failure from another on the wire.
// errors.Is still matches both ErrUnauthorized and the specific kind.
type AuthError struct {
	Kind error
	// Cause is the underlying failure, kept for logs.
	Cause error
}

func newAuthError(kind, cause error) *AuthError {
	return &AuthError{Kind: kind, Cause: cause}
}

func (e *AuthError) Error() string {
	return ErrUnauthorized.Error()
}

func (e *AuthError) Unwrap() []error {
	out := []error{ErrUnauthorized}
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Reason is the loggable kind of the failure.
func (e *AuthError) Reason() string {
	if e == nil || e.Kind == nil {
		return ErrUnauthorized.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.Error()
}

// RateLimitError carries the decision that denied the request.
type RateLimitError struct {
	Decision rate.Decision
}

func (e *RateLimitError) Error() string {
	return ErrRateLimitExceeded.Error()
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// RetryAfter is the time until the window resets, at least one second.
func (e *RateLimitError) RetryAfter() time.Duration {
	if e == nil || e.Decision.RetryAfter < time.Second {
		return time.Second
	}
	return e.Decision.RetryAfter
}
