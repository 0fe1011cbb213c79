package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goGate/jwt"
)

// AuthenticateFailureKind classifies pipeline failures for root-level mapping.
type AuthenticateFailureKind int

const (
	AuthenticateFailureNone AuthenticateFailureKind = iota
	AuthenticateFailureNoCredential
	AuthenticateFailureMalformed
	AuthenticateFailureBlacklistUnavailable
	AuthenticateFailureRevoked
	AuthenticateFailureExpired
	AuthenticateFailureSubject
	AuthenticateFailureSubjectStore
)

// AuthenticateResult carries the verified claims and live subject, or the
// failure and the last state reached.
type AuthenticateResult struct {
	Failure AuthenticateFailureKind
	Err     error
	Reached PipelineState
	Claims  *jwt.Claims
	Subject SubjectView
	// Reason is the blacklist reason when Failure is AuthenticateFailureRevoked.
	Reason string
}

// AuthenticateDeps captures the request pipeline's dependencies.
type AuthenticateDeps struct {
	Peek           func(string) (*jwt.Claims, error)
	ParseAccess    func(string) (*jwt.Claims, error)
	Revocations    Revocations
	LoadSubject    func(context.Context, string) (SubjectView, error)
	SubjectMissing error
}

// RunAuthenticate drives an access token through every pipeline state up to
// SubjectStatusVerified. The blacklist lookup runs on every call and a store
// failure ends the pipeline.
func RunAuthenticate(ctx context.Context, token string, deps AuthenticateDeps) AuthenticateResult {
	token = strings.TrimSpace(token)
	if token == "" {
		return AuthenticateResult{Failure: AuthenticateFailureNoCredential, Reached: StateNoCredential}
	}

	peeked, err := deps.Peek(token)
	if err != nil || peeked.ID == "" || peeked.Subject == "" || peeked.IssuedAt == nil {
		if err == nil {
			err = jwt.ErrTokenMalformed
		}
		return AuthenticateResult{Failure: AuthenticateFailureMalformed, Err: err, Reached: StateNoCredential}
	}

	verdict, err := deps.Revocations.Check(ctx, peeked.ID, peeked.Subject, peeked.IssuedAt.Time)
	if err != nil {
		return AuthenticateResult{Failure: AuthenticateFailureBlacklistUnavailable, Err: err, Reached: StateCredentialExtracted}
	}
	if verdict.Revoked {
		return AuthenticateResult{
			Failure: AuthenticateFailureRevoked,
			Reached: StateCredentialExtracted,
			Reason:  verdict.Scope.String() + ":" + verdict.Reason,
		}
	}

	claims, err := deps.ParseAccess(token)
	if err != nil {
		failure := AuthenticateFailureMalformed
		if errors.Is(err, jwt.ErrTokenExpired) {
			failure = AuthenticateFailureExpired
		}
		return AuthenticateResult{Failure: failure, Err: err, Reached: StateBlacklistChecked}
	}
	subject, err := deps.LoadSubject(ctx, claims.Subject)
	if err != nil {
		if deps.SubjectMissing != nil && errors.Is(err, deps.SubjectMissing) {
			return AuthenticateResult{Failure: AuthenticateFailureSubject, Err: err, Reached: StateSignatureVerified, Claims: claims}
		}
		return AuthenticateResult{Failure: AuthenticateFailureSubjectStore, Err: err, Reached: StateSignatureVerified, Claims: claims}
	}
	if !subject.Usable || subject.ID != claims.Subject {
		return AuthenticateResult{Failure: AuthenticateFailureSubject, Reached: StateSignatureVerified, Claims: claims}
	}

	return AuthenticateResult{Reached: StateSubjectStatusVerified, Claims: claims, Subject: subject}
}
