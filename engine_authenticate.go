package goGate

import (
	"context"
	"time"

	internalflows "github.com/MrEthical07/goGate/internal/flows"
)

// Authenticate runs an access token through the request pipeline: extract,
// blacklist, verify signature and expiry, re-check the subject's live status.
// The blacklist lookup is never skipped; if the store is down the token is
// refused. Every failure is an *AuthError with the same message.
func (e *Engine) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if e == nil || e.subjects == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	res := internalflows.RunAuthenticate(ctx, token, e.flows.Authenticate)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}

	if res.Failure != internalflows.AuthenticateFailureNone {
		err := authenticateError(res)
		e.metricInc(MetricAuthenticateFailure)
		switch res.Failure {
		case internalflows.AuthenticateFailureRevoked:
			e.metricInc(MetricRevokedTokenRejected)
		case internalflows.AuthenticateFailureBlacklistUnavailable:
			e.metricInc(MetricBlacklistUnavailable)
			e.logger.Error().Err(res.Err).
				Str("policy", e.config.Blacklist.Policy.String()).
				Str("client_ip", clientIPFromContext(ctx)).
				Str("route", routeFromContext(ctx)).
				Msg("blacklist unavailable, refusing token")
		}
		subjectID := ""
		if res.Claims != nil {
			subjectID = res.Claims.Subject
		}
		if res.Failure != internalflows.AuthenticateFailureNoCredential {
			e.logDenied(ctx, "authenticate:"+res.Reached.String(), subjectID, reasonOf(err))
		}
		return nil, err
	}

	e.metricInc(MetricAuthenticateSuccess)
	return &Identity{
		SubjectID: res.Subject.ID,
		Email:     res.Subject.Email,
		Roles:     res.Subject.Roles,
		TokenID:   res.Claims.ID,
		IssuedAt:  res.Claims.IssuedAt.Time,
		ExpiresAt: res.Claims.ExpiresAt.Time,
	}, nil
}

func authenticateError(res internalflows.AuthenticateResult) *AuthError {
	switch res.Failure {
	case internalflows.AuthenticateFailureNoCredential:
		return newAuthError(ErrNoCredential, nil)
	case internalflows.AuthenticateFailureExpired:
		return newAuthError(ErrExpiredCredential, res.Err)
	case internalflows.AuthenticateFailureRevoked:
		return &AuthError{Kind: ErrRevokedCredential, Cause: revokedReason(res.Reason)}
	case internalflows.AuthenticateFailureBlacklistUnavailable, internalflows.AuthenticateFailureSubjectStore:
		return newAuthError(ErrStoreUnavailable, res.Err)
	case internalflows.AuthenticateFailureSubject:
		return newAuthError(ErrSubjectInactiveOrMissing, res.Err)
	default:
		return newAuthError(ErrMalformedCredential, res.Err)
	}
}

type revokedReason string

func (r revokedReason) Error() string { return string(r) }
