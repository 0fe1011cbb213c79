package goGate

import (
	"context"
	"errors"
	"strconv"

	internalaudit "github.com/MrEthical07/goGate/internal/audit"
)

const (
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventRefreshSuccess     = "refresh_success"
	auditEventRefreshInvalid     = "refresh_invalid"
	auditEventRefreshReplay      = "refresh_replay_detected"
	auditEventLogout             = "logout"
	auditEventLogoutAll          = "logout_all"
	auditEventDeviceDeactivated  = "device_deactivated"
	auditEventPermissionDenied   = "permission_denied"
	auditEventPermissionUpdate   = "permission_update"
	auditEventRateLimitTriggered = "rate_limit_triggered"
	auditEventRateLimitFailOpen  = "rate_limit_fail_open"
)

// AuditErrorCode is the stable reason recorded on failed audit events.
type AuditErrorCode string

const (
	auditErrNoCredential       AuditErrorCode = "no_credential"
	auditErrMalformed          AuditErrorCode = "malformed_credential"
	auditErrExpired            AuditErrorCode = "expired_credential"
	auditErrRevoked            AuditErrorCode = "revoked_credential"
	auditErrSubject            AuditErrorCode = "subject_inactive_or_missing"
	auditErrReplay             AuditErrorCode = "replayed_refresh_token"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrPermission         AuditErrorCode = "insufficient_permission"
	auditErrUnavailable        AuditErrorCode = "store_unavailable"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
	deviceID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := internalaudit.Event{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		SubjectID: subjectID,
		DeviceID:  deviceID,
		IP:        clientIPFromContext(ctx),
		Route:     routeFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, d RateLimitDecision) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", ErrRateLimitExceeded, func() map[string]string {
		return map[string]string{
			"scope":       scope,
			"limit":       strconv.Itoa(d.Limit),
			"retry_after": d.RetryAfter.String(),
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrNoCredential):
		return auditErrNoCredential
	case errors.Is(err, ErrExpiredCredential):
		return auditErrExpired
	case errors.Is(err, ErrRevokedCredential):
		return auditErrRevoked
	case errors.Is(err, ErrSubjectInactiveOrMissing):
		return auditErrSubject
	case errors.Is(err, ErrReplayedRefreshToken):
		return auditErrReplay
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrMalformedCredential):
		return auditErrMalformed
	case errors.Is(err, ErrRateLimitExceeded):
		return auditErrRateLimited
	case errors.Is(err, ErrInsufficientPermission):
		return auditErrPermission
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	default:
		return auditErrInternal
	}
}
