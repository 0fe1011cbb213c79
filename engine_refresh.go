package goGate

import (
	"context"

	internalflows "github.com/MrEthical07/goGate/internal/flows"
)

// Refresh rotates a refresh token. The new pair is bound to the same device
// and lineage, with the refresh lifetime of the device's class, and the old
// token is blacklisted. Once the device has recorded the new token the pair is
// returned even if that blacklist write fails; the failure is logged and
// counted under MetricRefreshRetireFailed.
//
// A refresh token presented a second time is reported as a replay and, with
// Device.RevokeOnReplay, deactivates the device. Inactive and unknown devices
// fail with the same generic error.
func (e *Engine) Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	if e == nil || e.subjects == nil || e.devices == nil {
		return nil, ErrEngineNotReady
	}

	res := internalflows.RunRefresh(ctx, internalflows.RefreshInput{
		RefreshToken: req.RefreshToken,
		DeviceID:     req.DeviceID,
	}, e.flows.Refresh)

	if res.Failure != internalflows.RefreshFailureNone {
		err := refreshError(res)
		e.metricInc(MetricRefreshFailure)
		event := auditEventRefreshInvalid
		if res.Failure == internalflows.RefreshFailureReplay {
			e.metricInc(MetricReplayDetected)
			event = auditEventRefreshReplay
			if res.DeviceRevoked {
				e.metricInc(MetricDeviceDeactivated)
			}
		}
		e.emitAudit(ctx, event, false, res.SubjectID, res.DeviceID, err, func() map[string]string {
			if !res.DeviceRevoked {
				return nil
			}
			return map[string]string{"device_revoked": "true"}
		})
		if res.Failure != internalflows.RefreshFailureNoCredential {
			e.logDenied(ctx, "refresh", res.SubjectID, reasonOf(err))
		}
		return nil, err
	}

	if res.RetireErr != nil {
		e.metricInc(MetricRefreshRetireFailed)
	}
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.SubjectID, res.DeviceID, nil, nil)
	return tokenPair(res.Pair), nil
}

func refreshError(res internalflows.RefreshResult) error {
	switch res.Failure {
	case internalflows.RefreshFailureNoCredential:
		return newAuthError(ErrNoCredential, nil)
	case internalflows.RefreshFailureExpired:
		return newAuthError(ErrExpiredCredential, res.Err)
	case internalflows.RefreshFailureRevoked:
		return newAuthError(ErrRevokedCredential, nil)
	case internalflows.RefreshFailureSubject:
		return newAuthError(ErrSubjectInactiveOrMissing, res.Err)
	case internalflows.RefreshFailureReplay:
		return newAuthError(ErrReplayedRefreshToken, res.Err)
	case internalflows.RefreshFailureDevice:
		return newAuthError(ErrRevokedCredential, res.Err)
	case internalflows.RefreshFailureBlacklistUnavailable,
		internalflows.RefreshFailureSubjectStore,
		internalflows.RefreshFailureDeviceStore:
		return newAuthError(ErrStoreUnavailable, res.Err)
	case internalflows.RefreshFailureIssue:
		return res.Err
	default:
		return newAuthError(ErrMalformedCredential, res.Err)
	}
}
