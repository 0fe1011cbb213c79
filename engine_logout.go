package goGate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/device"
	internalflows "github.com/MrEthical07/goGate/internal/flows"
)

// Logout blacklists the caller's access token for the rest of its lifetime.
// When refreshToken belongs to the same subject it is blacklisted too and its
// device deactivated.
func (e *Engine) Logout(ctx context.Context, id *Identity, refreshToken string) error {
	if e == nil || e.blacklist == nil {
		return ErrEngineNotReady
	}
	if id == nil || id.TokenID == "" {
		return newAuthError(ErrNoCredential, nil)
	}

	res := internalflows.RunLogout(ctx, internalflows.LogoutInput{
		SubjectID:       id.SubjectID,
		AccessTokenID:   id.TokenID,
		AccessExpiresAt: id.ExpiresAt,
		RefreshToken:    refreshToken,
	}, e.flows.Logout)
	if res.Err != nil {
		e.emitAudit(ctx, auditEventLogout, false, id.SubjectID, "", res.Err, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	}
	if res.RefreshIgnored {
		e.logger.Info().
			Str("subject_id", id.SubjectID).
			Str("route", routeFromContext(ctx)).
			Msg("logout refresh token ignored")
	}
	if res.DeviceID != "" {
		e.metricInc(MetricDeviceDeactivated)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, id.SubjectID, res.DeviceID, nil, nil)
	return nil
}

// LogoutAll revokes every token the subject holds, on every device. Tokens
// issued after the current second remain usable.
func (e *Engine) LogoutAll(ctx context.Context, subjectID string) error {
	if e == nil || e.blacklist == nil {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(subjectID) == "" {
		return errors.New("empty subject id")
	}

	n, err := internalflows.RunLogoutAll(ctx, subjectID, e.flows.Logout)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, subjectID, "", err, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, subjectID, "", nil, func() map[string]string {
		return map[string]string{"devices": fmt.Sprint(n)}
	})
	return nil
}

// RevokeToken blacklists one token id for ttl, normally the token's remaining
// lifetime. A non-positive ttl is a no-op.
func (e *Engine) RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if e == nil || e.blacklist == nil {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(tokenID) == "" {
		return errors.New("empty token id")
	}
	if err := e.blacklist.Revoke(ctx, tokenID, internalflows.ReasonRevoked, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

/*
====================================
DEVICES
====================================
*/

// DeactivateDevice ends one device lineage of the subject. Other devices keep
// working. It returns device.ErrNotFound for a device the subject does not own.
func (e *Engine) DeactivateDevice(ctx context.Context, subjectID, deviceID string) error {
	if e == nil || e.devices == nil {
		return ErrEngineNotReady
	}
	if err := e.devices.Deactivate(ctx, subjectID, deviceID); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricDeviceDeactivated)
	e.emitAudit(ctx, auditEventDeviceDeactivated, true, subjectID, deviceID, nil, nil)
	return nil
}

// ListDevices returns the subject's active devices, most recently seen first.
func (e *Engine) ListDevices(ctx context.Context, subjectID string) ([]device.Device, error) {
	if e == nil || e.devices == nil {
		return nil, ErrEngineNotReady
	}
	devices, err := e.devices.ListActive(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return devices, nil
}
