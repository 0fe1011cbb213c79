package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/device"
	"github.com/MrEthical07/goGate/jwt"
)

// LogoutInput identifies the access token being retired and, optionally, the
// refresh token of the same device.
type LogoutInput struct {
	SubjectID       string
	AccessTokenID   string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// LogoutResult reports what was retired.
type LogoutResult struct {
	Err error
	// DeviceID is set when the refresh token's device was deactivated.
	DeviceID string
	// RefreshIgnored is set when a refresh token was supplied but could not be
	// tied to the subject.
	RefreshIgnored bool
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	ParseRefresh func(string) (*jwt.Claims, error)
	Revocations  Revocations
	Devices      device.Store
	Now          func() time.Time
	// SubjectTTL is how long a logout-all marker must live: the longest
	// refresh lifetime.
	SubjectTTL time.Duration
}

// RunLogout blacklists the current access token and, when a refresh token of
// the same subject is supplied, blacklists it and deactivates its device.
func RunLogout(ctx context.Context, in LogoutInput, deps LogoutDeps) LogoutResult {
	now := deps.Now()
	if err := deps.Revocations.Revoke(ctx, in.AccessTokenID, ReasonLogout, in.AccessExpiresAt.Sub(now)); err != nil {
		return LogoutResult{Err: err}
	}

	token := strings.TrimSpace(in.RefreshToken)
	if token == "" {
		return LogoutResult{}
	}
	claims, err := deps.ParseRefresh(token)
	if err != nil || claims.Subject != in.SubjectID {
		// An expired refresh token needs no entry, and another subject's token
		// must not be revocable from here.
		return LogoutResult{RefreshIgnored: true}
	}
	if err := deps.Revocations.Revoke(ctx, claims.ID, ReasonLogout, claims.ExpiresAt.Time.Sub(now)); err != nil {
		return LogoutResult{Err: err}
	}
	if err := deps.Devices.Deactivate(ctx, claims.Subject, claims.DeviceID); err != nil && !errors.Is(err, device.ErrNotFound) {
		return LogoutResult{Err: err}
	}
	return LogoutResult{DeviceID: claims.DeviceID}
}

// RunLogoutAll writes the subject marker, which revokes every token issued up
// to now, then deactivates every device of the subject.
func RunLogoutAll(ctx context.Context, subjectID string, deps LogoutDeps) (int, error) {
	if err := deps.Revocations.RevokeSubject(ctx, subjectID, ReasonLogoutAll, deps.Now(), deps.SubjectTTL); err != nil {
		return 0, err
	}
	return deps.Devices.DeactivateAll(ctx, subjectID)
}
