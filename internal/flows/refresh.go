package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/blacklist"
	"github.com/MrEthical07/goGate/device"
	"github.com/MrEthical07/goGate/jwt"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNoCredential
	RefreshFailureDecode
	RefreshFailureExpired
	RefreshFailureBlacklistUnavailable
	RefreshFailureRevoked
	RefreshFailureSubject
	RefreshFailureSubjectStore
	RefreshFailureIssue
	RefreshFailureReplay
	RefreshFailureDevice
	RefreshFailureDeviceStore
)

// IssuedPair is a freshly minted access and refresh token.
type IssuedPair struct {
	Access        string
	AccessClaims  *jwt.Claims
	Refresh       string
	RefreshClaims *jwt.Claims
}

// RefreshResult carries either the issued pair or failure metadata.
type RefreshResult struct {
	Failure   RefreshFailureKind
	Err       error
	SubjectID string
	DeviceID  string
	Pair      IssuedPair
	// DeviceRevoked is set when a replay deactivated the device.
	DeviceRevoked bool
	// RetireErr is set when the pair was issued but the old token id could
	// not be blacklisted. The device hash already refuses the old token.
	RetireErr error
}

// RefreshDeps captures refresh rotation dependencies.
type RefreshDeps struct {
	ParseRefresh   func(string) (*jwt.Claims, error)
	Revocations    Revocations
	LoadSubject    func(context.Context, string) (SubjectView, error)
	SubjectMissing error
	IssuePair      func(SubjectView, jwt.RefreshBinding, time.Duration) (IssuedPair, error)
	RefreshTTL     func(device.Class) time.Duration
	Devices        device.Store
	Now            func() time.Time
	RevokeOnReplay bool
	Warn           func(string, error)
}

// RefreshInput is one refresh call. DeviceID, when set, must match the device
// bound into the token.
type RefreshInput struct {
	RefreshToken string
	DeviceID     string
}

// RunRefresh verifies a refresh token, issues a new pair bound to the same
// device and swaps the device's recorded hash. The old token id is then
// blacklisted. Once the swap has committed the pair is always returned: a
// failed blacklist write is reported in RetireErr, since the swapped hash
// already refuses the old token. Of several concurrent calls with one token at
// most one succeeds; the rest report a replay.
func RunRefresh(ctx context.Context, in RefreshInput, deps RefreshDeps) RefreshResult {
	refreshToken := strings.TrimSpace(in.RefreshToken)
	if refreshToken == "" {
		return RefreshResult{Failure: RefreshFailureNoCredential}
	}

	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		failure := RefreshFailureDecode
		if errors.Is(err, jwt.ErrTokenExpired) {
			failure = RefreshFailureExpired
		}
		return RefreshResult{Failure: failure, Err: err}
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: jwt.ErrTokenMalformed}
	}
	base := RefreshResult{SubjectID: claims.Subject, DeviceID: claims.DeviceID}
	if in.DeviceID != "" && in.DeviceID != claims.DeviceID {
		base.Failure, base.Err = RefreshFailureDevice, device.ErrNotFound
		return base
	}

	verdict, err := deps.Revocations.Check(ctx, claims.ID, claims.Subject, claims.IssuedAt.Time)
	if err != nil {
		base.Failure, base.Err = RefreshFailureBlacklistUnavailable, err
		return base
	}
	if verdict.Revoked {
		if verdict.Scope == blacklist.ScopeToken && verdict.Reason == ReasonRotated {
			return replay(ctx, base, claims, deps)
		}
		base.Failure = RefreshFailureRevoked
		return base
	}

	subject, err := deps.LoadSubject(ctx, claims.Subject)
	if err != nil {
		base.Failure, base.Err = RefreshFailureSubjectStore, err
		if deps.SubjectMissing != nil && errors.Is(err, deps.SubjectMissing) {
			base.Failure = RefreshFailureSubject
		}
		return base
	}
	if !subject.Usable || subject.ID != claims.Subject {
		base.Failure = RefreshFailureSubject
		return base
	}

	class := device.Class(claims.DeviceClass)
	ttl := deps.RefreshTTL(class)
	pair, err := deps.IssuePair(subject, jwt.RefreshBinding{
		SubjectID:   claims.Subject,
		DeviceID:    claims.DeviceID,
		Family:      claims.Family,
		DeviceClass: string(class),
	}, ttl)
	if err != nil {
		base.Failure, base.Err = RefreshFailureIssue, err
		return base
	}

	now := deps.Now()
	err = deps.Devices.Rotate(ctx, device.RotateRequest{
		SubjectID: claims.Subject,
		DeviceID:  claims.DeviceID,
		Presented: device.HashToken(refreshToken),
		Next:      device.HashToken(pair.Refresh),
		SeenAt:    now,
		TTL:       ttl,
	})
	switch {
	case err == nil:
	case errors.Is(err, device.ErrHashMismatch):
		return replay(ctx, base, claims, deps)
	case errors.Is(err, device.ErrNotFound), errors.Is(err, device.ErrInactive):
		base.Failure, base.Err = RefreshFailureDevice, err
		return base
	default:
		base.Failure, base.Err = RefreshFailureDeviceStore, err
		return base
	}

	if err := deps.Revocations.Revoke(ctx, claims.ID, ReasonRotated, claims.ExpiresAt.Time.Sub(now)); err != nil {
		base.RetireErr = err
		if deps.Warn != nil {
			deps.Warn("blacklisting rotated refresh token failed", err)
		}
	}

	base.Pair = pair
	return base
}

func replay(ctx context.Context, base RefreshResult, claims *jwt.Claims, deps RefreshDeps) RefreshResult {
	base.Failure, base.Err = RefreshFailureReplay, device.ErrHashMismatch
	if !deps.RevokeOnReplay {
		return base
	}
	err := deps.Devices.Deactivate(ctx, claims.Subject, claims.DeviceID)
	switch {
	case err == nil:
		base.DeviceRevoked = true
	case errors.Is(err, device.ErrNotFound):
	default:
		if deps.Warn != nil {
			deps.Warn("device deactivation after replay failed", err)
		}
	}
	return base
}
