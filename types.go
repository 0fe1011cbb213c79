package goGate

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/goGate/internal/audit"
	internalmetrics "github.com/MrEthical07/goGate/internal/metrics"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/rs/zerolog"
)

// Subject is an account as the owning service stores it.
type Subject struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	Active       bool
	Deleted      bool
}

// usable reports whether the subject may hold live credentials.
func (s Subject) usable() bool {
	return s.ID != "" && s.Active && !s.Deleted
}

// SubjectProvider looks subjects up in the owning service's database. Both
// methods return ErrSubjectNotFound for an unknown key; any other error is
// treated as a store failure.
type SubjectProvider interface {
	GetSubject(ctx context.Context, id string) (Subject, error)
	GetSubjectByEmail(ctx context.Context, email string) (Subject, error)
}

// DeviceInfo is the optional device metadata a client sends at login or
// refresh. An empty DeviceType is treated as web.
type DeviceInfo struct {
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
}

// LoginRequest is the body of a password login.
type LoginRequest struct {
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Device   DeviceInfo `json:"device"`
}

// RefreshRequest is the body of a refresh call. DeviceID and DeviceType are
// advisory; the device bound into the refresh token always wins.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceType   string `json:"deviceType,omitempty"`
	DeviceID     string `json:"deviceId,omitempty"`
}

// TokenPair is what Login, IssueTokens and Refresh hand back.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	DeviceID         string    `json:"deviceId"`
}

// Identity is an authenticated request's subject. Roles come from the live
// subject record, not from the token.
type Identity struct {
	SubjectID string
	Email     string
	Roles     []string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RateLimitDecision is the outcome of one counted request.
type RateLimitDecision = rate.Decision

// AuditEvent is one audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the Engine's dispatcher.
type AuditSink = internalaudit.Sink

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc = internalaudit.SinkFunc

// ChannelSink buffers events in a channel.
type ChannelSink = internalaudit.ChannelSink

// ZerologSink writes events through a zerolog.Logger.
type ZerologSink = internalaudit.ZerologSink

func NewChannelSink(buffer int) ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return internalaudit.NewZerologSink(logger)
}

// MetricID names one counter.
type MetricID = internalmetrics.MetricID

// MetricsSnapshot is a point-in-time copy of the Engine's counters.
type MetricsSnapshot = internalmetrics.Snapshot

const (
	MetricLoginSuccess         = internalmetrics.MetricLoginSuccess
	MetricLoginFailure         = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited     = internalmetrics.MetricLoginRateLimited
	MetricRefreshSuccess       = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure       = internalmetrics.MetricRefreshFailure
	MetricReplayDetected       = internalmetrics.MetricReplayDetected
	MetricAuthenticateSuccess  = internalmetrics.MetricAuthenticateSuccess
	MetricAuthenticateFailure  = internalmetrics.MetricAuthenticateFailure
	MetricRevokedTokenRejected = internalmetrics.MetricRevokedTokenRejected
	MetricBlacklistUnavailable = internalmetrics.MetricBlacklistUnavailable
	MetricRateLimitHit         = internalmetrics.MetricRateLimitHit
	MetricRateLimitFailOpen    = internalmetrics.MetricRateLimitFailOpen
	MetricPermissionDenied     = internalmetrics.MetricPermissionDenied
	MetricPermissionUpdate     = internalmetrics.MetricPermissionUpdate
	MetricLogout               = internalmetrics.MetricLogout
	MetricLogoutAll            = internalmetrics.MetricLogoutAll
	MetricDeviceDeactivated    = internalmetrics.MetricDeviceDeactivated
	MetricRefreshRetireFailed  = internalmetrics.MetricRefreshRetireFailed
	MetricAuthenticateLatency  = internalmetrics.MetricAuthenticateLatency

	// MetricIDCount is one past the last MetricID.
	MetricIDCount = internalmetrics.MetricIDCount
)
