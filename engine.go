package goGate

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goGate/blacklist"
	"github.com/MrEthical07/goGate/device"
	internalaudit "github.com/MrEthical07/goGate/internal/audit"
	internalflows "github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/internal/limiters"
	internalmetrics "github.com/MrEthical07/goGate/internal/metrics"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/permission"
	"github.com/rs/zerolog"
)

// Engine is the access-control core. Every request path calls into it and
// obeys its decisions.
//
// Engine is immutable after Build and safe for concurrent use.
type Engine struct {
	config         Config
	logger         zerolog.Logger
	now            func() time.Time
	jwtManager     *jwt.Manager
	blacklist      *blacklist.Store
	devices        device.Store
	requestLimiter *limiters.RequestLimiter
	loginLimiter   *limiters.LoginLimiter
	resolver       *permission.Resolver
	subjects       SubjectProvider
	passwordHash   *password.Argon2
	audit          *internalaudit.Dispatcher
	metrics        *internalmetrics.Metrics
	flows          internalflows.Deps
	trustedProxies []netip.Prefix

	timingHashOnce sync.Once
	timingHash     string
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters. It is empty when metrics are
// disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return internalmetrics.New(internalmetrics.Config{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the Engine was built with.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
LOGIN / ISSUANCE
====================================
*/

// Login checks the login limit for the client address and credential,
// verifies the password and the subject's status, registers the device and
// returns a new token pair. Every credential failure is the same *AuthError.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	if e == nil || e.subjects == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if e.config.RateLimit.Enabled {
		decision, err := e.loginLimiter.Allow(ctx, clientIPFromContext(ctx), email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !decision.Permitted {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", decision)
			e.logDenied(ctx, "login", "", "login rate limit exceeded")
			return nil, &RateLimitError{Decision: decision}
		}
	}

	subject, err := e.subjects.GetSubjectByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrSubjectNotFound) {
			return nil, e.loginFailure(ctx, "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
		}
		// Equalize timing with the known-email path.
		_, _ = e.passwordHash.Verify(req.Password, e.dummyHash())
		return nil, e.loginFailure(ctx, "", newAuthError(ErrInvalidCredentials, nil))
	}

	ok, err := e.passwordHash.Verify(req.Password, subject.PasswordHash)
	if err != nil || !ok {
		return nil, e.loginFailure(ctx, subject.ID, newAuthError(ErrInvalidCredentials, err))
	}
	if !subject.usable() {
		return nil, e.loginFailure(ctx, subject.ID, newAuthError(ErrSubjectInactiveOrMissing, nil))
	}

	pair, err := e.issueForSubject(ctx, subject, req.Device)
	if err != nil {
		return nil, e.loginFailure(ctx, subject.ID, err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, subject.ID, pair.DeviceID, nil, nil)
	return pair, nil
}

func (e *Engine) loginFailure(ctx context.Context, subjectID string, err error) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, subjectID, "", err, nil)
	e.logDenied(ctx, "login", subjectID, reasonOf(err))
	return err
}

// IssueTokens registers a device for an existing subject and returns a new
// pair without checking a password. Registration and other trusted paths use
// it right after creating the subject.
func (e *Engine) IssueTokens(ctx context.Context, subjectID string, info DeviceInfo) (*TokenPair, error) {
	if e == nil || e.subjects == nil {
		return nil, ErrEngineNotReady
	}
	view, err := e.loadSubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrSubjectNotFound) {
			return nil, newAuthError(ErrSubjectInactiveOrMissing, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !view.Usable {
		return nil, newAuthError(ErrSubjectInactiveOrMissing, nil)
	}
	subject := Subject{ID: view.ID, Email: view.Email, Roles: view.Roles, Active: true}
	return e.issueForSubject(ctx, subject, info)
}

func (e *Engine) issueForSubject(ctx context.Context, subject Subject, info DeviceInfo) (*TokenPair, error) {
	now := e.now()
	meta := device.Meta{
		DeviceID:   strings.TrimSpace(info.DeviceID),
		DeviceType: strings.TrimSpace(info.DeviceType),
		UserAgent:  userAgentFromContext(ctx),
		IP:         clientIPFromContext(ctx),
	}
	if meta.DeviceID != "" {
		// A device id held by another subject is never taken over.
		existing, err := e.devices.Get(ctx, meta.DeviceID)
		switch {
		case err == nil && existing.SubjectID != subject.ID:
			meta.DeviceID = ""
		case err != nil && !errors.Is(err, device.ErrNotFound):
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	d := device.New(subject.ID, meta, now)
	ttl := e.config.Refresh.TTLFor(d.Class)
	pair, err := e.issuePair(subjectView(subject), jwt.RefreshBinding{
		SubjectID:   subject.ID,
		DeviceID:    d.ID,
		Family:      d.Family,
		DeviceClass: string(d.Class),
	}, ttl)
	if err != nil {
		return nil, err
	}

	d.RefreshTokenHash = device.HashToken(pair.Refresh)
	if err := e.devices.Register(ctx, d, ttl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tokenPair(pair), nil
}

func (e *Engine) issuePair(subject internalflows.SubjectView, binding jwt.RefreshBinding, ttl time.Duration) (internalflows.IssuedPair, error) {
	var role string
	if len(subject.Roles) > 0 {
		role = subject.Roles[0]
	}
	access, accessClaims, err := e.jwtManager.CreateAccess(jwt.AccessSubject{ID: subject.ID, Email: subject.Email, Role: role})
	if err != nil {
		return internalflows.IssuedPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshClaims, err := e.jwtManager.CreateRefresh(binding, ttl)
	if err != nil {
		return internalflows.IssuedPair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return internalflows.IssuedPair{
		Access:        access,
		AccessClaims:  accessClaims,
		Refresh:       refresh,
		RefreshClaims: refreshClaims,
	}, nil
}

func tokenPair(p internalflows.IssuedPair) *TokenPair {
	return &TokenPair{
		AccessToken:      p.Access,
		RefreshToken:     p.Refresh,
		AccessExpiresAt:  p.AccessClaims.ExpiresAt.Time,
		RefreshExpiresAt: p.RefreshClaims.ExpiresAt.Time,
		DeviceID:         p.RefreshClaims.DeviceID,
	}
}

func (e *Engine) dummyHash() string {
	e.timingHashOnce.Do(func() {
		e.timingHash, _ = e.passwordHash.Hash("timing-equalizer-not-a-password")
	})
	return e.timingHash
}

/*
====================================
SUBJECTS
====================================
*/

func (e *Engine) loadSubject(ctx context.Context, subjectID string) (internalflows.SubjectView, error) {
	s, err := e.subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return internalflows.SubjectView{}, err
	}
	return subjectView(s), nil
}

func subjectView(s Subject) internalflows.SubjectView {
	return internalflows.SubjectView{
		ID:     s.ID,
		Email:  s.Email,
		Roles:  append([]string(nil), s.Roles...),
		Usable: s.usable(),
	}
}

/*
====================================
LOGGING
====================================
*/

// logDenied records why a request was refused. The reason never leaves the
// process.
func (e *Engine) logDenied(ctx context.Context, op, subjectID, reason string) {
	e.logger.Warn().
		Str("op", op).
		Str("subject_id", subjectID).
		Str("client_ip", clientIPFromContext(ctx)).
		Str("route", routeFromContext(ctx)).
		Str("reason", reason).
		Msg("access denied")
}

func reasonOf(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e *Engine) onLimiterStoreError(ctx context.Context, name string, err error) {
	policy := e.config.RateLimit.Policy
	e.logger.Warn().
		Err(err).
		Str("limiter", name).
		Str("policy", policy.String()).
		Str("client_ip", clientIPFromContext(ctx)).
		Str("route", routeFromContext(ctx)).
		Msg("rate limit store unavailable")
	if policy == FailOpen {
		e.metricInc(MetricRateLimitFailOpen)
		e.emitAudit(ctx, auditEventRateLimitFailOpen, false, "", "", err, func() map[string]string {
			return map[string]string{"limiter": name}
		})
	}
}
