package internaldefs

import (
	goGate "github.com/MrEthical07/goGate"
)

// CounterDef names one engine counter for every exporter.
type CounterDef struct {
	ID   goGate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   goGate.MetricID
	Name string
	Help string
}

// AuditDropped is the counter exported from Engine.AuditDropped.
var AuditDropped = CounterDef{
	Name: "gogate_audit_dropped_total",
	Help: "Audit events dropped because the sink buffer was full.",
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goGate.MetricLoginSuccess, Name: "gogate_login_success_total", Help: "Successful password logins."},
	{ID: goGate.MetricLoginFailure, Name: "gogate_login_failure_total", Help: "Rejected password logins."},
	{ID: goGate.MetricLoginRateLimited, Name: "gogate_login_rate_limited_total", Help: "Logins refused by the login limiter."},
	{ID: goGate.MetricRefreshSuccess, Name: "gogate_refresh_success_total", Help: "Refresh tokens rotated."},
	{ID: goGate.MetricRefreshFailure, Name: "gogate_refresh_failure_total", Help: "Refresh attempts rejected."},
	{ID: goGate.MetricReplayDetected, Name: "gogate_refresh_replay_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: goGate.MetricAuthenticateSuccess, Name: "gogate_authenticate_success_total", Help: "Access tokens accepted."},
	{ID: goGate.MetricAuthenticateFailure, Name: "gogate_authenticate_failure_total", Help: "Access tokens rejected."},
	{ID: goGate.MetricRevokedTokenRejected, Name: "gogate_revoked_token_rejected_total", Help: "Tokens rejected by the blacklist."},
	{ID: goGate.MetricBlacklistUnavailable, Name: "gogate_blacklist_unavailable_total", Help: "Blacklist lookups that failed and denied the request."},
	{ID: goGate.MetricRateLimitHit, Name: "gogate_rate_limit_hit_total", Help: "Requests refused by the request limiter."},
	{ID: goGate.MetricRateLimitFailOpen, Name: "gogate_rate_limit_fail_open_total", Help: "Limiter store failures that let the request through."},
	{ID: goGate.MetricPermissionDenied, Name: "gogate_permission_denied_total", Help: "Authorization checks that denied access."},
	{ID: goGate.MetricPermissionUpdate, Name: "gogate_permission_update_total", Help: "Role permission updates applied."},
	{ID: goGate.MetricLogout, Name: "gogate_logout_total", Help: "Single-device logouts."},
	{ID: goGate.MetricLogoutAll, Name: "gogate_logout_all_total", Help: "Logouts from every device."},
	{ID: goGate.MetricDeviceDeactivated, Name: "gogate_device_deactivated_total", Help: "Devices deactivated."},
	{ID: goGate.MetricRefreshRetireFailed, Name: "gogate_refresh_retire_failed_total", Help: "Rotated refresh tokens whose blacklist entry could not be written."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGate.MetricAuthenticateLatency, Name: "gogate_authenticate_latency_seconds", Help: "Authenticate latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's fixed
// latency buckets.
var HistogramBounds = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// HistogramBoundSuffix spells HistogramBounds for instrument names that
// cannot carry dots or plus signs.
var HistogramBoundSuffix = []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
