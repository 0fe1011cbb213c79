// Package limiters holds the rate-limit policies built on internal/rate.
//
// # Limiters
//
//   - [RequestLimiter] — general traffic keyed by client address.
//   - [LoginLimiter] — login attempts keyed by client address and credential.
//
// Each limiter carries its own window, threshold and failure policy. A store
// failure is reported to the StoreErrorHook and then resolved by the policy:
// fail-open permits the request, fail-secure returns ErrRateLimitUnavailable.
//
// All limiters are nil-safe: a nil limiter permits every call.
//
// # What this package must NOT do
//
//   - Import goGate or any sibling internal package except internal/rate.
//   - Write HTTP responses; middleware turns decisions into headers.
package limiters
