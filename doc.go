// Package goGate is the access-control core of a web backend: short-lived
// JWT access tokens, device-bound rotating refresh tokens, a Redis blacklist,
// fixed-window rate limits and a role permission matrix.
//
// Engine methods are safe to call from multiple goroutines once
// [Builder.Build] has returned.
//
// # Architecture boundaries
//
// goGate is the public surface. It exposes [Engine], [Builder], [Config] and
// the request and result types. Flow orchestration, rate-limit counters,
// audit dispatch and metrics live under internal/ and are never exported.
// The jwt, blacklist, device, permission and password packages are usable on
// their own. The middleware package adapts an Engine to net/http and
// middleware/grpcguard to gRPC.
//
// # Failure semantics
//
// Every authentication failure is an [*AuthError] whose text is always
// "unauthorized". errors.Is distinguishes the kind for logs, metrics and
// tests. A blacklist that cannot be read rejects the request. A rate-limit
// counter that cannot be read admits it, unless RateLimit.Policy is
// FailSecure.
//
// # What this package must NOT do
//
//   - Expose Redis clients or key layouts in its public API.
//   - Trust roles carried in a token. Roles come from the live subject record
//     on every request.
//   - Import any sub-package that re-imports goGate.
package goGate
