// Package middleware adapts a goGate.Engine to net/http.
//
//   - [Guard] authenticates the bearer token and stores the Identity.
//   - [RequirePermission] checks one section/action pair after Guard.
//   - [RateLimit] applies the per-address request window and sets
//     X-RateLimit-* headers.
//   - [Locale] negotiates the x-locale header used for response messages.
//   - [AccessLog] attaches a zerolog logger and logs each response.
//
// Middlewares have the func(http.Handler) http.Handler shape and compose with
// [Chain].
//
// # What this package must NOT do
//
//   - Parse or create tokens; every decision is delegated to the Engine.
//   - Tell the client why authentication failed. The 401 body is constant.
package middleware
