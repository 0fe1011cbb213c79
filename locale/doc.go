// Package locale negotiates the response language from the x-locale header
// and renders the handful of user-facing messages the middleware emits.
//
// The catalog is built once at init and never mutated. The active locale
// travels in the request context.
package locale
