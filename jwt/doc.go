// Package jwt issues and verifies the two bearer-token kinds: short-lived access
// tokens and device-bound refresh tokens. Verification is pure and needs no store.
package jwt
