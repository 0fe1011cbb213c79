package limiters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/MrEthical07/goGate/internal/rate"
)

// LoginLimiter throttles login attempts per (client address, credential) pair.
// Every attempt counts, successful or not.
type LoginLimiter struct {
	*WindowLimiter
}

// NewLoginLimiter builds the login limiter.
func NewLoginLimiter(counter *rate.Limiter, policy Policy, hook StoreErrorHook) *LoginLimiter {
	return &LoginLimiter{newWindowLimiter("login", "rl:login:", counter, policy, hook)}
}

// Allow counts one login attempt for credential from clientIP.
func (l *LoginLimiter) Allow(ctx context.Context, clientIP, credential string) (rate.Decision, error) {
	if l == nil {
		return rate.Decision{Permitted: true}, nil
	}
	return l.allow(ctx, loginKey(clientIP, credential))
}

// The credential is hashed so identifiers never appear in the keyspace.
func loginKey(clientIP, credential string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(credential))))
	return requestKey(clientIP) + ":" + hex.EncodeToString(sum[:12])
}
