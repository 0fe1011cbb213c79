package limiters

import (
	"context"
	"strings"

	"github.com/MrEthical07/goGate/internal/rate"
)

// RequestLimiter throttles general traffic per client address.
type RequestLimiter struct {
	*WindowLimiter
}

// NewRequestLimiter builds the general-traffic limiter. A nil counter yields a
// limiter that permits everything.
func NewRequestLimiter(counter *rate.Limiter, policy Policy, hook StoreErrorHook) *RequestLimiter {
	return &RequestLimiter{newWindowLimiter("request", "rl:req:", counter, policy, hook)}
}

// Allow counts one request from clientIP.
func (l *RequestLimiter) Allow(ctx context.Context, clientIP string) (rate.Decision, error) {
	if l == nil {
		return rate.Decision{Permitted: true}, nil
	}
	return l.allow(ctx, requestKey(clientIP))
}

func requestKey(clientIP string) string {
	ip := strings.TrimSpace(clientIP)
	if ip == "" {
		ip = "unknown"
	}
	return ip
}
