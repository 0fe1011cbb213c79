package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGate/internal/rate"
)

// ErrRateLimitUnavailable is returned when the counter store fails and the
// policy is fail-secure.
var ErrRateLimitUnavailable = errors.New("rate limit store unavailable")

// Policy configures one fixed-window limiter.
type Policy struct {
	Window time.Duration
	Max    int
	// FailOpen permits requests while the counter store is down.
	FailOpen bool
}

// StoreErrorHook observes counter-store failures. It runs on every failure,
// whichever way the policy resolves it.
type StoreErrorHook func(ctx context.Context, name string, err error)

// WindowLimiter applies a Policy to keys derived by the caller.
type WindowLimiter struct {
	name    string
	prefix  string
	counter *rate.Limiter
	policy  Policy
	onError StoreErrorHook
	now     func() time.Time
}

func newWindowLimiter(name, prefix string, counter *rate.Limiter, policy Policy, hook StoreErrorHook) *WindowLimiter {
	return &WindowLimiter{
		name:    name,
		prefix:  prefix,
		counter: counter,
		policy:  policy,
		onError: hook,
		now:     time.Now,
	}
}

// Policy returns the configured window and threshold.
func (l *WindowLimiter) Policy() Policy {
	if l == nil {
		return Policy{}
	}
	return l.policy
}

func (l *WindowLimiter) allow(ctx context.Context, key string) (rate.Decision, error) {
	if l == nil || l.counter == nil {
		return rate.Decision{Permitted: true}, nil
	}

	d, err := l.counter.Allow(ctx, l.prefix+key, l.policy.Window, l.policy.Max)
	if err == nil {
		return d, nil
	}
	if l.onError != nil {
		l.onError(ctx, l.name, err)
	}
	if errors.Is(err, rate.ErrInvalidWindow) || !l.policy.FailOpen {
		return rate.Decision{Limit: l.policy.Max}, errors.Join(ErrRateLimitUnavailable, err)
	}
	return rate.Decision{
		Permitted: true,
		Limit:     l.policy.Max,
		Remaining: l.policy.Max,
		ResetAt:   l.now().Add(l.policy.Window),
	}, nil
}
