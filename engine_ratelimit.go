package goGate

import (
	"context"
	"fmt"
)

// AllowRequest counts one request from clientIP against the general traffic
// window. A denial is a *RateLimitError carrying the decision. When the
// counter store fails the configured policy decides; the default lets the
// request through with a full remaining budget.
func (e *Engine) AllowRequest(ctx context.Context, clientIP string) (RateLimitDecision, error) {
	if e == nil {
		return RateLimitDecision{}, ErrEngineNotReady
	}
	if !e.config.RateLimit.Enabled {
		return RateLimitDecision{Permitted: true}, nil
	}

	decision, err := e.requestLimiter.Allow(ctx, clientIP)
	if err != nil {
		return decision, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !decision.Permitted {
		e.emitRateLimit(ctx, "request", decision)
		return decision, &RateLimitError{Decision: decision}
	}
	return decision, nil
}

// LoginPolicy returns the login window and threshold, for handlers that
// report them.
func (e *Engine) LoginPolicy() WindowConfig {
	if e == nil {
		return WindowConfig{}
	}
	return e.config.RateLimit.Login
}
