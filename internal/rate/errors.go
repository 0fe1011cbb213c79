package rate

import "errors"

var (
	// ErrRedisUnavailable wraps counter-store failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidWindow is returned for non-positive windows or limits.
	ErrInvalidWindow = errors.New("invalid rate window")
)
