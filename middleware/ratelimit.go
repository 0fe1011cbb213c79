package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/locale"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// TooManyRequests is the 429 body.
type TooManyRequests struct {
	Error      string    `json:"error"`
	Message    string    `json:"message"`
	RetryAfter int       `json:"retryAfter"`
	ResetTime  time.Time `json:"resetTime"`
}

// RateLimit counts every request against the engine's request window, keyed
// by the client address the engine resolves. Counter headers go on every response. When the counter
// store is down and the policy is fail-secure the request gets a 503.
func RateLimit(engine *goGate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				next.ServeHTTP(w, r)
				return
			}
			r = resolveClient(engine, r)
			ctx := RequestContext(r)
			decision, err := engine.AllowRequest(ctx, ClientIP(r))
			switch {
			case err == nil:
				WriteRateLimitHeaders(w, decision)
				next.ServeHTTP(w, r)
			case errors.Is(err, goGate.ErrRateLimitExceeded):
				WriteTooManyRequests(w, r, decision)
			default:
				WriteError(w, r, http.StatusServiceUnavailable, locale.KeyUnavailable)
			}
		})
	}
}

// WriteRateLimitHeaders sets the limit, remaining and reset headers. A zero
// decision, as returned when limiting is disabled, writes nothing.
func WriteRateLimitHeaders(w http.ResponseWriter, d goGate.RateLimitDecision) {
	if d.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// WriteTooManyRequests writes the 429 response for a denied decision,
// including Retry-After in whole seconds.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, d goGate.RateLimitDecision) {
	retry := (&goGate.RateLimitError{Decision: d}).RetryAfter()
	seconds := int((retry + time.Second - 1) / time.Second)

	WriteRateLimitHeaders(w, d)
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(seconds))
	WriteJSON(w, http.StatusTooManyRequests, TooManyRequests{
		Error:      string(locale.KeyTooManyRequests),
		Message:    locale.Message(r.Context(), locale.KeyTooManyRequests),
		RetryAfter: seconds,
		ResetTime:  d.ResetAt.UTC(),
	})
}
