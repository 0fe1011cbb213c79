package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrEthical07/goGate/locale"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// ErrorBody is every non-2xx JSON body written by this package.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an ErrorBody for key in the request's locale.
func WriteError(w http.ResponseWriter, r *http.Request, status int, key locale.Key) {
	WriteJSON(w, status, ErrorBody{
		Error:   string(key),
		Message: locale.Message(r.Context(), key),
	})
}

// Locale negotiates the response language from the x-locale header, falling
// back to Accept-Language, and stores it in the request context. A received
// x-locale value is echoed back as sent.
func Locale() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(locale.Header)
			if header != "" {
				w.Header().Set(locale.Header, header)
			} else {
				header = r.Header.Get("Accept-Language")
			}
			tag := locale.Negotiate(header)
			next.ServeHTTP(w, r.WithContext(locale.WithTag(r.Context(), tag)))
		})
	}
}

// AccessLog attaches logger to each request and logs one line per response
// with method, path, status, size and duration.
func AccessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return Chain(
		hlog.NewHandler(logger),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("client_ip", ClientIP(r)).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
	)
}
