package middleware

import (
	"net/http"
	"strings"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/locale"
)

// Guard authenticates the bearer token and stores the resulting
// *goGate.Identity in the request context. Every failure, whatever its cause,
// produces the same 401 body.
func Guard(engine *goGate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine != nil {
				r = resolveClient(engine, r)
			}
			ctx := RequestContext(r)
			if engine == nil {
				WriteError(w, r.WithContext(ctx), http.StatusUnauthorized, locale.KeyUnauthorized)
				return
			}

			token, _ := BearerToken(r.Header.Get("Authorization"))
			id, err := engine.Authenticate(ctx, token)
			if err != nil {
				WriteError(w, r.WithContext(ctx), http.StatusUnauthorized, locale.KeyUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(goGate.WithIdentity(ctx, id)))
		})
	}
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(value string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// RequirePermission rejects requests whose identity lacks action on section.
// It must run after Guard; without an identity it answers 401.
func RequirePermission(engine *goGate.Engine, section, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := goGate.IdentityFromContext(r.Context())
			if !ok || engine == nil {
				WriteError(w, r, http.StatusUnauthorized, locale.KeyUnauthorized)
				return
			}
			if err := engine.Authorize(r.Context(), id, section, action); err != nil {
				WriteError(w, r, http.StatusForbidden, locale.KeyForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
