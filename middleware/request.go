package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goGate "github.com/MrEthical07/goGate"
)

// Chain composes middlewares so the first one listed runs first.
func Chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

// ClientAddress resolves the client address once with the engine's trusted
// proxy list and stores it in the request context, where ClientIP,
// RequestContext and RateLimit read it. Mount it ahead of AccessLog.
func ClientAddress(engine *goGate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, resolveClient(engine, r))
		})
	}
}

func resolveClient(engine *goGate.Engine, r *http.Request) *http.Request {
	if _, ok := goGate.ClientIPFromContext(r.Context()); ok {
		return r
	}
	forwarded := strings.Join(r.Header.Values("X-Forwarded-For"), ",")
	return r.WithContext(goGate.WithClientIP(r.Context(), engine.ClientIP(r.RemoteAddr, forwarded)))
}

// ClientIP returns the address resolved by ClientAddress, else the host part
// of RemoteAddr. It never reads X-Forwarded-For itself.
func ClientIP(r *http.Request) string {
	if ip, ok := goGate.ClientIPFromContext(r.Context()); ok {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestContext returns r's context with the client address, route and
// user agent attached for the engine's logs and audit events.
func RequestContext(r *http.Request) context.Context {
	ctx := goGate.WithClientIP(r.Context(), ClientIP(r))
	ctx = goGate.WithRoute(ctx, r.Method+" "+r.URL.Path)
	return goGate.WithUserAgent(ctx, r.UserAgent())
}
