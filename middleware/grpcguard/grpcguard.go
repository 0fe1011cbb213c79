package grpcguard

import (
	"context"
	"strings"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/locale"
	"github.com/MrEthical07/goGate/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Requirement is the permission a method demands.
type Requirement struct {
	Section string
	Action  string
}

// Option adjusts an interceptor.
type Option func(*options)

type options struct {
	skip map[string]struct{}
}

// WithPublicMethods lets the named full methods through without a token,
// e.g. "/grpc.health.v1.Health/Check".
func WithPublicMethods(methods ...string) Option {
	return func(o *options) {
		for _, m := range methods {
			o.skip[m] = struct{}{}
		}
	}
}

// UnaryServerInterceptor authenticates the "authorization" metadata with the
// engine and stores the Identity in the handler's context. Failures are
// codes.Unauthenticated with a generic message.
func UnaryServerInterceptor(engine *goGate.Engine, opts ...Option) grpc.UnaryServerInterceptor {
	o := options{skip: map[string]struct{}{}}
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = requestContext(ctx, engine, info.FullMethod)
		if _, ok := o.skip[info.FullMethod]; ok {
			return handler(ctx, req)
		}
		if engine == nil {
			return nil, status.Error(codes.Unauthenticated, locale.Message(ctx, locale.KeyUnauthorized))
		}

		token, _ := middleware.BearerToken(firstValue(ctx, "authorization"))
		id, err := engine.Authenticate(ctx, token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, locale.Message(ctx, locale.KeyUnauthorized))
		}
		return handler(goGate.WithIdentity(ctx, id), req)
	}
}

// UnaryPermissionInterceptor enforces required for the listed full methods.
// Methods not in the map pass. It must be chained after
// UnaryServerInterceptor.
func UnaryPermissionInterceptor(engine *goGate.Engine, required map[string]Requirement) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		need, ok := required[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}
		id, ok := goGate.IdentityFromContext(ctx)
		if !ok || engine == nil {
			return nil, status.Error(codes.Unauthenticated, locale.Message(ctx, locale.KeyUnauthorized))
		}
		if err := engine.Authorize(ctx, id, need.Section, need.Action); err != nil {
			return nil, status.Error(codes.PermissionDenied, locale.Message(ctx, locale.KeyForbidden))
		}
		return handler(ctx, req)
	}
}

// requestContext attaches route, user agent, locale and client address. The
// x-forwarded-for metadata counts only when the peer is a trusted proxy.
func requestContext(ctx context.Context, engine *goGate.Engine, method string) context.Context {
	ctx = goGate.WithRoute(ctx, method)
	ctx = goGate.WithUserAgent(ctx, firstValue(ctx, "user-agent"))
	ctx = locale.WithTag(ctx, locale.Negotiate(firstValue(ctx, locale.Header)))

	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ctx
	}
	var forwarded string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		forwarded = strings.Join(md.Get("x-forwarded-for"), ",")
	}
	return goGate.WithClientIP(ctx, engine.ClientIP(p.Addr.String(), forwarded))
}

func firstValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
