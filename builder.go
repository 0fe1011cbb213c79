package goGate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGate/blacklist"
	"github.com/MrEthical07/goGate/device"
	internalaudit "github.com/MrEthical07/goGate/internal/audit"
	internalflows "github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/internal/limiters"
	internalmetrics "github.com/MrEthical07/goGate/internal/metrics"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/permission"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder collects the Engine's collaborators. Configure it once at startup;
// Build may be called only once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	devices         device.Store
	permissionStore permission.Store
	registry        *permission.Registry
	subjects        SubjectProvider
	auditSink       AuditSink
	logger          zerolog.Logger
	now             func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the blacklist, the rate limiter and,
// unless WithDeviceStore is used, the device registry.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDeviceStore replaces the Redis device registry, typically with
// device.NewPostgresStore.
func (b *Builder) WithDeviceStore(store device.Store) *Builder {
	b.devices = store
	return b
}

func (b *Builder) WithPermissionStore(store permission.Store) *Builder {
	b.permissionStore = store
	return b
}

// WithPermissionRegistry restricts role updates to the sections and actions
// registered in reg.
func (b *Builder) WithPermissionRegistry(reg *permission.Registry) *Builder {
	b.registry = reg
	return b
}

func (b *Builder) WithSubjectProvider(p SubjectProvider) *Builder {
	b.subjects = p
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock overrides the clock used for token timestamps, expiries and
// revocation markers.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

// Build validates the configuration, loads the permission matrix and
// returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	return b.BuildContext(context.Background())
}

// BuildContext is Build with a context for the initial permission load.
func (b *Builder) BuildContext(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.subjects == nil {
		return nil, errors.New("subject provider required")
	}
	if b.permissionStore == nil {
		return nil, errors.New("permission store required")
	}

	// -------- PERMISSIONS --------
	resolver := permission.NewResolver(b.permissionStore, b.registry, cfg.Permission.SuperRole)
	if err := resolver.Load(ctx); err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Now:           b.now,
	})
	if err != nil {
		return nil, err
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	trusted, err := parseTrustedProxies(cfg.Proxy.TrustedProxies)
	if err != nil {
		return nil, err
	}

	devices := b.devices
	if devices == nil {
		devices = device.NewRedisStore(b.redis, cfg.Device.RedisPrefix)
	}

	engine := &Engine{
		config:         cfg,
		trustedProxies: trusted,
		logger:         b.logger,
		now:            b.now,
		jwtManager:     jm,
		blacklist:      blacklist.NewStore(b.redis, cfg.Blacklist.RedisPrefix),
		devices:        devices,
		resolver:       resolver,
		subjects:       b.subjects,
		passwordHash:   ph,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Logger:     b.logger,
		}, b.auditSink),
		metrics: internalmetrics.New(internalmetrics.Config{
			Enabled:                 cfg.Metrics.Enabled,
			EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms,
		}),
	}

	// -------- RATE LIMITS --------
	counter := rate.New(b.redis)
	engine.requestLimiter = limiters.NewRequestLimiter(counter, cfg.RateLimit.requestPolicy(), engine.onLimiterStoreError)
	engine.loginLimiter = limiters.NewLoginLimiter(counter, cfg.RateLimit.loginPolicy(), engine.onLimiterStoreError)

	engine.flows = engine.flowDeps()

	b.built = true
	return engine, nil
}

func (e *Engine) flowDeps() internalflows.Deps {
	parseAccess := func(token string) (*jwt.Claims, error) {
		return e.jwtManager.Parse(token, jwt.KindAccess)
	}
	parseRefresh := func(token string) (*jwt.Claims, error) {
		return e.jwtManager.Parse(token, jwt.KindRefresh)
	}

	return internalflows.Deps{
		Authenticate: internalflows.AuthenticateDeps{
			Peek:           e.jwtManager.Peek,
			ParseAccess:    parseAccess,
			Revocations:    e.blacklist,
			LoadSubject:    e.loadSubject,
			SubjectMissing: ErrSubjectNotFound,
		},
		Refresh: internalflows.RefreshDeps{
			ParseRefresh:   parseRefresh,
			Revocations:    e.blacklist,
			LoadSubject:    e.loadSubject,
			SubjectMissing: ErrSubjectNotFound,
			IssuePair:      e.issuePair,
			RefreshTTL:     e.config.Refresh.TTLFor,
			Devices:        e.devices,
			Now:            e.now,
			RevokeOnReplay: e.config.Device.RevokeOnReplay,
			Warn: func(msg string, err error) {
				e.logger.Warn().Err(err).Msg(msg)
			},
		},
		Logout: internalflows.LogoutDeps{
			ParseRefresh: parseRefresh,
			Revocations:  e.blacklist,
			Devices:      e.devices,
			Now:          e.now,
			SubjectTTL:   e.config.Refresh.MaxTTL(),
		},
	}
}
