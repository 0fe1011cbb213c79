package envconfig

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/joho/godotenv"
)

// Settings is everything the server binary reads from the environment.
type Settings struct {
	Engine goGate.Config

	HTTPAddr string

	RedisURL      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL string
	// DeviceStore is "redis" or "postgres".
	DeviceStore string

	LogLevel  string
	LogFormat string

	// BootstrapEmail and BootstrapPassword, when both set, create a super-role
	// subject at startup if the email is not taken yet.
	BootstrapEmail    string
	BootstrapPassword string
}

// Load reads the given .env files (".env" when none are named) into the
// process environment without overriding variables already set, then builds
// Settings from the environment. A missing file is not an error.
func Load(files ...string) (*Settings, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds Settings from lookup, starting from goGate.DefaultConfig.
// Every malformed variable is reported, not only the first.
func FromLookup(lookup func(string) (string, bool)) (*Settings, error) {
	r := reader{lookup: lookup}
	s := &Settings{
		Engine:      goGate.DefaultConfig(),
		HTTPAddr:    ":8080",
		RedisAddr:   "localhost:6379",
		DeviceStore: "redis",
		LogLevel:    "info",
		LogFormat:   "json",
	}
	cfg := &s.Engine

	// JWT
	r.str("JWT_SIGNING_METHOD", &cfg.JWT.SigningMethod)
	if secret, ok := lookup("JWT_SECRET"); ok && secret != "" {
		cfg.JWT.PrivateKey = []byte(secret)
		if _, set := lookup("JWT_SIGNING_METHOD"); !set {
			cfg.JWT.SigningMethod = "hs256"
		}
	}
	r.key("JWT_PRIVATE_KEY", &cfg.JWT.PrivateKey)
	r.key("JWT_PUBLIC_KEY", &cfg.JWT.PublicKey)
	r.str("JWT_KEY_ID", &cfg.JWT.KeyID)
	r.str("JWT_ISSUER", &cfg.JWT.Issuer)
	r.str("JWT_AUDIENCE", &cfg.JWT.Audience)
	r.dur("ACCESS_TOKEN_TTL", &cfg.JWT.AccessTTL)
	r.dur("REFRESH_TTL_WEB", &cfg.Refresh.WebTTL)
	r.dur("REFRESH_TTL_MOBILE", &cfg.Refresh.MobileTTL)

	// Rate limits
	r.boolean("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	r.dur("RATE_LIMIT_WINDOW", &cfg.RateLimit.Request.Window)
	r.integer("RATE_LIMIT_MAX", &cfg.RateLimit.Request.Max)
	r.dur("LOGIN_RATE_LIMIT_WINDOW", &cfg.RateLimit.Login.Window)
	r.integer("LOGIN_RATE_LIMIT_MAX", &cfg.RateLimit.Login.Max)
	if v, ok := lookup("RATE_LIMIT_FAILURE_POLICY"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "open", "fail-open":
			cfg.RateLimit.Policy = goGate.FailOpen
		case "secure", "fail-secure", "closed":
			cfg.RateLimit.Policy = goGate.FailSecure
		default:
			r.errs = append(r.errs, fmt.Errorf("RATE_LIMIT_FAILURE_POLICY: unknown policy %q", v))
		}
	}

	// Devices, permissions, observability
	r.boolean("REVOKE_DEVICE_ON_REPLAY", &cfg.Device.RevokeOnReplay)
	r.str("SUPER_ROLE", &cfg.Permission.SuperRole)
	r.boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	r.boolean("METRICS_LATENCY_HISTOGRAMS", &cfg.Metrics.EnableLatencyHistograms)
	r.boolean("AUDIT_ENABLED", &cfg.Audit.Enabled)
	r.proxies("TRUSTED_PROXIES", &cfg.Proxy.TrustedProxies)

	// Server
	r.str("HTTP_ADDR", &s.HTTPAddr)
	r.str("REDIS_URL", &s.RedisURL)
	r.str("REDIS_ADDR", &s.RedisAddr)
	r.str("REDIS_PASSWORD", &s.RedisPassword)
	r.integer("REDIS_DB", &s.RedisDB)
	r.str("DATABASE_URL", &s.DatabaseURL)
	r.str("DEVICE_STORE", &s.DeviceStore)
	r.str("LOG_LEVEL", &s.LogLevel)
	r.str("LOG_FORMAT", &s.LogFormat)
	r.str("BOOTSTRAP_ADMIN_EMAIL", &s.BootstrapEmail)
	if v, ok := lookup("BOOTSTRAP_ADMIN_PASSWORD"); ok {
		s.BootstrapPassword = v
	}

	s.DeviceStore = strings.ToLower(s.DeviceStore)
	switch s.DeviceStore {
	case "redis":
	case "postgres":
		if s.DatabaseURL == "" {
			r.errs = append(r.errs, errors.New("DEVICE_STORE=postgres requires DATABASE_URL"))
		}
	default:
		r.errs = append(r.errs, fmt.Errorf("DEVICE_STORE: unknown store %q", s.DeviceStore))
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	return s, nil
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) get(name string) (string, bool) {
	v, ok := r.lookup(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) str(name string, dst *string) {
	if v, ok := r.get(name); ok {
		*dst = v
	}
}

func (r *reader) dur(name string, dst *time.Duration) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = d
}

func (r *reader) integer(name string, dst *int) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = n
}

func (r *reader) boolean(name string, dst *bool) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = b
}

// proxies reads a comma-separated list of addresses and CIDR prefixes.
func (r *reader) proxies(name string, dst *[]string) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	var out []string
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		_, prefixErr := netip.ParsePrefix(entry)
		_, addrErr := netip.ParseAddr(entry)
		if prefixErr != nil && addrErr != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %q is not an address or CIDR prefix", name, entry))
			continue
		}
		out = append(out, entry)
	}
	*dst = out
}

// key accepts a PEM block as is, otherwise standard base64 of the raw key.
func (r *reader) key(name string, dst *[]byte) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	if strings.HasPrefix(v, "-----BEGIN") {
		*dst = []byte(v)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: not PEM or base64: %w", name, err))
		return
	}
	*dst = raw
}
