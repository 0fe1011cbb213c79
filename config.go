package goGate

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/device"
	"github.com/MrEthical07/goGate/internal/limiters"
)

// Config holds every tunable of the Engine. It is cloned on Build and never
// read from the environment by this package; see internal/envconfig.
type Config struct {
	JWT        JWTConfig
	Refresh    RefreshConfig
	Blacklist  BlacklistConfig
	RateLimit  RateLimitConfig
	Device     DeviceConfig
	Permission PermissionConfig
	Password   PasswordConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Proxy      ProxyConfig
}

// FailurePolicy decides what a component does when its backing store fails.
type FailurePolicy int

const (
	// FailSecure denies the request.
	FailSecure FailurePolicy = iota
	// FailOpen permits the request and logs the failure.
	FailOpen
)

func (p FailurePolicy) String() string {
	switch p {
	case FailOpen:
		return "fail_open"
	case FailSecure:
		return "fail_secure"
	default:
		return fmt.Sprintf("failure_policy(%d)", int(p))
	}
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig is the signing key domain. One key signs; VerifyKeys keeps older
// public keys valid by kid while they age out.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig maps device classes to refresh token lifetimes.
type RefreshConfig struct {
	WebTTL    time.Duration
	MobileTTL time.Duration
}

// TTLFor returns the refresh lifetime of class.
func (c RefreshConfig) TTLFor(class device.Class) time.Duration {
	if class == device.ClassMobile {
		return c.MobileTTL
	}
	return c.WebTTL
}

// MaxTTL is the longest refresh lifetime across classes.
func (c RefreshConfig) MaxTTL() time.Duration {
	if c.MobileTTL > c.WebTTL {
		return c.MobileTTL
	}
	return c.WebTTL
}

/*
====================================
BLACKLIST CONFIG
====================================
*/

type BlacklistConfig struct {
	RedisPrefix string
	// Policy must stay FailSecure. Validate rejects anything else.
	Policy FailurePolicy
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// WindowConfig is one fixed window.
type WindowConfig struct {
	Window time.Duration
	Max    int
}

type RateLimitConfig struct {
	Enabled bool
	// Request applies to general traffic keyed by client address.
	Request WindowConfig
	// Login applies per client address and credential.
	Login  WindowConfig
	Policy FailurePolicy
}

func (c RateLimitConfig) requestPolicy() limiters.Policy {
	return limiters.Policy{Window: c.Request.Window, Max: c.Request.Max, FailOpen: c.Policy == FailOpen}
}

func (c RateLimitConfig) loginPolicy() limiters.Policy {
	return limiters.Policy{Window: c.Login.Window, Max: c.Login.Max, FailOpen: c.Policy == FailOpen}
}

/*
====================================
DEVICE CONFIG
====================================
*/

type DeviceConfig struct {
	RedisPrefix string
	// RevokeOnReplay deactivates a device whose refresh token is replayed.
	RevokeOnReplay bool
}

/*
====================================
PERMISSION CONFIG
====================================
*/

type PermissionConfig struct {
	SuperRole string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
PROXY CONFIG
====================================
*/

// ProxyConfig lists the peers allowed to report a client address through
// X-Forwarded-For. Entries are addresses or CIDR prefixes. Empty means the
// transport peer is always the client.
type ProxyConfig struct {
	TrustedProxies []string
}

func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the production defaults: 15 minute access tokens, 7
// day web and 90 day mobile refresh tokens, 100 requests per minute, 5 login
// attempts per 15 minutes, fail-open limiter and fail-secure blacklist.
// Key material is left empty.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        5 * time.Second,
			MaxFutureIAT:  30 * time.Second,
		},
		Refresh: RefreshConfig{
			WebTTL:    7 * 24 * time.Hour,
			MobileTTL: 90 * 24 * time.Hour,
		},
		Blacklist: BlacklistConfig{
			RedisPrefix: "bl",
			Policy:      FailSecure,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Request: WindowConfig{Window: time.Minute, Max: 100},
			Login:   WindowConfig{Window: 15 * time.Minute, Max: 5},
			Policy:  FailOpen,
		},
		Device: DeviceConfig{
			RedisPrefix:    "dv",
			RevokeOnReplay: true,
		},
		Permission: PermissionConfig{
			SuperRole: "super_admin",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	out.Proxy.TrustedProxies = append([]string(nil), cfg.Proxy.TrustedProxies...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.MaxFutureIAT < 0 {
		return errors.New("JWT Leeway and MaxFutureIAT must be >= 0")
	}

	// Refresh
	if c.Refresh.WebTTL <= 0 || c.Refresh.MobileTTL <= 0 {
		return errors.New("Refresh WebTTL and MobileTTL must be > 0")
	}
	if c.Refresh.WebTTL <= c.JWT.AccessTTL || c.Refresh.MobileTTL <= c.JWT.AccessTTL {
		return errors.New("refresh lifetimes must exceed AccessTTL")
	}

	// Blacklist
	if c.Blacklist.Policy != FailSecure {
		return errors.New("Blacklist Policy must be FailSecure")
	}
	if strings.TrimSpace(c.Blacklist.RedisPrefix) == "" {
		return errors.New("Blacklist RedisPrefix must be set")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		for name, w := range map[string]WindowConfig{"Request": c.RateLimit.Request, "Login": c.RateLimit.Login} {
			if w.Window < time.Second {
				return fmt.Errorf("RateLimit %s Window must be >= 1s", name)
			}
			if w.Max <= 0 {
				return fmt.Errorf("RateLimit %s Max must be > 0", name)
			}
		}
		if c.RateLimit.Policy != FailOpen && c.RateLimit.Policy != FailSecure {
			return errors.New("RateLimit Policy is invalid")
		}
	}

	// Device
	if strings.TrimSpace(c.Device.RedisPrefix) == "" {
		return errors.New("Device RedisPrefix must be set")
	}
	if c.Device.RedisPrefix == c.Blacklist.RedisPrefix {
		return errors.New("Device and Blacklist prefixes must differ")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Proxy
	if _, err := parseTrustedProxies(c.Proxy.TrustedProxies); err != nil {
		return err
	}

	return nil
}
