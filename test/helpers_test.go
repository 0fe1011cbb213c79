//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/internal/testkit"
	"github.com/MrEthical07/goGate/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend a suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) redis.UniversalClient
}

// redisModes returns the backends to test. miniredis is always available; a
// real standalone Redis is added when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{{
		name: "miniredis",
		setup: func(t *testing.T) redis.UniversalClient {
			t.Helper()
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis: %v", err)
			}
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close(); mr.Close() })
			return rdb
		},
	}}

	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				// Flush so state never leaks between runs.
				rdb.FlushDB(context.Background())
				t.Cleanup(func() { rdb.FlushDB(context.Background()); _ = rdb.Close() })
				return rdb
			},
		})
	}
	return modes
}

// cmdCounter is a go-redis Hook that counts Redis round-trips (individual
// commands and pipeline calls).
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		// One pipeline is one round-trip whatever it carries.
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64  { return h.commands.Load() }
func (h *cmdCounter) Pipelines() int64 { return h.pipelines.Load() }

// harness is an engine on a caller-supplied Redis client with the same seed
// data as testkit: u1 editor@example.com (editor) and u2 guest@example.com.
type harness struct {
	engine   *goGate.Engine
	subjects *testkit.Subjects
}

func newHarness(t *testing.T, rdb redis.UniversalClient, mutate func(*goGate.Config)) *harness {
	t.Helper()
	cfg := testkit.Config(t)
	if mutate != nil {
		mutate(&cfg)
	}
	hash := testkit.HashPassword(t, cfg, testkit.Password)
	subjects := testkit.NewSubjects(
		goGate.Subject{ID: "u1", Email: "editor@example.com", PasswordHash: hash, Roles: []string{"editor"}, Active: true},
		goGate.Subject{ID: "u2", Email: "guest@example.com", PasswordHash: hash, Active: true},
	)
	perms := permission.NewMemoryStore(
		[]permission.Role{{ID: "editor", Name: "Editor"}},
		[]permission.Permission{{RoleID: "editor", Section: "posts", Actions: []string{"read", "write"}, IsActive: true}},
	)
	engine, err := goGate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithSubjectProvider(subjects).
		WithPermissionStore(perms).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return &harness{engine: engine, subjects: subjects}
}

func (h *harness) login(t *testing.T, email, deviceID string) *goGate.TokenPair {
	t.Helper()
	pair, err := h.engine.Login(context.Background(), goGate.LoginRequest{
		Email:    email,
		Password: testkit.Password,
		Device:   goGate.DeviceInfo{DeviceID: deviceID},
	})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return pair
}

func hashByte(b byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = b
	}
	return out
}
