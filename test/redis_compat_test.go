//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"testing"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/blacklist"
	"github.com/MrEthical07/goGate/device"
)

// TestRedisCompat runs the Redis-backed stores and the engine flows over
// every available backend.
func TestRedisCompat(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			t.Run("DeviceRotateStatuses", func(t *testing.T) {
				testDeviceRotateStatuses(t, device.NewRedisStore(mode.setup(t), "dv"))
			})
			t.Run("DeviceIndexPruning", func(t *testing.T) {
				testDeviceIndexPruning(t, mode)
			})
			t.Run("BlacklistScopes", func(t *testing.T) {
				testBlacklistScopes(t, blacklist.NewStore(mode.setup(t), "bl"))
			})
			t.Run("EngineLifecycle", func(t *testing.T) {
				testEngineLifecycle(t, newHarness(t, mode.setup(t), nil))
			})
			t.Run("RequestWindow", func(t *testing.T) {
				testRequestWindow(t, mode)
			})
		})
	}
}

func testDeviceRotateStatuses(t *testing.T, store *device.RedisStore) {
	ctx := context.Background()
	now := time.Now()

	d := device.New("u1", device.Meta{DeviceID: "phone", DeviceType: "ios"}, now)
	d.RefreshTokenHash = hashByte(1)
	if err := store.Register(ctx, d, time.Hour); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := store.Get(ctx, "phone")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Class != device.ClassMobile || !got.Active || got.RefreshTokenHash != hashByte(1) {
		t.Fatalf("unexpected device after register: %+v", got)
	}

	rotate := func(subject string, presented, next byte) error {
		return store.Rotate(ctx, device.RotateRequest{
			SubjectID: subject,
			DeviceID:  "phone",
			Presented: hashByte(presented),
			Next:      hashByte(next),
			SeenAt:    now.Add(time.Second),
			TTL:       time.Hour,
		})
	}

	if err := rotate("u1", 1, 2); err != nil {
		t.Fatalf("first rotation: %v", err)
	}
	if err := rotate("u1", 1, 3); !errors.Is(err, device.ErrHashMismatch) {
		t.Fatalf("stale hash: expected ErrHashMismatch, got %v", err)
	}
	if err := rotate("u2", 2, 3); !errors.Is(err, device.ErrNotFound) {
		t.Fatalf("foreign subject: expected ErrNotFound, got %v", err)
	}

	if err := store.Deactivate(ctx, "u1", "phone"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := rotate("u1", 2, 3); !errors.Is(err, device.ErrInactive) {
		t.Fatalf("inactive device: expected ErrInactive, got %v", err)
	}
	// A stale hash on an inactive device is still reported as a replay.
	if err := rotate("u1", 9, 3); !errors.Is(err, device.ErrHashMismatch) {
		t.Fatalf("inactive device with stale hash: expected ErrHashMismatch, got %v", err)
	}
	if err := store.Deactivate(ctx, "u2", "phone"); !errors.Is(err, device.ErrNotFound) {
		t.Fatalf("foreign deactivate: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, "tablet"); !errors.Is(err, device.ErrNotFound) {
		t.Fatalf("unknown device: expected ErrNotFound, got %v", err)
	}
}

func testDeviceIndexPruning(t *testing.T, mode redisMode) {
	ctx := context.Background()
	rdb := mode.setup(t)
	store := device.NewRedisStore(rdb, "dv")
	now := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		d := device.New("u1", device.Meta{DeviceID: id}, now.Add(time.Duration(i)*time.Second))
		d.RefreshTokenHash = hashByte(byte(i))
		if err := store.Register(ctx, d, time.Hour); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}

	// Drop one record behind the index's back, as expiry would.
	if err := rdb.Del(ctx, "dv:d:b").Err(); err != nil {
		t.Fatalf("Del: %v", err)
	}

	devices, err := store.ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(devices) != 2 || devices[0].ID != "c" || devices[1].ID != "a" {
		t.Fatalf("expected [c a] most recent first, got %+v", devices)
	}

	members, err := rdb.SMembers(ctx, "dv:s:u1").Result()
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected the expired member to be pruned, index is %v", members)
	}

	n, err := store.DeactivateAll(ctx, "u1")
	if err != nil {
		t.Fatalf("DeactivateAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deactivated, got %d", n)
	}
	devices, err = store.ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected no active devices, got %+v", devices)
	}
}

func testBlacklistScopes(t *testing.T, store *blacklist.Store) {
	ctx := context.Background()
	now := time.Now()

	if err := store.Revoke(ctx, "jti-1", "logout", time.Hour); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	v, err := store.Check(ctx, "jti-1", "u1", now)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.Revoked || v.Scope != blacklist.ScopeToken || v.Reason != "logout" {
		t.Fatalf("unexpected verdict %+v", v)
	}

	if err := store.RevokeSubject(ctx, "u2", "logout_all", now, time.Hour); err != nil {
		t.Fatalf("RevokeSubject: %v", err)
	}
	if revoked, _ := store.IsRevoked(ctx, "jti-2", "u2", now.Add(-time.Minute)); !revoked {
		t.Fatal("token issued before the marker should be revoked")
	}
	if revoked, _ := store.IsRevoked(ctx, "jti-3", "u2", now.Add(2*time.Second)); revoked {
		t.Fatal("token issued after the marker should pass")
	}

	// Zero ttl is a no-op.
	if err := store.Revoke(ctx, "jti-4", "logout", 0); err != nil {
		t.Fatalf("Revoke zero ttl: %v", err)
	}
	if revoked, _ := store.IsRevoked(ctx, "jti-4", "u3", now); revoked {
		t.Fatal("zero ttl revoke should not write")
	}
}

func testEngineLifecycle(t *testing.T, h *harness) {
	ctx := context.Background()
	pair := h.login(t, "editor@example.com", "laptop")

	id, err := h.engine.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := h.engine.Authorize(ctx, id, "posts", "write"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	next, err := h.engine.Refresh(ctx, goGate.RefreshRequest{RefreshToken: pair.RefreshToken})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.DeviceID != "laptop" {
		t.Fatalf("expected rotation on laptop, got %q", next.DeviceID)
	}

	_, err = h.engine.Refresh(ctx, goGate.RefreshRequest{RefreshToken: pair.RefreshToken})
	if !errors.Is(err, goGate.ErrReplayedRefreshToken) {
		t.Fatalf("expected replay, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, goGate.RefreshRequest{RefreshToken: next.RefreshToken}); err == nil {
		t.Fatal("replay should have revoked the device")
	}

	if err := h.engine.Logout(ctx, id, ""); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := h.engine.Authenticate(ctx, pair.AccessToken); !errors.Is(err, goGate.ErrUnauthorized) {
		t.Fatalf("expected logged-out token to be unauthorized, got %v", err)
	}
}

func testRequestWindow(t *testing.T, mode redisMode) {
	h := newHarness(t, mode.setup(t), func(c *goGate.Config) {
		c.RateLimit.Request = goGate.WindowConfig{Window: time.Minute, Max: 3}
	})
	ctx := context.Background()

	for i := range 3 {
		d, err := h.engine.AllowRequest(ctx, "203.0.113.9")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if d.Remaining != 2-i {
			t.Fatalf("request %d: expected remaining %d, got %d", i, 2-i, d.Remaining)
		}
	}
	d, err := h.engine.AllowRequest(ctx, "203.0.113.9")
	var rle *goGate.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if d.Permitted || d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("unexpected denial %+v", d)
	}

	// Other clients have their own window.
	if _, err := h.engine.AllowRequest(ctx, "203.0.113.10"); err != nil {
		t.Fatalf("other client: %v", err)
	}
}
