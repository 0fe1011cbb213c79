package blacklist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBlacklistTest(t *testing.T) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(rdb, "bl"), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRevokeTokenUntilTTL(t *testing.T) {
	store, mr, done := newBlacklistTest(t)
	defer done()
	ctx := context.Background()
	iat := time.Now()

	if err := store.Revoke(ctx, "jti-1", "logout", 10*time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	v, err := store.Check(ctx, "jti-1", "u1", iat)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !v.Revoked || v.Scope != ScopeToken || v.Reason != "logout" {
		t.Fatalf("unexpected verdict %+v", v)
	}

	other, err := store.IsRevoked(ctx, "jti-2", "u1", iat)
	if err != nil || other {
		t.Fatalf("unrelated token should not be revoked: %v %v", other, err)
	}

	mr.FastForward(9 * time.Minute)
	if revoked, _ := store.IsRevoked(ctx, "jti-1", "u1", iat); !revoked {
		t.Fatal("entry must survive for the remaining lifetime")
	}
	mr.FastForward(2 * time.Minute)
	if revoked, _ := store.IsRevoked(ctx, "jti-1", "u1", iat); revoked {
		t.Fatal("entry should self-expire")
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	store, mr, done := newBlacklistTest(t)
	defer done()

	if err := store.Revoke(context.Background(), "jti-1", "logout", 0); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if mr.Exists("bl:t:jti-1") {
		t.Fatal("zero ttl should not write an entry")
	}
}

func TestRevokeSubjectCoversOlderTokensOnly(t *testing.T) {
	store, _, done := newBlacklistTest(t)
	defer done()
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0)

	if err := store.RevokeSubject(ctx, "u1", "logout_all", at, time.Hour); err != nil {
		t.Fatalf("revoke subject: %v", err)
	}

	cases := []struct {
		name string
		iat  time.Time
		want bool
	}{
		{"before", at.Add(-time.Minute), true},
		{"same second", at.Add(500 * time.Millisecond), true},
		{"after", at.Add(2 * time.Second), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := store.Check(ctx, "any", "u1", tc.iat)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if v.Revoked != tc.want {
				t.Fatalf("revoked=%v want %v", v.Revoked, tc.want)
			}
			if tc.want && (v.Scope != ScopeSubject || v.Reason != "logout_all") {
				t.Fatalf("unexpected verdict %+v", v)
			}
		})
	}

	if revoked, _ := store.IsRevoked(ctx, "any", "u2", at.Add(-time.Minute)); revoked {
		t.Fatal("other subjects must be unaffected")
	}
}

func TestStoreFailureIsDistinctFromNotRevoked(t *testing.T) {
	store, mr, done := newBlacklistTest(t)
	defer done()
	mr.Close()

	revoked, err := store.IsRevoked(context.Background(), "jti", "u1", time.Now())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if revoked {
		t.Fatal("revoked must be false alongside an error")
	}
	if err := store.Revoke(context.Background(), "jti", "logout", time.Minute); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable on write, got %v", err)
	}
}
