package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(rdb, "dv"), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func registerTestDevice(t *testing.T, store Store, subjectID, deviceID, token string) *Device {
	t.Helper()
	d := New(subjectID, Meta{DeviceID: deviceID, DeviceType: "web"}, time.Now())
	d.RefreshTokenHash = HashToken(token)
	if err := store.Register(context.Background(), d, time.Hour); err != nil {
		t.Fatalf("register: %v", err)
	}
	return d
}

func TestRedisRotateHappyPathThenReplay(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()
	registerTestDevice(t, store, "u1", "d1", "r0")

	req := RotateRequest{SubjectID: "u1", DeviceID: "d1", Presented: HashToken("r0"), Next: HashToken("r1"), SeenAt: time.Now(), TTL: time.Hour}
	if err := store.Rotate(ctx, req); err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	if err := store.Rotate(ctx, req); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected replay to mismatch, got %v", err)
	}

	got, err := store.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RefreshTokenHash != HashToken("r1") {
		t.Fatal("stored hash should be the rotated one")
	}
}

func TestRedisRotateRejectsForeignAndInactive(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()
	registerTestDevice(t, store, "u1", "d1", "r0")

	foreign := RotateRequest{SubjectID: "u2", DeviceID: "d1", Presented: HashToken("r0"), Next: HashToken("x"), SeenAt: time.Now()}
	if err := store.Rotate(ctx, foreign); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign subject to see ErrNotFound, got %v", err)
	}
	missing := RotateRequest{SubjectID: "u1", DeviceID: "nope", Presented: HashToken("r0"), Next: HashToken("x"), SeenAt: time.Now()}
	if err := store.Rotate(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Deactivate(ctx, "u1", "d1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	current := RotateRequest{SubjectID: "u1", DeviceID: "d1", Presented: HashToken("r0"), Next: HashToken("r1"), SeenAt: time.Now()}
	if err := store.Rotate(ctx, current); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
	stale := RotateRequest{SubjectID: "u1", DeviceID: "d1", Presented: HashToken("old"), Next: HashToken("r1"), SeenAt: time.Now()}
	if err := store.Rotate(ctx, stale); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("stale hash on inactive device should be ErrHashMismatch, got %v", err)
	}
	if err := store.Deactivate(ctx, "u2", "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign deactivate should be ErrNotFound, got %v", err)
	}
}

func TestRedisConcurrentRotateSingleWinner(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	registerTestDevice(t, store, "u1", "d1", "r0")

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		replays   int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := store.Rotate(context.Background(), RotateRequest{
				SubjectID: "u1",
				DeviceID:  "d1",
				Presented: HashToken("r0"),
				Next:      HashToken(string(rune('a' + i))),
				SeenAt:    time.Now(),
				TTL:       time.Hour,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrHashMismatch):
				replays++
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if successes != 1 || replays != workers-1 {
		t.Fatalf("expected 1 success and %d replays, got %d and %d", workers-1, successes, replays)
	}
}

func TestRedisRegisterReplacesLineage(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	first := registerTestDevice(t, store, "u1", "d1", "r0")
	second := registerTestDevice(t, store, "u1", "d1", "s0")
	if first.Family == second.Family {
		t.Fatal("re-registration must start a new family")
	}

	old := RotateRequest{SubjectID: "u1", DeviceID: "d1", Presented: HashToken("r0"), Next: HashToken("r1"), SeenAt: time.Now()}
	if err := store.Rotate(ctx, old); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("old lineage should be dead, got %v", err)
	}

	registerTestDevice(t, store, "u2", "d1", "t0")
	list, err := store.ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("device moved to u2 should leave u1 empty, got %+v", list)
	}
}

func TestRedisDeactivateAllLeavesOtherSubjects(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	registerTestDevice(t, store, "u1", "web-1", "a")
	registerTestDevice(t, store, "u1", "phone-1", "b")
	registerTestDevice(t, store, "u2", "web-2", "c")

	list, err := store.ListActive(ctx, "u1")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 active devices, got %d (%v)", len(list), err)
	}

	n, err := store.DeactivateAll(ctx, "u1")
	if err != nil {
		t.Fatalf("deactivate all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deactivated, got %d", n)
	}
	if list, _ := store.ListActive(ctx, "u1"); len(list) != 0 {
		t.Fatalf("expected no active devices for u1, got %d", len(list))
	}
	if list, _ := store.ListActive(ctx, "u2"); len(list) != 1 {
		t.Fatalf("u2 must keep its device, got %d", len(list))
	}
}

func TestRedisRecordExpiresWithTTL(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	registerTestDevice(t, store, "u1", "d1", "r0")

	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(context.Background(), "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired device to be gone, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	mr.Close()

	err := store.Rotate(context.Background(), RotateRequest{SubjectID: "u1", DeviceID: "d1"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
