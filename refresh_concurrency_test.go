package goGate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	f := newFixture(t, nil)
	pair := f.login(t, "alice@example.com", DeviceInfo{DeviceType: "android"})

	const workers = 16
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		success  atomic.Int64
		replayed atomic.Int64
		other    atomic.Int64
		winner   atomic.Pointer[TokenPair]
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			next, err := f.engine.Refresh(context.Background(), RefreshRequest{RefreshToken: pair.RefreshToken})
			switch {
			case err == nil:
				success.Add(1)
				winner.Store(next)
			case errors.Is(err, ErrReplayedRefreshToken):
				replayed.Add(1)
			default:
				other.Add(1)
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if success.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", success.Load())
	}
	if replayed.Load() != workers-1 || other.Load() != 0 {
		t.Fatalf("expected %d replays, got %d (other %d)", workers-1, replayed.Load(), other.Load())
	}
	if winner.Load().DeviceID != pair.DeviceID {
		t.Fatalf("winner changed device: %s != %s", winner.Load().DeviceID, pair.DeviceID)
	}
}
