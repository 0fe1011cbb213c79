// Command goguard-loadtest drives the refresh rotation CAS and the fixed-window
// limiter against Redis, or an in-process miniredis when no address is given,
// and prints throughput and latency percentiles per phase.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGate/device"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type deviceState struct {
	subjectID string
	deviceID  string
	hash      [32]byte
	mu        sync.Mutex
}

func main() {
	var (
		devices     = flag.Int("devices", 20000, "number of devices to register")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		clients     = flag.Int("clients", 500, "distinct client addresses for the limiter phase")
		limit       = flag.Int("limit", 100, "requests per window for the limiter phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "key prefix")
	)
	flag.Parse()

	if *devices <= 0 || *concurrency <= 0 || *ops <= 0 || *clients <= 0 || *limit <= 0 {
		fmt.Fprintln(os.Stderr, "devices, concurrency, ops, clients and limit must be > 0")
		os.Exit(2)
	}

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	ctx := context.Background()
	store := device.NewRedisStore(client, *prefix+":dv")

	states, err := seed(ctx, store, *devices)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	results := []phaseStats{
		runRotatePhase(ctx, store, states, *ops, *concurrency),
		runReplayPhase(ctx, store, states, *ops, *concurrency),
		runLimiterPhase(ctx, rate.New(client), *prefix+":rl:", *clients, *limit, *ops, *concurrency),
	}

	fmt.Println("---- results ----")
	for _, s := range results {
		printStats(s)
	}
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func seed(ctx context.Context, store *device.RedisStore, n int) ([]*deviceState, error) {
	fmt.Printf("registering %d devices...\n", n)
	start := time.Now()
	now := time.Now()
	states := make([]*deviceState, n)
	for i := range states {
		st := &deviceState{
			subjectID: fmt.Sprintf("s-%d", i%1000),
			deviceID:  fmt.Sprintf("d-%d", i),
			hash:      sha256.Sum256(fmt.Appendf(nil, "seed-%d", i)),
		}
		d := device.New(st.subjectID, device.Meta{DeviceID: st.deviceID, DeviceType: "web"}, now)
		d.RefreshTokenHash = st.hash
		if err := store.Register(ctx, d, 24*time.Hour); err != nil {
			return nil, err
		}
		states[i] = st
	}
	fmt.Printf("registered in %s\n", time.Since(start).Round(time.Millisecond))
	return states, nil
}

// runWorkers spreads ops across concurrency goroutines and records the
// latency of each call to op. op reports whether the outcome was expected.
func runWorkers(name string, ops, concurrency int, op func(r *rand.Rand, i int) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := range concurrency {
		wg.Add(1)
		go func(worker uint64) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), worker))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				i := int(cursor.Add(1)) - 1
				if i >= ops {
					break
				}
				t0 := time.Now()
				ok := op(r, i)
				local = append(local, time.Since(t0))
				if !ok {
					failures.Add(1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(uint64(w))
	}
	wg.Wait()
	return computeStats(name, time.Since(start), latencies, failures.Load())
}

// runRotatePhase performs valid rotations; every failure is unexpected.
func runRotatePhase(ctx context.Context, store *device.RedisStore, states []*deviceState, ops, concurrency int) phaseStats {
	return runWorkers("rotate", ops, concurrency, func(r *rand.Rand, i int) bool {
		st := states[r.IntN(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()

		next := sha256.Sum256(append(st.hash[:], byte(i)))
		err := store.Rotate(ctx, device.RotateRequest{
			SubjectID: st.subjectID,
			DeviceID:  st.deviceID,
			Presented: st.hash,
			Next:      next,
			SeenAt:    time.Now(),
			TTL:       24 * time.Hour,
		})
		if err != nil {
			return false
		}
		st.hash = next
		return true
	})
}

// runReplayPhase presents superseded hashes; anything but ErrHashMismatch
// counts as a failure.
func runReplayPhase(ctx context.Context, store *device.RedisStore, states []*deviceState, ops, concurrency int) phaseStats {
	return runWorkers("replay", ops, concurrency, func(r *rand.Rand, i int) bool {
		st := states[r.IntN(len(states))]
		stale := sha256.Sum256(fmt.Appendf(nil, "stale-%d", i))
		err := store.Rotate(ctx, device.RotateRequest{
			SubjectID: st.subjectID,
			DeviceID:  st.deviceID,
			Presented: stale,
			Next:      stale,
			SeenAt:    time.Now(),
			TTL:       24 * time.Hour,
		})
		return errors.Is(err, device.ErrHashMismatch)
	})
}

// runLimiterPhase hits the fixed-window counter from random client addresses.
// Store errors are failures; denials are expected once a client passes limit.
func runLimiterPhase(ctx context.Context, limiter *rate.Limiter, prefix string, clients, limit, ops, concurrency int) phaseStats {
	var denied atomic.Int64
	stats := runWorkers("limiter", ops, concurrency, func(r *rand.Rand, _ int) bool {
		key := fmt.Sprintf("%s198.51.%d.%d", prefix, r.IntN(clients)/256, r.IntN(clients)%256)
		d, err := limiter.Allow(ctx, key, time.Minute, limit)
		if err != nil {
			return false
		}
		if !d.Permitted {
			denied.Add(1)
		}
		return true
	})
	stats.note = fmt.Sprintf("denied=%d", denied.Load())
	return stats
}

type phaseStats struct {
	name     string
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
	note     string
}

func computeStats(name string, total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{name: name, total: total}
	}
	slices.Sort(samples)
	return phaseStats{
		name:     name,
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[(len(sorted)-1)*p/100]
}

func printStats(s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s %s\n",
		s.name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
		s.note,
	)
}
