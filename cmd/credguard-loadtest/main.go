// Command credguard-loadtest races concurrent Consume calls against the
// Redis confirmation store and reports any token redeemed more than once.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/credguard/confirmation"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		tokens      = flag.Int("tokens", 20000, "number of confirmation tokens to create")
		racers      = flag.Int("racers", 8, "concurrent Consume calls per token")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers for the create phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "ccf-load", "confirmation key prefix")
	)
	flag.Parse()

	if *tokens <= 0 || *racers <= 1 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "tokens and concurrency must be > 0, racers must be > 1")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := confirmation.NewRedisStore(client, confirmation.RedisOptions{Prefix: *prefix})

	fmt.Printf("creating %d tokens...\n", *tokens)
	created, createStats := runCreatePhase(ctx, store, *tokens, *concurrency)
	consumeStats, violations := runRacePhase(ctx, store, created, *racers)
	mismatchStats, mismatchViolations := runMismatchPhase(ctx, store, *tokens/10+1)

	fmt.Println("---- results ----")
	printStats("create", createStats)
	printStats("consume", consumeStats)
	printStats("mismatch", mismatchStats)
	fmt.Printf("double redemptions=%d mismatch consumed=%d\n", violations, mismatchViolations)

	if violations > 0 || mismatchViolations > 0 {
		os.Exit(1)
	}
}

func runCreatePhase(ctx context.Context, store confirmation.Store, n, concurrency int) ([]string, phaseStats) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		out       = make([]string, n)
		latencies = make([]time.Duration, 0, n)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					return
				}
				t0 := time.Now()
				tok, err := store.Create(ctx, confirmation.PurposeEmailChange, fmt.Sprintf("subject-%d", i),
					map[string]string{"new_email": fmt.Sprintf("user%d@example.com", i)}, time.Hour)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				out[i] = tok
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return out, computeStats(time.Since(start), latencies, failures)
}

// runRacePhase fires racers goroutines at each token at once. Exactly one
// must see StatusOK; the rest must see StatusAlreadyUsed.
func runRacePhase(ctx context.Context, store confirmation.Store, tokens []string, racers int) (phaseStats, int64) {
	var (
		failures   int64
		violations int64
		latencies  = make([]time.Duration, 0, len(tokens)*racers)
		mu         sync.Mutex
	)

	start := time.Now()
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		var (
			wg   sync.WaitGroup
			wins int64
			gate = make(chan struct{})
		)
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				t0 := time.Now()
				res, err := store.Consume(ctx, tok, confirmation.PurposeEmailChange)
				d := time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case res.OK():
					atomic.AddInt64(&wins, 1)
				case res.Status != confirmation.StatusAlreadyUsed:
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}()
		}
		close(gate)
		wg.Wait()
		if wins != 1 {
			violations++
		}
	}
	return computeStats(time.Since(start), latencies, failures), violations
}

// runMismatchPhase presents each deletion token under the wrong purpose
// first; the token must still be redeemable afterwards.
func runMismatchPhase(ctx context.Context, store confirmation.Store, n int) (phaseStats, int64) {
	var (
		failures   int64
		violations int64
		latencies  = make([]time.Duration, 0, 2*n)
	)

	start := time.Now()
	for i := 0; i < n; i++ {
		tok, err := store.Create(ctx, confirmation.PurposeDeletionConfirm, fmt.Sprintf("mismatch-%d", i), nil, time.Hour)
		if err != nil {
			failures++
			continue
		}

		t0 := time.Now()
		res, err := store.Consume(ctx, tok, confirmation.PurposeEmailChange)
		latencies = append(latencies, time.Since(t0))
		if err != nil || res.Status != confirmation.StatusPurposeMismatch {
			failures++
		}

		t0 = time.Now()
		res, err = store.Consume(ctx, tok, confirmation.PurposeDeletionConfirm)
		latencies = append(latencies, time.Since(t0))
		if err != nil || !res.OK() {
			violations++
		}
	}
	return computeStats(time.Since(start), latencies, failures), violations
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
