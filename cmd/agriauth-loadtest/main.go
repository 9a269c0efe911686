package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/agrivision/agriauth"
	"github.com/agrivision/agriauth/notify"
	"github.com/agrivision/agriauth/risk"
	"github.com/agrivision/agriauth/store/memory"
)

const loadPassword = "loadtest-password-1"

// codeSink records the last code sent to each account.
type codeSink struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *codeSink) Name() string { return "loadtest" }

func (c *codeSink) Send(_ context.Context, to notify.Recipient, msg notify.Message) error {
	c.mu.Lock()
	c.codes[to.AccountID] = msg.Code
	c.mu.Unlock()
	return nil
}

func (c *codeSink) code(accountID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[accountID]
}

func main() {
	var (
		accounts    = flag.Int("accounts", 200, "number of accounts to register")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 2000, "operations per phase (login + validate)")
		challenges  = flag.Int("challenges", 200, "MFA challenges raced in the verify phase")
		racers      = flag.Int("racers", 8, "concurrent verifiers per challenge")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 || *challenges <= 0 || *racers <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, ops, challenges, and racers must be > 0")
		os.Exit(2)
	}

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

	var score atomic.Int64
	sink := &codeSink{codes: make(map[string]string)}

	cfg := agriauth.DefaultConfig()
	cfg.Token.PrivateKey = []byte("loadtest-signing-key-loadtest-signing-key")
	cfg.Password.BcryptCost = 10
	cfg.RateLimit.RedisPrefix = fmt.Sprintf("lt%d", time.Now().UnixNano())
	cfg.MFA.RedisPrefix = cfg.RateLimit.RedisPrefix + "c"
	cfg.RateLimit.LoginIP.Limit = 0
	cfg.RateLimit.LoginAccount.Limit = 0
	cfg.RateLimit.Register.Limit = 0
	cfg.RateLimit.MFAVerify.Limit = 0

	engine, err := agriauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(memory.New()).
		WithRiskScorer(risk.Func(func(context.Context, risk.Signal) (int, error) {
			return int(score.Load()), nil
		})).
		WithNotifyChannels(sink).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	emails := make([]string, *accounts)
	fmt.Printf("registering %d accounts...\n", *accounts)
	startSeed := time.Now()
	for i := range emails {
		emails[i] = fmt.Sprintf("grower-%d@loadtest.agrivision.test", i)
		ctx := agriauth.WithClientIP(context.Background(), ipFor(i))
		if _, err := engine.Register(ctx, agriauth.Registration{
			Email:    emails[i],
			Password: loadPassword,
			Name:     fmt.Sprintf("Grower %d", i),
		}); err != nil {
			fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("registered in %s\n", time.Since(startSeed).Round(time.Millisecond))

	var tokensMu sync.Mutex
	tokens := make([]string, *accounts)
	loginStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, i int) error {
		idx := r.Intn(len(emails))
		ctx := agriauth.WithClientIP(context.Background(), ipFor(i))
		result, err := engine.Login(ctx, emails[idx], loadPassword)
		if err != nil {
			return err
		}
		tokensMu.Lock()
		tokens[idx] = result.Token
		tokensMu.Unlock()
		return nil
	})

	issued := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			issued = append(issued, t)
		}
	}
	if len(issued) == 0 {
		fmt.Fprintln(os.Stderr, "no tokens issued; login phase failed entirely")
		os.Exit(1)
	}

	validateStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, _ int) error {
		_, err := engine.ValidateToken(context.Background(), issued[r.Intn(len(issued))])
		return err
	})

	score.Store(100)
	raceStats, violations := runMFARace(engine, sink, emails, *challenges, *racers)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("validate", validateStats)
	printStats("mfa-verify", raceStats)
	if violations > 0 {
		fmt.Printf("mfa-verify: %d challenges were not consumed exactly once\n", violations)
		os.Exit(1)
	}
	fmt.Println("mfa-verify: every challenge consumed exactly once")
}

// runPhase spreads ops operations over concurrency workers.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runMFARace opens one challenge per account and lets racers submit the
// correct code at once. Exactly one verify per challenge may succeed.
func runMFARace(engine *agriauth.Engine, sink *codeSink, emails []string, challenges, racers int) (phaseStats, int) {
	var (
		latencies  []time.Duration
		failures   int64
		violations int
		mu         sync.Mutex
	)

	start := time.Now()
	for i := 0; i < challenges; i++ {
		ctx := agriauth.WithClientIP(context.Background(), ipFor(i))
		result, err := engine.Login(ctx, emails[i%len(emails)], loadPassword)
		if err != nil || !result.MFARequired {
			failures++
			continue
		}
		code := sink.code(result.AccountID)

		var (
			wg      sync.WaitGroup
			winners int64
		)
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				t0 := time.Now()
				_, err := engine.VerifyMFA(ctx, result.ChallengeID, code)
				d := time.Since(t0)
				if err == nil {
					atomic.AddInt64(&winners, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}()
		}
		wg.Wait()
		if winners != 1 {
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

func ipFor(i int) string {
	return fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xff, (i>>8)&0xff, i&0xff)
}
