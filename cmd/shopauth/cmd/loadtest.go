package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/storefront/shopauth"
	"github.com/storefront/shopauth/identity/memory"
	"github.com/storefront/shopauth/mail"
)

var loadtestFlags struct {
	users       int
	concurrency int
	ops         int
	races       int
	contenders  int
	redisAddr   string
}

type userState struct {
	email   string
	userID  string
	access  string
	refresh string
	mu      sync.Mutex
}

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Drive concurrent authenticate and refresh traffic against Redis",
	Long: `Seeds sessions through the engine, then runs three phases: access token
authentication, uncontended refresh rotation, and contended refresh races
where several callers present the same refresh token at once. Exactly one
caller per race may win; the command fails if any race has another outcome.

Without --redis-addr (or REDIS_ADDR) an in-process miniredis is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := loadtestFlags
		if f.users <= 0 || f.concurrency <= 0 || f.ops <= 0 || f.contenders < 2 {
			return errors.New("users, concurrency and ops must be > 0 and contenders >= 2")
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		addr := f.redisAddr
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		var client redis.UniversalClient
		if addr == "" {
			mr, err := miniredis.Run()
			if err != nil {
				return fmt.Errorf("failed to start miniredis: %w", err)
			}
			defer mr.Close()
			addr = mr.Addr()
			fmt.Fprintf(out, "using miniredis at %s\n", addr)
		} else {
			fmt.Fprintf(out, "using redis at %s\n", addr)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		defer client.Close()

		cfg := shopauth.DefaultConfig()
		cfg.Session.RedisPrefix = "loadtest"
		cfg.Password.Memory = 8 * 1024
		cfg.Password.Time = 1
		cfg.Password.Parallelism = 1
		cfg.Mail.SendWelcome = false
		cfg.Metrics.Enabled = false

		engine, err := shopauth.New().
			WithConfig(cfg).
			WithRedis(client).
			WithUserStore(memory.New()).
			WithMailer(mail.MailerFunc(func(context.Context, mail.Message) error { return nil })).
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
			Build()
		if err != nil {
			return err
		}
		defer engine.Close()

		states := make([]*userState, f.users)
		fmt.Fprintf(out, "seeding %d sessions...\n", f.users)
		startSeed := time.Now()
		for i := range states {
			email := fmt.Sprintf("user-%d@loadtest.invalid", i)
			res, err := engine.Register(ctx, shopauth.RegisterInput{
				Email:    email,
				Name:     "load",
				Password: loadtestPassword,
				Role:     string(shopauth.RoleCustomer),
			})
			if err != nil {
				return fmt.Errorf("register %s: %w", email, err)
			}
			states[i] = &userState{email: email, userID: res.User.ID, access: res.AccessToken, refresh: res.RefreshToken}
		}
		fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

		authStats := runAuthenticatePhase(ctx, engine, states, f.ops, f.concurrency)
		refreshStats := runRefreshPhase(ctx, engine, states, f.ops, f.concurrency)
		races := f.races
		if races <= 0 || races > len(states) {
			races = len(states)
		}
		raceStats, violations := runContendedPhase(ctx, engine, states, races, f.contenders, f.concurrency)

		fmt.Fprintln(out, "---- results ----")
		printStats(out, "authenticate", authStats)
		printStats(out, "refresh", refreshStats)
		printStats(out, "contended", raceStats)
		fmt.Fprintf(out, "contended: races=%d contenders=%d violations=%d\n", races, f.contenders, violations)

		if violations > 0 {
			return fmt.Errorf("%d races did not have exactly one winner", violations)
		}
		return nil
	},
}

const loadtestPassword = "loadtest-password"

func runAuthenticatePhase(ctx context.Context, engine *shopauth.Engine, states []*userState, ops, concurrency int) phaseStats {
	rec := newRecorder(ops)
	var cursor int64

	start := time.Now()
	runWorkers(concurrency, func(worker int) {
		r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)*7919))
		for {
			i := int(atomic.AddInt64(&cursor, 1)) - 1
			if i >= ops {
				return
			}
			state := states[r.IntN(len(states))]
			state.mu.Lock()
			access := state.access
			state.mu.Unlock()

			t0 := time.Now()
			_, err := engine.Authenticate(ctx, access)
			rec.observe(time.Since(t0), err)
		}
	})
	return rec.stats(time.Since(start))
}

func runRefreshPhase(ctx context.Context, engine *shopauth.Engine, states []*userState, ops, concurrency int) phaseStats {
	rec := newRecorder(ops)
	var cursor int64

	start := time.Now()
	runWorkers(concurrency, func(worker int) {
		r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)*6151))
		for {
			i := int(atomic.AddInt64(&cursor, 1)) - 1
			if i >= ops {
				return
			}
			state := states[r.IntN(len(states))]

			state.mu.Lock()
			t0 := time.Now()
			pair, err := engine.Refresh(ctx, state.userID, state.refresh)
			d := time.Since(t0)
			if err == nil {
				state.access, state.refresh = pair.AccessToken, pair.RefreshToken
			}
			state.mu.Unlock()

			rec.observe(d, err)
		}
	})
	return rec.stats(time.Since(start))
}

// runContendedPhase races contenders refreshes of one token per user. Losers
// revoke the session, so every raced user is logged in again afterwards.
func runContendedPhase(ctx context.Context, engine *shopauth.Engine, states []*userState, races, contenders, concurrency int) (phaseStats, int64) {
	rec := newRecorder(races * contenders)
	var (
		cursor     int64
		violations int64
	)

	start := time.Now()
	runWorkers(max(1, concurrency/contenders), func(int) {
		for {
			i := int(atomic.AddInt64(&cursor, 1)) - 1
			if i >= races {
				return
			}
			state := states[i]
			state.mu.Lock()

			var (
				wg      sync.WaitGroup
				winners int64
				gate    = make(chan struct{})
			)
			for c := 0; c < contenders; c++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-gate
					t0 := time.Now()
					_, err := engine.Refresh(ctx, state.userID, state.refresh)
					if err == nil {
						atomic.AddInt64(&winners, 1)
					}
					rec.observe(time.Since(t0), err)
				}()
			}
			close(gate)
			wg.Wait()

			if winners != 1 {
				atomic.AddInt64(&violations, 1)
			}
			if res, err := engine.Login(ctx, state.email, loadtestPassword); err == nil {
				state.access, state.refresh = res.AccessToken, res.RefreshToken
			}
			state.mu.Unlock()
		}
	})
	return rec.stats(time.Since(start)), violations
}

func runWorkers(n int, fn func(worker int)) {
	var wg sync.WaitGroup
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			fn(worker)
		}(w)
	}
	wg.Wait()
}

type recorder struct {
	mu        sync.Mutex
	latencies []time.Duration
	outcomes  map[string]int64
}

func newRecorder(capacity int) *recorder {
	return &recorder{
		latencies: make([]time.Duration, 0, capacity),
		outcomes:  make(map[string]int64),
	}
}

func (r *recorder) observe(d time.Duration, err error) {
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.outcomes[outcomeLabel(err)]++
	r.mu.Unlock()
}

func (r *recorder) stats(total time.Duration) phaseStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := computeStats(total, r.latencies)
	s.outcomes = r.outcomes
	return s
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, shopauth.ErrTokenReuseDetected):
		return "reuse"
	case errors.Is(err, shopauth.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, shopauth.ErrInvalidRefreshToken), errors.Is(err, shopauth.ErrUnauthorized):
		return "invalid"
	default:
		return "error"
	}
}

type phaseStats struct {
	total    time.Duration
	ops      int
	outcomes map[string]int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:   total,
		ops:     len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
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

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d success=%d reuse=%d not_found=%d invalid=%d error=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.outcomes["success"],
		s.outcomes["reuse"],
		s.outcomes["not_found"],
		s.outcomes["invalid"],
		s.outcomes["error"],
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func init() {
	rootCmd.AddCommand(loadtestCmd)
	fl := loadtestCmd.Flags()
	fl.IntVar(&loadtestFlags.users, "users", 1000, "number of sessions to seed")
	fl.IntVar(&loadtestFlags.concurrency, "concurrency", 64, "number of concurrent workers")
	fl.IntVar(&loadtestFlags.ops, "ops", 20000, "operations per uncontended phase")
	fl.IntVar(&loadtestFlags.races, "races", 200, "contended refresh races (at most one per user)")
	fl.IntVar(&loadtestFlags.contenders, "contenders", 8, "callers per contended race")
	fl.StringVar(&loadtestFlags.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
}
