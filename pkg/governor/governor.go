// Package governor mediates every outbound model call: it enforces a minimum
// spacing between calls and an hourly ceiling over a trailing window, and
// retries transient failures with exponential backoff.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Config configures a Governor. See DefaultConfig for the production limits.
type Config struct {
	MinDelay    time.Duration // Minimum spacing between attempts; 0 disables it
	HourlyLimit int           // Attempts allowed in the trailing window (0 means 80)
	WindowSize  time.Duration // Trailing window length (0 means 1h)
	MaxRetries  int           // Retries after the first attempt
	Backoff     Backoff       // Retry delay policy (zero Base means DefaultBackoff)

	Window   Window           // Call accounting store (default in-memory)
	Classify func(error) bool // Retryable classifier (default IsRetryable)
	Logger   *slog.Logger     // Operational log (default slog.Default)
	Now      func() time.Time // Clock (default time.Now)
	Sleep    func(context.Context, time.Duration) error
	Jitter   func() float64 // Uniform [0,1) source for backoff jitter
}

// DefaultConfig returns the limits used against the hosted model API:
// roughly 8 calls per minute and 80 per hour.
func DefaultConfig() Config {
	return Config{
		MinDelay:    7500 * time.Millisecond,
		HourlyLimit: 80,
		WindowSize:  time.Hour,
		MaxRetries:  5,
		Backoff:     DefaultBackoff(),
	}
}

// Governor is safe for concurrent use.
type Governor struct {
	mu sync.Mutex

	minDelay    time.Duration
	hourlyLimit int
	windowSize  time.Duration
	maxRetries  int
	backoff     Backoff

	window   Window
	classify func(error) bool
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	jitter   func() float64

	last time.Time
}

// New creates a governor from cfg.
func New(cfg Config) *Governor {
	def := DefaultConfig()
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.HourlyLimit <= 0 {
		cfg.HourlyLimit = def.HourlyLimit
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.Window == nil {
		cfg.Window = NewMemoryWindow()
	}
	if cfg.Classify == nil {
		cfg.Classify = IsRetryable
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Jitter == nil {
		cfg.Jitter = rand.Float64
	}

	return &Governor{
		minDelay:    cfg.MinDelay,
		hourlyLimit: cfg.HourlyLimit,
		windowSize:  cfg.WindowSize,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Backoff,
		window:      cfg.Window,
		classify:    cfg.Classify,
		logger:      cfg.Logger,
		now:         cfg.Now,
		sleep:       cfg.Sleep,
		jitter:      cfg.Jitter,
	}
}

// Execute runs op under rate limiting and retry. Every attempt, successful or
// not, is recorded in the window. Non-retryable errors return immediately as
// *NonRetryableCallError; exhausted retries return *RetryableCallError.
func (g *Governor) Execute(ctx context.Context, name string, op func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := g.Acquire(ctx); err != nil {
			return fmt.Errorf("%s: wait for capacity: %w", name, err)
		}

		err := op(ctx)
		if err == nil {
			CallAttempts.WithLabelValues(name, "success").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
		if !g.classify(err) {
			CallAttempts.WithLabelValues(name, "fatal").Inc()
			return &NonRetryableCallError{Op: name, Attempts: attempt + 1, Err: err}
		}
		CallAttempts.WithLabelValues(name, "retryable").Inc()
		if attempt >= g.maxRetries {
			return &RetryableCallError{Op: name, Attempts: attempt + 1, Err: err}
		}

		delay := g.backoff.Delay(attempt, g.jitter)
		g.logger.Warn("retrying call", "op", name, "attempt", attempt+1, "delay", delay, "err", err)
		if err := g.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: backoff: %w", name, err)
		}
	}
}

// Call runs op through g and returns its result.
func Call[T any](ctx context.Context, g *Governor, name string, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Execute(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Acquire blocks until both the minimum delay and the hourly ceiling allow
// another call, then records it.
func (g *Governor) Acquire(ctx context.Context) error {
	var waited time.Duration
	for {
		wait, err := g.reserve(ctx)
		if err != nil {
			return err
		}
		if wait <= 0 {
			WaitSeconds.Observe(waited.Seconds())
			return nil
		}
		g.logger.Debug("rate limit wait", "delay", wait)
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

// reserve records a call and returns 0 when capacity is available, or the
// time to wait before trying again.
func (g *Governor) reserve(ctx context.Context) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	stats, err := g.window.Stats(ctx, now.Add(-g.windowSize))
	if err != nil {
		return 0, err
	}
	WindowCalls.Set(float64(stats.Count))

	last := g.last
	if stats.Newest.After(last) {
		last = stats.Newest
	}

	var wait time.Duration
	if !last.IsZero() {
		wait = last.Add(g.minDelay).Sub(now)
	}
	if stats.Count >= g.hourlyLimit {
		if w := stats.Oldest.Add(g.windowSize).Sub(now); w > wait {
			wait = w
		}
		if wait <= 0 {
			// The oldest entry ages out exactly now; let the next Stats prune it.
			wait = time.Millisecond
		}
	}
	if wait > 0 {
		return wait, nil
	}

	if err := g.window.Record(ctx, now); err != nil {
		return 0, err
	}
	g.last = now
	return 0, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
