// Package ratelimit implements token-bucket and sliding-window admission,
// composed as global bucket -> per-key bucket -> per-key window.
//
// The reference implementation commits the global bucket's token
// consumption before checking the per-key bucket or window, which leaks
// global tokens whenever a later check rejects the request: the caller is
// refused, but the global capacity it consumed is never returned. This
// package closes that leak by taking cancellable reservations against both
// buckets and only finalizing them once the non-destructive window check
// has also passed — reorder-with-rollback rather than commit-then-hope.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// LimitExceededError reports which limiter in the chain rejected the
// request.
type LimitExceededError struct {
	Key        string
	Limit      int
	WindowSecs int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d requests per %ds", e.Key, e.Limit, e.WindowSecs)
}

// Config configures a Limiter.
type Config struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstCapacity     int `yaml:"burst_capacity"`
	WindowSecs        int `yaml:"window_secs"`
}

// DefaultConfig matches the reference implementation's defaults.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 100, BurstCapacity: 200, WindowSecs: 60}
}

// Limiter composes a global token bucket, per-key token buckets, and
// per-key sliding windows. Per-key entries are created on first use and are
// never removed during normal operation; cleanup is a separate maintenance
// pass (see Reset).
type Limiter struct {
	config Config
	logger *zap.SugaredLogger

	// clock is used for every time-related operation instead of the
	// package-level time functions, matching the bucket/window split: a
	// clock.Mock in tests drives refill and window eviction deterministically.
	clock clock.Clock

	global *tokenBucket

	mu      sync.Mutex
	buckets map[string]*tokenBucket
	windows map[string]*slidingWindow
}

// New builds a Limiter. The global bucket's capacity and refill rate are
// 10x the per-key values, per §4.4's global-bucket defaults.
func New(config Config, logger *zap.SugaredLogger) *Limiter {
	return newLimiterWithClock(config, logger, clock.New())
}

func newLimiterWithClock(config Config, logger *zap.SugaredLogger, clk clock.Clock) *Limiter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Limiter{
		config:  config,
		logger:  logger,
		clock:   clk,
		global:  newTokenBucket(float64(config.BurstCapacity*10), float64(config.RequestsPerSecond*10), clk),
		buckets: make(map[string]*tokenBucket),
		windows: make(map[string]*slidingWindow),
	}
}

func (l *Limiter) bucketFor(key string) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newTokenBucket(float64(l.config.BurstCapacity), float64(l.config.RequestsPerSecond), l.clock)
		l.buckets[key] = b
	}
	return b
}

func (l *Limiter) windowFor(key string) *slidingWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = newSlidingWindow(time.Duration(l.config.WindowSecs)*time.Second, l.windowLimit())
		l.windows[key] = w
	}
	return w
}

// windowLimit is the per-key sliding window's admission limit:
// RequestsPerSecond*WindowSecs, raised to BurstCapacity when that is smaller
// so the window admits at least one full burst.
func (l *Limiter) windowLimit() int {
	limit := l.config.RequestsPerSecond * l.config.WindowSecs
	if limit < l.config.BurstCapacity {
		return l.config.BurstCapacity
	}
	return limit
}

// Acquire admits n units for key, or none at all: global bucket, per-key
// bucket, and per-key window must all admit for the call to succeed. A
// rejection at any stage leaves every limiter's accounting exactly as it
// was before the call — no partial consumption survives a rollback.
func (l *Limiter) Acquire(key string, n int) error {
	now := l.clock.Now()
	globalRes, ok := l.global.reserve(n, now)
	if !ok {
		l.logger.Warnw("global rate limit hit", "key", key)
		return &LimitExceededError{Key: "global", Limit: l.config.RequestsPerSecond * 10, WindowSecs: 1}
	}

	bucket := l.bucketFor(key)
	bucketRes, ok := bucket.reserve(n, now)
	if !ok {
		globalRes.CancelAt(now)
		l.logger.Debugw("per-key rate limit hit", "key", key)
		return &LimitExceededError{Key: key, Limit: l.config.RequestsPerSecond, WindowSecs: 1}
	}

	window := l.windowFor(key)
	if !window.checkNonDestructive(n, now) {
		bucketRes.CancelAt(now)
		globalRes.CancelAt(now)
		return &LimitExceededError{Key: key, Limit: l.windowLimit(), WindowSecs: l.config.WindowSecs}
	}

	window.commit(n, now)
	return nil
}

// Check reports whether a call would currently be admitted, without
// consuming any capacity.
func (l *Limiter) Check(key string) bool {
	now := l.clock.Now()
	if l.global.available() <= 0 {
		return false
	}
	l.mu.Lock()
	bucket, hasBucket := l.buckets[key]
	window, hasWindow := l.windows[key]
	l.mu.Unlock()

	if hasBucket && bucket.available() <= 0 {
		return false
	}
	if hasWindow {
		if window.currentCount(now) >= l.windowLimit() {
			return false
		}
	}
	return true
}

// Usage reports current admission headroom for a key.
type Usage struct {
	TokensAvailable int
	WindowCount     int
	WindowLimit     int
}

// Utilization returns the window usage as a percentage of its limit.
func (u Usage) Utilization() float64 {
	if u.WindowLimit == 0 {
		return 0
	}
	return float64(u.WindowCount) / float64(u.WindowLimit) * 100
}

// Usage reports a key's current bucket headroom and window occupancy.
func (l *Limiter) Usage(key string) Usage {
	l.mu.Lock()
	bucket, hasBucket := l.buckets[key]
	window, hasWindow := l.windows[key]
	l.mu.Unlock()

	tokensAvailable := l.config.BurstCapacity
	if hasBucket {
		tokensAvailable = bucket.available()
	}
	windowCount := 0
	if hasWindow {
		windowCount = window.currentCount(l.clock.Now())
	}
	return Usage{
		TokensAvailable: tokensAvailable,
		WindowCount:     windowCount,
		WindowLimit:     l.windowLimit(),
	}
}

// Reset discards a key's bucket and window state, used by the maintenance
// pass that periodically clears out inactive keys.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
	delete(l.windows, key)
}

// LimitedKeys returns every key currently at zero token headroom.
func (l *Limiter) LimitedKeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0)
	for key, bucket := range l.buckets {
		if bucket.available() <= 0 {
			keys = append(keys, key)
		}
	}
	return keys
}
