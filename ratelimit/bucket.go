package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// tokenBucket wraps golang.org/x/time/rate.Limiter, which already implements
// the refill-then-compare-and-swap token bucket semantics §4.4 specifies:
// capacity is the burst size, refill rate is tokens/second. It takes its
// notion of "now" from an injected clock.Clock rather than calling
// time.Now() directly, so Limiter's clock.Mock in tests controls refill.
type tokenBucket struct {
	limiter *rate.Limiter
	clock   clock.Clock
}

func newTokenBucket(capacity, refillRate float64, clk clock.Clock) *tokenBucket {
	return &tokenBucket{limiter: rate.NewLimiter(rate.Limit(refillRate), int(capacity)), clock: clk}
}

// tryAcquire attempts to take n tokens without blocking.
func (b *tokenBucket) tryAcquire(n int) bool {
	return b.limiter.AllowN(b.clock.Now(), n)
}

// reserve takes a cancellable reservation for n tokens at now. OK reports
// whether the reservation was granted immediately (no required delay); a
// granted reservation can be rolled back with CancelAt(now) if a later check
// fails.
func (b *tokenBucket) reserve(n int, now time.Time) (*rate.Reservation, bool) {
	res := b.limiter.ReserveN(now, n)
	if !res.OK() || res.DelayFrom(now) > 0 {
		if res.OK() {
			res.CancelAt(now)
		}
		return nil, false
	}
	return res, true
}

// available is a best-effort look at current burst headroom, used only for
// introspection (Usage), not for admission decisions.
func (b *tokenBucket) available() int {
	return int(b.limiter.TokensAt(b.clock.Now()))
}

// slidingWindow counts admitted requests in a trailing time window.
type slidingWindow struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	samples []windowSample
}

type windowSample struct {
	at    time.Time
	count int
}

func newSlidingWindow(window time.Duration, limit int) *slidingWindow {
	return &slidingWindow{window: window, limit: limit, samples: make([]windowSample, 0, 16)}
}

// checkNonDestructive reports whether n more would fit without recording
// them, so the composed limiter can validate the window before committing
// any bucket consumption.
func (w *slidingWindow) checkNonDestructive(n int, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	return w.sum()+n <= w.limit
}

// commit records n admitted units, assumed already checked.
func (w *slidingWindow) commit(n int, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	w.samples = append(w.samples, windowSample{at: now, count: n})
}

func (w *slidingWindow) currentCount(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	return w.sum()
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for ; i < len(w.samples); i++ {
		if w.samples[i].at.After(cutoff) {
			break
		}
	}
	w.samples = w.samples[i:]
}

func (w *slidingWindow) sum() int {
	total := 0
	for _, s := range w.samples {
		total += s.count
	}
	return total
}
