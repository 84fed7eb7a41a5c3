// Package dedup implements content-addressed, at-most-once-per-fingerprint
// result caching. The cache is a cost optimization, not a lock: concurrent
// checks for the same fingerprint may all miss.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Fingerprint returns the hex-encoded 256-bit digest of payload||dedupCtx.
// agent_id is deliberately excluded so independent agents sharing identical
// payload and context hit the same entry.
func Fingerprint(payload []byte, dedupCtx string) string {
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(dedupCtx))
	return hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	recordedAtSecs int64
	result         []byte
}

// DurableStore is the subset of the external storage collaborator the
// dedup cache relies on for cross-process persistence. Consulted only as a
// best-effort promotion path; failures never block a check or record.
type DurableStore interface {
	CheckDedup(key string) ([]byte, bool)
	WriteDedup(key string, value []byte)
}

// Cache is the in-memory, TTL-bounded fingerprint -> result map, optionally
// backed by a DurableStore.
type Cache struct {
	ttl    time.Duration
	store  DurableStore
	logger *zap.SugaredLogger

	// clock is used for every time-related operation instead of the
	// package-level time functions, so RunCleanupLoop can be driven by a
	// clock.Mock in tests instead of a real ticker.
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]entry

	hits   int64
	misses int64
}

// Option customizes a Cache at construction.
type Option func(*Cache)

// WithStore attaches a durable store for cross-process dedup persistence.
func WithStore(store DurableStore) Option {
	return func(c *Cache) { c.store = store }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithClock overrides the cache's clock, used by tests to control
// RunCleanupLoop deterministically.
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) { c.clock = clk }
}

// New builds a dedup cache with the given TTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		ttl:     ttl,
		logger:  zap.NewNop().Sugar(),
		clock:   clock.New(),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check looks up a fingerprint. A present, unexpired entry returns its
// bytes; an expired entry is evicted and reported as a miss; absent from
// memory but present durably is promoted into memory before returning.
func (c *Cache) Check(payload []byte, dedupCtx string, nowSecs int64) ([]byte, bool) {
	fp := Fingerprint(payload, dedupCtx)
	return c.CheckFingerprint(fp, nowSecs)
}

// CheckFingerprint is Check for callers that have already computed the
// fingerprint (e.g. the pipeline, which logs it before dispatch).
func (c *Cache) CheckFingerprint(fp string, nowSecs int64) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[fp]
	c.mu.RUnlock()

	if ok {
		if nowSecs-e.recordedAtSecs < int64(c.ttl.Seconds()) {
			c.bump(&c.hits)
			return e.result, true
		}
		c.mu.Lock()
		if current, still := c.entries[fp]; still && current.recordedAtSecs == e.recordedAtSecs {
			delete(c.entries, fp)
		}
		c.mu.Unlock()
	}

	if c.store != nil {
		if result, found := c.store.CheckDedup(fp); found {
			c.mu.Lock()
			c.entries[fp] = entry{recordedAtSecs: nowSecs, result: result}
			c.mu.Unlock()
			c.bump(&c.hits)
			return result, true
		}
	}

	c.bump(&c.misses)
	return nil, false
}

// Record stores a fresh result for a fingerprint, overwriting any existing
// entry. A later record for the same fingerprint wins over an in-flight,
// slower check.
func (c *Cache) Record(payload []byte, dedupCtx string, result []byte, nowSecs int64) string {
	fp := Fingerprint(payload, dedupCtx)
	c.RecordFingerprint(fp, result, nowSecs)
	return fp
}

// RecordFingerprint is Record for a precomputed fingerprint.
func (c *Cache) RecordFingerprint(fp string, result []byte, nowSecs int64) {
	c.mu.Lock()
	c.entries[fp] = entry{recordedAtSecs: nowSecs, result: result}
	c.mu.Unlock()

	if c.store != nil {
		c.store.WriteDedup(fp, result)
	}
}

// Cleanup sweeps the in-memory map and drops entries older than the TTL,
// returning the count removed.
func (c *Cache) Cleanup(nowSecs int64) int {
	ttlSecs := int64(c.ttl.Seconds())
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, e := range c.entries {
		if nowSecs-e.recordedAtSecs >= ttlSecs {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently cached in memory.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats reports cumulative hit/miss counters.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

// Stats returns a snapshot of the cache's hit/miss counters and size.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:   loadCounter(&c.hits),
		Misses: loadCounter(&c.misses),
		Size:   size,
	}
}

func (c *Cache) bump(counter *int64) {
	atomic.AddInt64(counter, 1)
}

func loadCounter(counter *int64) int64 {
	return atomic.LoadInt64(counter)
}

// RunCleanupLoop runs Cleanup on a ticker until stop is closed.
func (c *Cache) RunCleanupLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := c.Cleanup(c.clock.Now().Unix())
			if removed > 0 {
				c.logger.Infow("dedup cleanup swept entries", "removed", removed)
			}
		case <-stop:
			return
		}
	}
}
