// Package scheduler implements the multi-level priority queue that orders
// requests by an effective priority blending static priority band with
// deadline proximity, recomputed at comparison time rather than cached.
package scheduler

import (
	"sync"

	"github.com/benbjohnson/clock"

	aimesh "github.com/YASSERRMD/AiMesh"
)

// Boost thresholds and amounts for deadline-proximity blending.
const (
	bandMultiplier = 1000

	boostUrgent   = 500 // time_to_deadline_ms < 1000
	boostSoon     = 200 // time_to_deadline_ms < 5000
	boostUpcoming = 100 // time_to_deadline_ms < 10000

	thresholdUrgent   = 1000
	thresholdSoon     = 5000
	thresholdUpcoming = 10000
)

// queueItem is the heap entry wrapping a Request with its enqueue time.
type queueItem struct {
	request      *aimesh.Request
	enqueuedAtNs int64
}

// PrioritizedRequest is the externally observable heap entry shape.
type PrioritizedRequest struct {
	Request      *aimesh.Request
	Band         aimesh.PriorityBand
	EnqueuedAtNs int64
}

func bandRank(band aimesh.PriorityBand) int {
	return int(band)
}

// EffectivePriority computes the blended priority of a request at nowMs.
// Higher wins. Exported so callers (stats, tests) can reason about ordering
// without re-deriving the formula.
func EffectivePriority(r *aimesh.Request, nowMs int64) int {
	base := bandRank(r.Band()) * bandMultiplier

	if r.DeadlineMs == aimesh.NoDeadline || r.DeadlineMs == aimesh.MaxDeadline {
		return base
	}

	timeToDeadline := r.DeadlineMs - nowMs
	switch {
	case timeToDeadline < thresholdUrgent:
		return base + boostUrgent
	case timeToDeadline < thresholdSoon:
		return base + boostSoon
	case timeToDeadline < thresholdUpcoming:
		return base + boostUpcoming
	default:
		return base
	}
}

// Errors returned by scheduler operations.
type QueueFullError struct{}

func (e *QueueFullError) Error() string { return "scheduler queue is full" }

type QueueClosedError struct{}

func (e *QueueClosedError) Error() string { return "scheduler queue is closed" }

// Stats reports counts per priority band plus the number of expired entries
// observed since the scheduler was created.
type Stats struct {
	Low, Normal, High, Critical int
	ExpiredDropped              int
}

// Scheduler is the priority + deadline max-heap described in §4.3. Ordering
// is recomputed lazily on every comparison because boost depends on the
// current time, not a value fixed at push time.
type Scheduler struct {
	mu          sync.Mutex
	heap        *maxHeap
	maxSize     int
	dropExpired bool
	closed      bool
	notify      chan struct{}

	// clock is used for every time-related operation instead of the
	// package-level time functions, so comparator, Push, and Pop can be
	// driven by a clock.Mock in tests instead of the real wall clock.
	clock clock.Clock

	expiredDropped int
}

// Config configures a Scheduler.
type Config struct {
	MaxSize     int
	DropExpired bool
}

// New constructs a Scheduler. MaxSize <= 0 means unbounded.
func New(cfg Config) *Scheduler {
	return newSchedulerWithClock(cfg, clock.New())
}

func newSchedulerWithClock(cfg Config, clk clock.Clock) *Scheduler {
	s := &Scheduler{
		maxSize:     cfg.MaxSize,
		dropExpired: cfg.DropExpired,
		notify:      make(chan struct{}, 1),
		clock:       clk,
	}
	s.heap = newMaxHeap(func(a, b *queueItem) bool {
		now := s.clock.Now().UnixMilli()
		pa := EffectivePriority(a.request, now)
		pb := EffectivePriority(b.request, now)
		return pa > pb
	})
	return s
}

// Push inserts a request, refusing with QueueFullError at capacity.
func (s *Scheduler) Push(r *aimesh.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &QueueClosedError{}
	}
	if s.maxSize > 0 && s.heap.Len() >= s.maxSize {
		return &QueueFullError{}
	}
	s.heap.Push(&queueItem{request: r, enqueuedAtNs: s.clock.Now().UnixNano()})
	s.signal()
	return nil
}

// Pop removes and returns the highest effective-priority request. When
// dropExpired is enabled, it repeatedly discards expired entries before
// returning the first survivor; it never returns an expired entry in that
// mode.
func (s *Scheduler) Pop() (*PrioritizedRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popLocked()
}

func (s *Scheduler) popLocked() (*PrioritizedRequest, bool) {
	nowMs := s.clock.Now().UnixMilli()
	for {
		item, ok := s.heap.Pop()
		if !ok {
			return nil, false
		}
		if s.dropExpired && item.request.IsExpired(nowMs) {
			s.expiredDropped++
			continue
		}
		return &PrioritizedRequest{
			Request:      item.request,
			Band:         item.request.Band(),
			EnqueuedAtNs: item.enqueuedAtNs,
		}, true
	}
}

// Peek returns the highest effective-priority request without removing it.
// Unlike Pop, it never discards expired entries.
func (s *Scheduler) Peek() (*PrioritizedRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.heap.Peek()
	if !ok {
		return nil, false
	}
	return &PrioritizedRequest{
		Request:      item.request,
		Band:         item.request.Band(),
		EnqueuedAtNs: item.enqueuedAtNs,
	}, true
}

// Len returns the number of queued requests.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Clear discards every queued request.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heap = newMaxHeap(s.heap.less)
}

// Stats reports per-band counts of currently queued requests plus the
// cumulative count of entries dropped for expiry.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	st.ExpiredDropped = s.expiredDropped
	for _, item := range s.heap.items {
		switch item.request.Band() {
		case aimesh.BandLow:
			st.Low++
		case aimesh.BandNormal:
			st.Normal++
		case aimesh.BandHigh:
			st.High++
		case aimesh.BandCritical:
			st.Critical++
		}
	}
	return st
}

// Close marks the scheduler closed; subsequent Push calls fail and any
// blocked Wait calls return (nil, false).
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}

func (s *Scheduler) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until a request is available or the scheduler is closed,
// then pops and returns it. It returns (nil, false) only on shutdown.
func (s *Scheduler) Wait() (*PrioritizedRequest, bool) {
	for {
		s.mu.Lock()
		if item, ok := s.popLocked(); ok {
			s.mu.Unlock()
			return item, true
		}
		closed := s.closed
		notify := s.notify
		s.mu.Unlock()

		if closed {
			return nil, false
		}

		_, open := <-notify
		if !open {
			return nil, false
		}
	}
}
