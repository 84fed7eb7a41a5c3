package ratelimit

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAllowsBurstThenRejects(t *testing.T) {
	l := New(Config{RequestsPerSecond: 10, BurstCapacity: 20, WindowSecs: 1}, nil)

	for i := 0; i < 20; i++ {
		require.NoError(t, l.Acquire("k", 1), "request %d should be admitted", i)
	}

	err := l.Acquire("k", 1)
	require.Error(t, err)
	var limitErr *LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "k", limitErr.Key)
	assert.Equal(t, 10, limitErr.Limit)
	assert.Equal(t, 1, limitErr.WindowSecs)
}

func TestAcquireRejectionDoesNotLeakGlobalTokens(t *testing.T) {
	// A tiny per-key bucket rejects quickly; the global bucket is generous.
	// If global tokens leaked on a per-key rejection, a second independent
	// key would eventually starve even though global capacity was never
	// legitimately exhausted.
	l := New(Config{RequestsPerSecond: 1, BurstCapacity: 1, WindowSecs: 60}, nil)

	require.NoError(t, l.Acquire("a", 1))
	for i := 0; i < 50; i++ {
		_ = l.Acquire("a", 1) // exhaust key "a"; each rejection must not touch the global bucket
	}

	// "b" has never been used; its rejection budget is independent of "a"'s
	// repeated failures, which would not hold if global tokens leaked.
	require.NoError(t, l.Acquire("b", 1))
}

func TestPerKeyBucketsAreIndependent(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, BurstCapacity: 1, WindowSecs: 60}, nil)

	require.NoError(t, l.Acquire("a", 1))
	require.Error(t, l.Acquire("a", 1))
	require.NoError(t, l.Acquire("b", 1), "different key must have its own bucket")
}

func TestResetClearsKeyState(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, BurstCapacity: 1, WindowSecs: 60}, nil)
	require.NoError(t, l.Acquire("a", 1))
	require.Error(t, l.Acquire("a", 1))

	l.Reset("a")
	require.NoError(t, l.Acquire("a", 1))
}

func TestUsageReportsWindowCount(t *testing.T) {
	l := New(DefaultConfig(), nil)
	require.NoError(t, l.Acquire("k1", 1))
	require.NoError(t, l.Acquire("k1", 1))

	usage := l.Usage("k1")
	assert.Equal(t, 2, usage.WindowCount)
}

func TestWindowEvictsAfterMockClockAdvances(t *testing.T) {
	mock := clock.NewMock()
	l := newLimiterWithClock(Config{RequestsPerSecond: 100, BurstCapacity: 100, WindowSecs: 10}, nil, mock)

	require.NoError(t, l.Acquire("k1", 1))
	require.Equal(t, 1, l.Usage("k1").WindowCount)

	mock.Add(11 * time.Second)
	assert.Equal(t, 0, l.Usage("k1").WindowCount, "window entries older than WindowSecs must evict once the clock advances past them")
}
