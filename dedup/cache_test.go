package dedup

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintExcludesAgentID(t *testing.T) {
	// Fingerprint takes no agent ID, so the same payload and context sent by
	// two different agents yields the same digest.
	fp1 := Fingerprint([]byte("hello"), "ctx")
	fp2 := Fingerprint([]byte("hello"), "ctx")
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)
}

func TestFingerprintDiffersOnContext(t *testing.T) {
	fp1 := Fingerprint([]byte("hello"), "ctx-a")
	fp2 := Fingerprint([]byte("hello"), "ctx-b")
	assert.NotEqual(t, fp1, fp2)
}

func TestRecordThenCheckHits(t *testing.T) {
	c := New(time.Hour)
	now := time.Now().Unix()

	_, ok := c.Check([]byte("X"), "c1", now)
	require.False(t, ok, "first lookup must miss")

	c.Record([]byte("X"), "c1", []byte("R"), now)

	result, ok := c.Check([]byte("X"), "c1", now)
	require.True(t, ok)
	assert.Equal(t, []byte("R"), result)
}

func TestCheckExpiresAfterTTL(t *testing.T) {
	c := New(5 * time.Second)
	recordedAt := int64(1000)
	c.Record([]byte("X"), "c1", []byte("R"), recordedAt)

	_, ok := c.Check([]byte("X"), "c1", recordedAt+4)
	assert.True(t, ok, "must still be valid just under the TTL boundary")

	_, ok = c.Check([]byte("X"), "c1", recordedAt+5)
	assert.False(t, ok, "must be expired and evicted at the TTL boundary")
	assert.Equal(t, 0, c.Len())
}

func TestRecordOverwritesWithLatestResult(t *testing.T) {
	c := New(time.Hour)
	c.Record([]byte("X"), "c1", []byte("first"), 1)
	c.Record([]byte("X"), "c1", []byte("second"), 2)

	result, ok := c.Check([]byte("X"), "c1", 2)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), result)
}

func TestCleanupRemovesExpiredEntriesOnly(t *testing.T) {
	c := New(10 * time.Second)
	c.Record([]byte("old"), "", []byte("r1"), 0)
	c.Record([]byte("new"), "", []byte("r2"), 95)

	removed := c.Cleanup(100)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Check([]byte("new"), "", 100)
	assert.True(t, ok)
}

type fakeStore struct {
	data map[string][]byte
}

func (f *fakeStore) CheckDedup(key string) ([]byte, bool) {
	v, ok := f.data[key]
	return v, ok
}

func (f *fakeStore) WriteDedup(key string, value []byte) {
	f.data[key] = value
}

func TestCheckPromotesFromDurableStore(t *testing.T) {
	fp := Fingerprint([]byte("X"), "")
	store := &fakeStore{data: map[string][]byte{fp: []byte("durable-result")}}
	c := New(time.Hour, WithStore(store))

	result, ok := c.Check([]byte("X"), "", time.Now().Unix())
	require.True(t, ok)
	assert.Equal(t, []byte("durable-result"), result)
	assert.Equal(t, 1, c.Len(), "durable hit should be promoted into memory")
}

func TestConcurrentChecksMayAllMiss(t *testing.T) {
	c := New(time.Hour)
	now := time.Now().Unix()

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, ok := c.Check([]byte("same"), "ctx", now)
			done <- ok
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	// No assertion on hit/miss mix: every concurrent check is allowed to
	// miss before the first Record lands.
}

func TestRunCleanupLoopDrivenByMockClock(t *testing.T) {
	mock := clock.NewMock()
	c := New(10*time.Second, WithClock(mock))
	c.Record([]byte("old"), "", []byte("r1"), mock.Now().Unix())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.RunCleanupLoop(time.Second, stop)
		close(done)
	}()

	mock.Add(11 * time.Second)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, time.Millisecond)

	close(stop)
	<-done
}
