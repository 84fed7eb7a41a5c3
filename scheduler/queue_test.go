package scheduler

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	aimesh "github.com/YASSERRMD/AiMesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityDeadlineBoost(t *testing.T) {
	now := time.Now().UnixMilli()

	s := New(Config{})
	a := aimesh.NewRequest("agent", []byte("a"), 10, aimesh.WithPriority(50), aimesh.WithDeadline(aimesh.MaxDeadline))
	b := aimesh.NewRequest("agent", []byte("b"), 10, aimesh.WithPriority(50), aimesh.WithDeadline(now+500))

	require.NoError(t, s.Push(a))
	require.NoError(t, s.Push(b))

	top, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, b.MessageID, top.Request.MessageID, "closer deadline must win the boost")
}

func TestHigherBandBeatsLowerBandRegardlessOfBoost(t *testing.T) {
	now := time.Now().UnixMilli()

	s := New(Config{})
	low := aimesh.NewRequest("agent", []byte("low"), 10, aimesh.WithPriority(10), aimesh.WithDeadline(now+100))
	critical := aimesh.NewRequest("agent", []byte("crit"), 10, aimesh.WithPriority(90), aimesh.WithDeadline(aimesh.MaxDeadline))

	require.NoError(t, s.Push(low))
	require.NoError(t, s.Push(critical))

	top, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, critical.MessageID, top.Request.MessageID)
}

func TestPopNeverReturnsExpiredWhenDropExpiredEnabled(t *testing.T) {
	now := time.Now().UnixMilli()

	s := New(Config{DropExpired: true})
	expired := aimesh.NewRequest("agent", []byte("old"), 10, aimesh.WithDeadline(now-1000))
	fresh := aimesh.NewRequest("agent", []byte("new"), 10, aimesh.WithDeadline(now+100000))

	require.NoError(t, s.Push(expired))
	require.NoError(t, s.Push(fresh))

	top, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, fresh.MessageID, top.Request.MessageID)

	_, ok = s.Pop()
	assert.False(t, ok, "queue should be drained: the expired entry was dropped, not returned")

	assert.Equal(t, 1, s.Stats().ExpiredDropped)
}

func TestPushRefusesWhenFull(t *testing.T) {
	s := New(Config{MaxSize: 1})
	require.NoError(t, s.Push(aimesh.NewRequest("agent", []byte("a"), 10)))

	err := s.Push(aimesh.NewRequest("agent", []byte("b"), 10))
	require.Error(t, err)
	var full *QueueFullError
	require.ErrorAs(t, err, &full)
}

func TestPeekDoesNotRemove(t *testing.T) {
	s := New(Config{})
	req := aimesh.NewRequest("agent", []byte("a"), 10)
	require.NoError(t, s.Push(req))

	_, ok := s.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestStatsCountsPerBand(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Push(aimesh.NewRequest("a", []byte("x"), 10, aimesh.WithPriority(10))))
	require.NoError(t, s.Push(aimesh.NewRequest("a", []byte("x"), 10, aimesh.WithPriority(90))))

	st := s.Stats()
	assert.Equal(t, 1, st.Low)
	assert.Equal(t, 1, st.Critical)
}

func TestClearEmptiesQueue(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Push(aimesh.NewRequest("a", []byte("x"), 10)))
	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestWaitUnblocksOnPush(t *testing.T) {
	s := New(Config{})
	result := make(chan *PrioritizedRequest, 1)
	go func() {
		item, ok := s.Wait()
		if ok {
			result <- item
		} else {
			result <- nil
		}
	}()

	time.Sleep(10 * time.Millisecond)
	req := aimesh.NewRequest("a", []byte("x"), 10)
	require.NoError(t, s.Push(req))

	select {
	case item := <-result:
		require.NotNil(t, item)
		assert.Equal(t, req.MessageID, item.Request.MessageID)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Push")
	}
}

func TestWaitReturnsFalseOnClose(t *testing.T) {
	s := New(Config{})
	result := make(chan bool, 1)
	go func() {
		_, ok := s.Wait()
		result <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Close")
	}
}

func TestDeadlineBoostTracksMockClockAdvance(t *testing.T) {
	mock := clock.NewMock()
	s := newSchedulerWithClock(Config{}, mock)

	// Both requests share the Low band and start outside every boost
	// threshold; once the mock clock advances past the urgent threshold for
	// only the closer deadline, that request must come out first.
	close := aimesh.NewRequest("agent", []byte("close"), 10, aimesh.WithPriority(10), aimesh.WithDeadline(mock.Now().UnixMilli()+11000))
	far := aimesh.NewRequest("agent", []byte("far"), 10, aimesh.WithPriority(10), aimesh.WithDeadline(aimesh.MaxDeadline))

	require.NoError(t, s.Push(close))
	require.NoError(t, s.Push(far))

	mock.Add(10500 * time.Millisecond)

	top, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, close.MessageID, top.Request.MessageID, "advancing the mock clock past the urgent threshold must boost the near-deadline request")
}

func TestPushAfterCloseFails(t *testing.T) {
	s := New(Config{})
	s.Close()
	err := s.Push(aimesh.NewRequest("a", []byte("x"), 10))
	require.Error(t, err)
	var closedErr *QueueClosedError
	require.ErrorAs(t, err, &closedErr)
}
