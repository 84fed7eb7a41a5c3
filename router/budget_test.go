package router

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAdmissionRejectsOverBudget(t *testing.T) {
	bb := NewBudgetBook()
	bb.SetBudget("agent-1", 100, 0)

	require.NoError(t, bb.CheckAdmission("agent-1", 50))

	err := bb.CheckAdmission("agent-1", 150)
	require.Error(t, err)
	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
}

func TestConsumeIsUnboundedWithoutRegisteredBudget(t *testing.T) {
	bb := NewBudgetBook()
	assert.True(t, bb.Consume("unregistered", 1_000_000))
}

func TestRunResetLoopDrivenByMockClock(t *testing.T) {
	mock := clock.NewMock()
	bb := newBudgetBookWithClock(mock)
	bb.SetBudget("agent-1", 100, mock.Now().UnixMilli()+int64(time.Minute/time.Millisecond))

	require.True(t, bb.Consume("agent-1", 100))
	assert.Equal(t, float64(0), bb.Remaining("agent-1"))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		bb.RunResetLoop(time.Minute, stop)
		close(done)
	}()

	mock.Add(2 * time.Minute)
	assert.Eventually(t, func() bool { return bb.Remaining("agent-1") == 100 }, time.Second, time.Millisecond)

	close(stop)
	<-done
}
