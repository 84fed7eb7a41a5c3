package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerHealthy(t *testing.T, reg *Registry, id string, cost float64, latency float32, load, capacity uint32) {
	t.Helper()
	reg.Register(EndpointMetrics{
		EndpointID:      id,
		Capacity:        capacity,
		CurrentLoad:     load,
		CostPer1kTokens: cost,
		LatencyP99Ms:    latency,
		HealthStatus:    HealthHealthy,
	})
}

func TestRouteCheapestWins(t *testing.T) {
	reg := NewRegistry()
	registerHealthy(t, reg, "E1", 10, 5, 10, 100)
	registerHealthy(t, reg, "E2", 1, 5, 10, 100)
	registerHealthy(t, reg, "E3", 5, 1, 10, 100)

	rt := New(Config{Weights: Weights{Cost: 1.0 / 3, Load: 1.0 / 3, Latency: 1.0 / 3}}, reg, NewBudgetBook(), nil)

	decision, err := rt.Route("m1", "a", 10)
	require.NoError(t, err)
	assert.Equal(t, "E2", decision.TargetEndpoint)
	assert.Equal(t, []string{"E3", "E1"}, decision.FallbackEndpoints)
}

func TestRouteBudgetVeto(t *testing.T) {
	reg := NewRegistry()
	registerHealthy(t, reg, "E", 1, 5, 0, 100)

	budgets := NewBudgetBook()
	budgets.SetBudget("a", 100, 0)

	rt := New(DefaultConfig(), reg, budgets, nil)

	_, err := rt.Route("m1", "a", 150)
	require.Error(t, err)

	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, 150.0, budgetErr.Required)
	assert.Equal(t, 100.0, budgetErr.Available)
	assert.Empty(t, rt.History(), "no history entry on a vetoed route")
}

func TestRouteNoHealthyEndpoints(t *testing.T) {
	reg := NewRegistry()
	reg.Register(EndpointMetrics{EndpointID: "E", HealthStatus: HealthUnhealthy})

	rt := New(DefaultConfig(), reg, NewBudgetBook(), nil)
	_, err := rt.Route("m1", "a", 1)
	require.Error(t, err)

	var noHealthy *NoHealthyEndpointsError
	require.ErrorAs(t, err, &noHealthy)
}

func TestRouteTieBreakByEndpointID(t *testing.T) {
	reg := NewRegistry()
	registerHealthy(t, reg, "zeta", 5, 5, 10, 100)
	registerHealthy(t, reg, "alpha", 5, 5, 10, 100)

	rt := New(DefaultConfig(), reg, NewBudgetBook(), nil)
	decision, err := rt.Route("m1", "a", 1)
	require.NoError(t, err)
	assert.Equal(t, "alpha", decision.TargetEndpoint, "equal scores must break ties by ascending endpoint_id")
}

func TestBudgetConsumeNeverGoesNegative(t *testing.T) {
	bb := NewBudgetBook()
	bb.SetBudget("a", 10, 0)

	assert.True(t, bb.Consume("a", 6))
	assert.False(t, bb.Consume("a", 6))
	assert.Equal(t, 4.0, bb.Remaining("a"))
}

func TestBudgetConsumeConcurrent(t *testing.T) {
	bb := NewBudgetBook()
	bb.SetBudget("a", 1000, 0)

	done := make(chan bool, 1000)
	for i := 0; i < 1000; i++ {
		go func() {
			done <- bb.Consume("a", 1)
		}()
	}
	accepted := 0
	for i := 0; i < 1000; i++ {
		if <-done {
			accepted++
		}
	}
	assert.Equal(t, 1000, accepted)
	assert.Equal(t, 0.0, bb.Remaining("a"))
}

func TestBudgetUnboundedAgentAlwaysAdmitted(t *testing.T) {
	bb := NewBudgetBook()
	assert.True(t, bb.Consume("no-budget-agent", 1e9))
	assert.NoError(t, bb.CheckAdmission("no-budget-agent", 1e9))
}

func TestRecordEndpointFailureMarksUnhealthy(t *testing.T) {
	reg := NewRegistry()
	registerHealthy(t, reg, "E", 1, 1, 0, 10)

	rt := New(Config{Weights: DefaultWeights(), UnhealthyThreshold: 3}, reg, NewBudgetBook(), nil)

	require.NoError(t, rt.RecordEndpointFailure("E"))
	require.NoError(t, rt.RecordEndpointFailure("E"))
	m, _ := reg.Get("E")
	assert.Equal(t, HealthHealthy, m.HealthStatus)

	require.NoError(t, rt.RecordEndpointFailure("E"))
	m, _ = reg.Get("E")
	assert.Equal(t, HealthUnhealthy, m.HealthStatus)
}

func TestRecordEndpointSuccessPromotesToHealthy(t *testing.T) {
	reg := NewRegistry()
	reg.Register(EndpointMetrics{EndpointID: "E", HealthStatus: HealthUnhealthy})

	rt := New(DefaultConfig(), reg, NewBudgetBook(), nil)
	require.NoError(t, rt.RecordEndpointSuccess("E", 1))

	m, _ := reg.Get("E")
	assert.Equal(t, HealthHealthy, m.HealthStatus)
}

func TestRoutingIsPureOverHealthySet(t *testing.T) {
	reg := NewRegistry()
	registerHealthy(t, reg, "E1", 1, 1, 1, 10)
	registerHealthy(t, reg, "E2", 2, 2, 2, 10)

	rt := New(DefaultConfig(), reg, NewBudgetBook(), nil)
	before := reg.List()

	_, err := rt.Route("m1", "a", 1)
	require.NoError(t, err)

	after := reg.List()
	assert.ElementsMatch(t, before, after, "Route must not mutate endpoint state")
}
