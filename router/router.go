package router

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// UnhealthyThreshold default: consecutive failures before an endpoint is
// marked Unhealthy.
const DefaultUnhealthyThreshold = 3

// historyCap and historyTrim implement the bounded routing-decision ring:
// append past historyCap drops the oldest historyTrim entries.
const (
	historyCap  = 10000
	historyTrim = 1000
)

// Weights are the scoring weights (w_cost, w_load, w_latency), which must
// sum to 1.0.
type Weights struct {
	Cost    float64 `yaml:"cost"`
	Load    float64 `yaml:"load"`
	Latency float64 `yaml:"latency"`
}

// DefaultWeights matches the reference implementation's cost/load/latency
// split.
func DefaultWeights() Weights {
	return Weights{Cost: 0.4, Load: 0.3, Latency: 0.3}
}

// Config configures a Router.
type Config struct {
	Weights                 Weights
	HealthCheckIntervalSecs int
	UnhealthyThreshold      int
	MaxRetries              int
}

// DefaultConfig returns the reference scoring weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights:                 DefaultWeights(),
		HealthCheckIntervalSecs: 30,
		UnhealthyThreshold:      DefaultUnhealthyThreshold,
		MaxRetries:              2,
	}
}

// Router is the cost-aware routing engine. It is side-effect-free apart from
// the bounded history ring: it never mutates endpoint load, only health
// bookkeeping methods do (RecordEndpointFailure / RecordEndpointSuccess).
type Router struct {
	config   Config
	registry *Registry
	budgets  *BudgetBook
	logger   *zap.SugaredLogger

	historyMu sync.Mutex
	history   []Decision
}

// New constructs a Router over the given registry and budget book. A nil
// logger falls back to a no-op logger.
func New(config Config, registry *Registry, budgets *BudgetBook, logger *zap.SugaredLogger) *Router {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Router{
		config:   config,
		registry: registry,
		budgets:  budgets,
		logger:   logger,
		history:  make([]Decision, 0, historyCap),
	}
}

// Route selects an endpoint for a validated request. It never mutates
// endpoint state; health transitions are reported separately by the
// dispatch caller via RecordEndpointFailure/RecordEndpointSuccess.
func (r *Router) Route(messageID, agentID string, estimatedCostTokens float64) (*Decision, error) {
	if err := r.budgets.CheckAdmission(agentID, estimatedCostTokens); err != nil {
		r.logger.Warnw("routing budget veto", "agent_id", agentID, "error", err)
		return nil, err
	}

	candidates := r.registry.healthy()
	if len(candidates) == 0 {
		return nil, &NoHealthyEndpointsError{}
	}

	type scored struct {
		metrics EndpointMetrics
		score   ScoreBreakdown
	}

	scoredCandidates := make([]scored, 0, len(candidates))
	for _, ep := range candidates {
		m := ep.snapshot()
		sb := r.score(m)
		scoredCandidates = append(scoredCandidates, scored{metrics: m, score: sb})
	}

	sort.Slice(scoredCandidates, func(i, j int) bool {
		a, b := scoredCandidates[i], scoredCandidates[j]
		if a.score.TotalScore != b.score.TotalScore {
			return a.score.TotalScore < b.score.TotalScore
		}
		return a.metrics.EndpointID < b.metrics.EndpointID
	})

	chosen := scoredCandidates[0]
	fallbacks := make([]string, 0, 2)
	for i := 1; i < len(scoredCandidates) && i <= 2; i++ {
		fallbacks = append(fallbacks, scoredCandidates[i].metrics.EndpointID)
	}

	estimatedCost := chosen.metrics.CostPer1kTokens * estimatedCostTokens / 1000
	reason := fmt.Sprintf(
		"cost=%.4f load=%.4f latency=%.4f total=%.4f",
		chosen.score.CostScore, chosen.score.LoadScore, chosen.score.LatencyScore, chosen.score.TotalScore,
	)

	decision := &Decision{
		MessageID:          messageID,
		TargetEndpoint:     chosen.metrics.EndpointID,
		EstimatedLatencyMs: int32(chosen.metrics.LatencyP99Ms),
		EstimatedCost:      estimatedCost,
		RoutingReason:      reason,
		FallbackEndpoints:  fallbacks,
		ScoreBreakdown:     chosen.score,
	}

	r.appendHistory(*decision)
	return decision, nil
}

// score computes the weighted score for a single endpoint. Lower is better.
func (r *Router) score(m EndpointMetrics) ScoreBreakdown {
	capacity := m.Capacity
	if capacity < 1 {
		capacity = 1
	}
	loadRatio := float64(m.CurrentLoad) / float64(capacity) * 100

	costTerm := r.config.Weights.Cost * m.CostPer1kTokens
	loadTerm := r.config.Weights.Load * loadRatio
	latencyTerm := r.config.Weights.Latency * float64(m.LatencyP99Ms)

	return ScoreBreakdown{
		CostScore:    costTerm,
		LoadScore:    loadTerm,
		LatencyScore: latencyTerm,
		TotalScore:   costTerm + loadTerm + latencyTerm,
	}
}

func (r *Router) appendHistory(d Decision) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	if len(r.history) >= historyCap {
		r.history = append(r.history[historyTrim:], d)
		return
	}
	r.history = append(r.history, d)
}

// History returns a snapshot of recorded routing decisions, most recent
// last.
func (r *Router) History() []Decision {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	out := make([]Decision, len(r.history))
	copy(out, r.history)
	return out
}

// ConsumeBudget atomically debits the agent's budget for a completed route.
// Called after dispatch succeeds, per the pipeline's step 8.
func (r *Router) ConsumeBudget(agentID string, tokens float64) bool {
	return r.budgets.Consume(agentID, tokens)
}

// Budgets exposes the underlying budget book for direct administration
// (set_budget, get_remaining).
func (r *Router) Budgets() *BudgetBook {
	return r.budgets
}

// Registry exposes the underlying endpoint registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

// RecordEndpointFailure increments the endpoint's consecutive failure
// count, marking it Unhealthy once the configured threshold is reached.
func (r *Router) RecordEndpointFailure(endpointID string) error {
	ep, ok := r.registry.find(endpointID)
	if !ok {
		return &EndpointNotFoundError{EndpointID: endpointID}
	}
	threshold := r.config.UnhealthyThreshold
	if threshold <= 0 {
		threshold = DefaultUnhealthyThreshold
	}

	ep.mu.Lock()
	ep.consecutiveFailures++
	ep.consecutiveSuccess = 0
	if ep.consecutiveFailures >= threshold {
		ep.metrics.HealthStatus = HealthUnhealthy
	}
	ep.mu.Unlock()
	return nil
}

// RecordEndpointSuccess resets the failure count, records the success
// timestamp, and promotes the endpoint back to Healthy.
func (r *Router) RecordEndpointSuccess(endpointID string, nowNs int64) error {
	ep, ok := r.registry.find(endpointID)
	if !ok {
		return &EndpointNotFoundError{EndpointID: endpointID}
	}
	ep.mu.Lock()
	ep.consecutiveFailures = 0
	ep.consecutiveSuccess++
	ep.lastSuccessNs = nowNs
	ep.metrics.HealthStatus = HealthHealthy
	ep.mu.Unlock()
	return nil
}

// ApplyDegradedLabel is invoked externally (e.g. from a health-check loop)
// to mark an endpoint Degraded when its error rate or load crosses the
// advisory thresholds. It never overrides an Unhealthy endpoint.
func (r *Router) ApplyDegradedLabel(endpointID string, errorRate float32, loadRatio float64) error {
	ep, ok := r.registry.find(endpointID)
	if !ok {
		return &EndpointNotFoundError{EndpointID: endpointID}
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.metrics.HealthStatus == HealthUnhealthy {
		return nil
	}
	if errorRate > 0.1 || loadRatio >= 0.9 {
		ep.metrics.HealthStatus = HealthDegraded
	} else if ep.metrics.HealthStatus == HealthDegraded {
		ep.metrics.HealthStatus = HealthHealthy
	}
	return nil
}
