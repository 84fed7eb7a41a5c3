// Package monitoring exposes the core's operational counters as Prometheus
// metrics, matching the names called out for the pipeline, routing, and
// per-endpoint health surfaces.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor owns the metric registry and the core's instrumentation points.
type Monitor struct {
	registry *prometheus.Registry

	messagesTotal     prometheus.Counter
	messagesSuccess   prometheus.Counter
	messagesFailed    prometheus.Counter
	tokensConsumed    prometheus.Counter
	costCentsTotal    prometheus.Counter
	uptimeSeconds     prometheus.Gauge
	routingDecisions  *prometheus.CounterVec
	endpointsHealthy  prometheus.Gauge
	endpointsTotal    prometheus.Gauge
	agentsWithBudget  prometheus.Gauge
	throughputPerSec  prometheus.Gauge
	routingLatencyUs  prometheus.Histogram
	endToEndLatencyMs prometheus.Histogram

	startedAt time.Time
}

// New builds and registers the full metric set against a fresh registry.
func New() *Monitor {
	registry := prometheus.NewRegistry()

	m := &Monitor{
		registry:  registry,
		startedAt: time.Unix(0, 0),

		messagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aimesh_messages_total",
			Help: "Total number of messages accepted by the pipeline.",
		}),
		messagesSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aimesh_messages_success",
			Help: "Total number of messages acknowledged as processed.",
		}),
		messagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aimesh_messages_failed",
			Help: "Total number of messages acknowledged as failed.",
		}),
		tokensConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aimesh_tokens_consumed",
			Help: "Total tokens consumed across all agent budgets.",
		}),
		costCentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aimesh_cost_cents_total",
			Help: "Total routed cost, in cents.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aimesh_uptime_seconds",
			Help: "Seconds since the process started.",
		}),
		routingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aimesh_routing_decisions_total",
			Help: "Routing decisions, partitioned by chosen endpoint.",
		}, []string{"endpoint_id"}),
		endpointsHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aimesh_endpoints_healthy",
			Help: "Current count of endpoints in the Healthy state.",
		}),
		endpointsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aimesh_endpoints_total",
			Help: "Current count of registered endpoints.",
		}),
		agentsWithBudget: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aimesh_agents_with_budget",
			Help: "Current count of agents with a tracked budget.",
		}),
		throughputPerSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aimesh_throughput_per_sec",
			Help: "Rolling measured messages-per-second throughput.",
		}),
		routingLatencyUs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aimesh_routing_latency_microseconds",
			Help:    "Time spent in the routing decision, in microseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		endToEndLatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aimesh_end_to_end_latency_milliseconds",
			Help:    "Time from accept to acknowledgment, in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
	}

	registry.MustRegister(
		m.messagesTotal,
		m.messagesSuccess,
		m.messagesFailed,
		m.tokensConsumed,
		m.costCentsTotal,
		m.uptimeSeconds,
		m.routingDecisions,
		m.endpointsHealthy,
		m.endpointsTotal,
		m.agentsWithBudget,
		m.throughputPerSec,
		m.routingLatencyUs,
		m.endToEndLatencyMs,
	)

	return m
}

// RecordAccepted increments the accepted-message counter.
func (m *Monitor) RecordAccepted() { m.messagesTotal.Inc() }

// RecordOutcome records a success/failure acknowledgment and its tokens.
func (m *Monitor) RecordOutcome(success bool, tokensUsed float64) {
	if success {
		m.messagesSuccess.Inc()
	} else {
		m.messagesFailed.Inc()
	}
	if tokensUsed > 0 {
		m.tokensConsumed.Add(tokensUsed)
	}
}

// RecordCostCents adds to the running routed-cost total.
func (m *Monitor) RecordCostCents(cents float64) {
	if cents > 0 {
		m.costCentsTotal.Add(cents)
	}
}

// RecordRoutingDecision counts a decision against the chosen endpoint and
// observes the decision latency.
func (m *Monitor) RecordRoutingDecision(endpointID string, latency time.Duration) {
	m.routingDecisions.WithLabelValues(endpointID).Inc()
	m.routingLatencyUs.Observe(float64(latency.Microseconds()))
}

// RecordEndToEndLatency observes the accept-to-acknowledgment duration.
func (m *Monitor) RecordEndToEndLatency(latency time.Duration) {
	m.endToEndLatencyMs.Observe(float64(latency.Milliseconds()))
}

// SetEndpointCounts updates the healthy/total endpoint gauges.
func (m *Monitor) SetEndpointCounts(healthy, total int) {
	m.endpointsHealthy.Set(float64(healthy))
	m.endpointsTotal.Set(float64(total))
}

// SetAgentsWithBudget updates the tracked-budget gauge.
func (m *Monitor) SetAgentsWithBudget(count int) {
	m.agentsWithBudget.Set(float64(count))
}

// SetThroughputPerSec updates the measured throughput gauge.
func (m *Monitor) SetThroughputPerSec(rate float64) {
	m.throughputPerSec.Set(rate)
}

// SetStartedAt records the process start time used to compute uptime.
func (m *Monitor) SetStartedAt(t time.Time) { m.startedAt = t }

// RefreshUptime recomputes the uptime gauge against now.
func (m *Monitor) RefreshUptime(now time.Time) {
	m.uptimeSeconds.Set(now.Sub(m.startedAt).Seconds())
}

// Handler returns the HTTP handler serving the registry in Prometheus
// exposition format, suitable for mounting on the admin server.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
