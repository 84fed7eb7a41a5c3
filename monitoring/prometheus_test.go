package monitoring

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordOutcomeAndScrape(t *testing.T) {
	m := New()
	m.RecordAccepted()
	m.RecordOutcome(true, 12.5)
	m.RecordOutcome(false, 0)
	m.RecordCostCents(3.2)
	m.RecordRoutingDecision("ep-1", 150*time.Microsecond)
	m.RecordEndToEndLatency(20 * time.Millisecond)
	m.SetEndpointCounts(2, 3)
	m.SetAgentsWithBudget(5)
	m.SetThroughputPerSec(42.0)
	m.SetStartedAt(time.Unix(0, 0))
	m.RefreshUptime(time.Unix(100, 0))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)

	assert.Equal(t, 200, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "aimesh_messages_total")
	assert.Contains(t, body, "aimesh_messages_success")
	assert.Contains(t, body, "aimesh_messages_failed")
	assert.Contains(t, body, "aimesh_tokens_consumed")
	assert.Contains(t, body, "aimesh_cost_cents_total")
	assert.Contains(t, body, "aimesh_routing_decisions_total")
	assert.Contains(t, body, `endpoint_id="ep-1"`)
	assert.Contains(t, body, "aimesh_endpoints_healthy 2")
	assert.Contains(t, body, "aimesh_endpoints_total 3")
	assert.Contains(t, body, "aimesh_agents_with_budget 5")
	assert.Contains(t, body, "aimesh_throughput_per_sec 42")
	assert.Contains(t, body, "aimesh_uptime_seconds 100")
}
