package tenancy

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager owns every Tenant and the agent-ID-to-tenant mapping. An agent ID
// maps to exactly one tenant at a time; re-registration overwrites the
// mapping rather than erroring.
type Manager struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	agents  map[string]string // agent_id -> tenant_id
	logger  *zap.SugaredLogger
}

// New constructs an empty tenant manager.
func New(logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		tenants: make(map[string]*Tenant),
		agents:  make(map[string]string),
		logger:  logger,
	}
}

// CreateTenant registers a new tenant with tier-default quotas.
func (m *Manager) CreateTenant(id, name string, tier Tier, nowUnix int64) *Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &Tenant{
		ID:            id,
		Name:          name,
		Tier:          tier,
		Status:        StatusActive,
		Quotas:        DefaultQuotas(tier),
		CreatedAtUnix: nowUnix,
		Usage:         Usage{LastResetUnixSecs: nowUnix},
	}
	m.tenants[id] = t
	m.logger.Infow("tenant created", "tenant_id", id, "tier", tier.String())
	return t
}

// GetTenant returns a tenant by ID.
func (m *Manager) GetTenant(id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, &NotFoundError{TenantID: id}
	}
	return t, nil
}

// UpdateTier changes a tenant's tier and reapplies that tier's default
// quotas, leaving current usage counters untouched.
func (m *Manager) UpdateTier(id string, tier Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return &NotFoundError{TenantID: id}
	}
	t.Tier = tier
	t.Quotas = DefaultQuotas(tier)
	return nil
}

// Suspend marks a tenant Suspended, rejecting future registration and
// recording operations.
func (m *Manager) Suspend(id string) error {
	return m.setStatus(id, StatusSuspended)
}

// Activate marks a tenant Active again.
func (m *Manager) Activate(id string) error {
	return m.setStatus(id, StatusActive)
}

func (m *Manager) setStatus(id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return &NotFoundError{TenantID: id}
	}
	t.Status = status
	return nil
}

// RegisterAgent maps an agent ID to a tenant, enforcing the tenant's active
// status and agent-count quota. Re-registering an already-mapped agent
// overwrites the mapping without consuming another slot if it maps to the
// same tenant.
func (m *Manager) RegisterAgent(agentID, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return &NotFoundError{TenantID: tenantID}
	}
	if !t.IsActive() {
		return &SuspendedError{TenantID: tenantID}
	}

	existing, already := m.agents[agentID]
	if already && existing == tenantID {
		return nil
	}
	if t.Quotas.MaxAgents != Unbounded && t.Usage.AgentsCount >= t.Quotas.MaxAgents {
		return &QuotaExceededError{Resource: "max_agents"}
	}
	if already {
		if old, ok := m.tenants[existing]; ok {
			old.Usage.AgentsCount--
		}
	}

	m.agents[agentID] = tenantID
	t.Usage.AgentsCount++
	return nil
}

// TenantForAgent returns the tenant ID an agent currently maps to.
func (m *Manager) TenantForAgent(agentID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.agents[agentID]
	return id, ok
}

// RecordMessage charges one message and the given tokens against a
// tenant's daily usage, enforcing both the message and token quotas and the
// tenant's active status. The boundary is inclusive of the limit: the
// (limit+1)th call fails.
func (m *Manager) RecordMessage(tenantID string, tokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return &NotFoundError{TenantID: tenantID}
	}
	if !t.IsActive() {
		return &SuspendedError{TenantID: tenantID}
	}
	if t.Quotas.MaxMessagesPerDay != Unbounded && t.Usage.MessagesToday+1 > t.Quotas.MaxMessagesPerDay {
		return &QuotaExceededError{Resource: "max_messages_per_day"}
	}
	if t.Quotas.MaxTokensPerDay != Unbounded && t.Usage.TokensToday+tokens > t.Quotas.MaxTokensPerDay {
		return &QuotaExceededError{Resource: "max_tokens_per_day"}
	}

	t.Usage.MessagesToday++
	t.Usage.TokensToday += tokens
	return nil
}

// ResetDailyUsage zeroes every tenant's per-day counters.
func (m *Manager) ResetDailyUsage(nowUnix int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		t.Usage.MessagesToday = 0
		t.Usage.TokensToday = 0
		t.Usage.LastResetUnixSecs = nowUnix
	}
}

// GetUsage returns a tenant's current usage snapshot.
func (m *Manager) GetUsage(tenantID string) (Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return Usage{}, &NotFoundError{TenantID: tenantID}
	}
	return t.Usage, nil
}

// ListTenants returns every tenant, unordered.
func (m *Manager) ListTenants() []*Tenant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	return out
}

// DeleteTenant removes a tenant and purges its agent mappings.
func (m *Manager) DeleteTenant(tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[tenantID]; !ok {
		return &NotFoundError{TenantID: tenantID}
	}
	delete(m.tenants, tenantID)
	for agentID, mapped := range m.agents {
		if mapped == tenantID {
			delete(m.agents, agentID)
		}
	}
	return nil
}

// RunDailyResetLoop resets every tenant's daily usage once per interval
// until stop is closed.
func (m *Manager) RunDailyResetLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.ResetDailyUsage(time.Now().Unix())
			m.logger.Infow("tenant daily usage reset")
		case <-stop:
			return
		}
	}
}
