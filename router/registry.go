package router

import "sync"

// Registry is the concurrent endpoint registry. One writer per endpoint at a
// time via a per-key lock; readers never block on each other. Mutated only
// by health/load updates — routing itself never writes to it.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint
}

// NewRegistry returns an empty endpoint registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*endpoint)}
}

// Register adds or replaces an endpoint's metrics.
func (r *Registry) Register(m EndpointMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[m.EndpointID] = &endpoint{metrics: m}
}

// UpdateMetrics overwrites an existing endpoint's metrics wholesale. Returns
// EndpointNotFoundError if the endpoint was never registered.
func (r *Registry) UpdateMetrics(id string, m EndpointMetrics) error {
	r.mu.RLock()
	ep, ok := r.endpoints[id]
	r.mu.RUnlock()
	if !ok {
		return &EndpointNotFoundError{EndpointID: id}
	}
	ep.mu.Lock()
	m.EndpointID = id
	ep.metrics = m
	ep.mu.Unlock()
	return nil
}

// Remove deletes an endpoint, reporting whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; !ok {
		return false
	}
	delete(r.endpoints, id)
	return true
}

// List returns a snapshot of every registered endpoint's metrics.
func (r *Registry) List() []EndpointMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EndpointMetrics, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep.snapshot())
	}
	return out
}

// Get returns a single endpoint's metrics snapshot.
func (r *Registry) Get(id string) (EndpointMetrics, bool) {
	r.mu.RLock()
	ep, ok := r.endpoints[id]
	r.mu.RUnlock()
	if !ok {
		return EndpointMetrics{}, false
	}
	return ep.snapshot(), true
}

func (r *Registry) healthy() []*endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		ep.mu.Lock()
		healthy := ep.metrics.HealthStatus == HealthHealthy
		ep.mu.Unlock()
		if healthy {
			out = append(out, ep)
		}
	}
	return out
}

func (r *Registry) find(id string) (*endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	return ep, ok
}
