package machine

import (
	"context"
	"sync"

	"consentd/internal/consent/metrics"
	"consentd/internal/consent/store"
)

// Registry constructs and caches one machine per visitor. It is the
// explicit, injectable replacement for an app-wide shared consent context:
// built once at startup, handed to whichever layer needs it, torn down
// never.
type Registry struct {
	mu       sync.Mutex
	machines map[string]*Machine
	storage  *store.Storage
	metrics  *metrics.Metrics
	opts     []Option
}

// NewRegistry creates a registry. opts are applied to every machine it
// constructs.
func NewRegistry(storage *store.Storage, m *metrics.Metrics, opts ...Option) *Registry {
	return &Registry{
		machines: make(map[string]*Machine),
		storage:  storage,
		metrics:  m,
		opts:     opts,
	}
}

// Get returns the visitor's machine, constructing and initializing it from
// storage (or defaults) on first access. Concurrent Gets for the same fresh
// visitor all wait for that one initialization; a machine is never handed
// out in a mutable-but-uninitialized state, so a decision committed by one
// request cannot be overwritten by a late-finishing load in another.
func (r *Registry) Get(ctx context.Context, visitorID string) *Machine {
	r.mu.Lock()
	m, ok := r.machines[visitorID]
	if !ok {
		opts := r.opts
		if r.metrics != nil {
			opts = append(append([]Option{}, opts...), WithMetrics(r.metrics))
		}
		m = New(visitorID, r.storage, opts...)
		r.machines[visitorID] = m
		if r.metrics != nil {
			r.metrics.ActiveMachines.Set(float64(len(r.machines)))
		}
	}
	r.mu.Unlock()

	m.initOnce.Do(func() { m.Initialize(ctx) })
	return m
}

// Evict drops a visitor's machine from the cache. The next Get rebuilds it
// from storage.
func (r *Registry) Evict(visitorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.machines, visitorID)
	if r.metrics != nil {
		r.metrics.ActiveMachines.Set(float64(len(r.machines)))
	}
}

// CanTrackAnalytics reports the analytics consent gate for a visitor. This
// is the gate the attribution layer consults before touching session data.
func (r *Registry) CanTrackAnalytics(ctx context.Context, visitorID string) bool {
	if visitorID == "" {
		return false
	}
	return r.Get(ctx, visitorID).CanTrackAnalytics()
}
