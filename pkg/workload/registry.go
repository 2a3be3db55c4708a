package workload

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/types"
)

// Registry holds validated workload specs in memory. Specs are immutable once
// registered; replacing one only affects pools created afterwards.
type Registry struct {
	mu        sync.RWMutex
	workloads map[string]*types.WorkloadSpec
	logger    zerolog.Logger
}

// NewRegistry creates an empty workload registry.
func NewRegistry() *Registry {
	return &Registry{
		workloads: make(map[string]*types.WorkloadSpec),
		logger:    log.WithComponent("workload"),
	}
}

// Register validates and stores a workload spec, replacing any previous spec
// with the same id.
func (r *Registry) Register(w *types.WorkloadSpec) error {
	if err := Validate(w); err != nil {
		return err
	}

	r.mu.Lock()
	_, replaced := r.workloads[w.ID]
	r.workloads[w.ID] = w
	r.mu.Unlock()

	r.logger.Info().
		Str("workload_id", w.ID).
		Str("image", w.Image).
		Bool("replaced", replaced).
		Msg("Registered workload")
	return nil
}

// Get returns the spec for an id, or types.ErrWorkloadNotFound.
func (r *Registry) Get(id string) (*types.WorkloadSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workloads[id]
	if !ok {
		return nil, types.ErrWorkloadNotFound
	}
	return w, nil
}

// List returns all registered specs.
func (r *Registry) List() []*types.WorkloadSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.WorkloadSpec, 0, len(r.workloads))
	for _, w := range r.workloads {
		out = append(out, w)
	}
	return out
}

// Remove deletes a spec. Existing pools keep their copy.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workloads[id]; !ok {
		return types.ErrWorkloadNotFound
	}
	delete(r.workloads, id)
	return nil
}

// Count returns the number of registered workloads.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workloads)
}
