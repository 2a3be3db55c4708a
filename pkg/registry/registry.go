package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/manager"
	"github.com/burrowhq/burrow/pkg/pool"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
	"github.com/burrowhq/burrow/pkg/workload"
)

// Defaults are the node-level pool parameters applied when a workload spec
// leaves them unset.
type Defaults struct {
	MinIdle          int
	MaxSize          int
	IdleTimeout      time.Duration
	EvictionInterval time.Duration
	AcquireTimeout   time.Duration
}

// Registry owns the live pools on this node. Pool configurations persist in
// the store so pools can be rebuilt after a restart.
type Registry struct {
	store     storage.Store
	mgr       *manager.Manager
	workloads *workload.Registry
	defaults  Defaults
	recorder  pool.Recorder
	logger    zerolog.Logger

	mu     sync.RWMutex
	pools  map[string]*pool.Pool
	closed bool
}

// NewRegistry creates a pool registry. A nil recorder disables event emission.
func NewRegistry(store storage.Store, mgr *manager.Manager, workloads *workload.Registry, defaults Defaults, recorder pool.Recorder) *Registry {
	return &Registry{
		store:     store,
		mgr:       mgr,
		workloads: workloads,
		defaults:  defaults,
		recorder:  recorder,
		logger:    log.WithComponent("registry"),
		pools:     make(map[string]*pool.Pool),
	}
}

// CreatePool creates and starts a new pool for a registered workload. The
// configuration is persisted before the fill loop starts.
func (r *Registry) CreatePool(ctx context.Context, poolID, workloadID string) (*pool.Pool, error) {
	w, err := r.workloads.Get(workloadID)
	if err != nil {
		return nil, err
	}

	cfg := r.buildConfig(poolID, workloadID, w)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, types.ErrRegistryClosed
	}
	if _, exists := r.pools[poolID]; exists {
		r.mu.Unlock()
		return nil, types.ErrPoolExists
	}
	r.mu.Unlock()

	if err := r.store.UpsertPool(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to persist pool config: %w", err)
	}

	p, err := r.attach(cfg, w)
	if err != nil {
		return nil, err
	}

	if r.recorder != nil {
		r.recorder.Recordf(ctx, types.EventPoolCreated, poolID, "", "",
			fmt.Sprintf("pool created for workload %s", workloadID))
	}
	r.logger.Info().
		Str("pool_id", poolID).
		Str("workload_id", workloadID).
		Int("min_idle", cfg.MinIdle).
		Int("max_size", cfg.MaxSize).
		Msg("Created pool")
	return p, nil
}

// RestorePool rebuilds a pool from its persisted configuration at startup.
// The fill loop starts but the config row is not rewritten.
func (r *Registry) RestorePool(cfg *types.PoolConfig) (*pool.Pool, error) {
	w, err := r.workloads.Get(cfg.WorkloadID)
	if err != nil {
		return nil, fmt.Errorf("pool %s references unknown workload %s: %w", cfg.PoolID, cfg.WorkloadID, err)
	}
	return r.attach(cfg, w)
}

func (r *Registry) attach(cfg *types.PoolConfig, w *types.WorkloadSpec) (*pool.Pool, error) {
	p := pool.NewPool(cfg, w, r.store, r.mgr, r.recorder)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, types.ErrRegistryClosed
	}
	if _, exists := r.pools[cfg.PoolID]; exists {
		return nil, types.ErrPoolExists
	}
	r.pools[cfg.PoolID] = p
	p.Start()
	return p, nil
}

// buildConfig merges workload pool defaults over node defaults.
func (r *Registry) buildConfig(poolID, workloadID string, w *types.WorkloadSpec) *types.PoolConfig {
	cfg := &types.PoolConfig{
		PoolID:           poolID,
		WorkloadID:       workloadID,
		MinIdle:          r.defaults.MinIdle,
		MaxSize:          r.defaults.MaxSize,
		IdleTimeout:      r.defaults.IdleTimeout,
		EvictionInterval: r.defaults.EvictionInterval,
		AcquireTimeout:   r.defaults.AcquireTimeout,
		Networks:         w.Networks,
		CreatedAt:        time.Now().UTC(),
	}
	if w.Pool != nil {
		if w.Pool.MinIdle > 0 {
			cfg.MinIdle = w.Pool.MinIdle
		}
		if w.Pool.MaxSize > 0 {
			cfg.MaxSize = w.Pool.MaxSize
		}
		if w.Pool.IdleTimeout > 0 {
			cfg.IdleTimeout = w.Pool.IdleTimeout
		}
		if w.Pool.AcquireTimeout > 0 {
			cfg.AcquireTimeout = w.Pool.AcquireTimeout
		}
		cfg.FileIdleTTL = w.Pool.FileIdleTTL
	}
	return cfg
}

// Get returns a pool by id, or types.ErrPoolNotFound.
func (r *Registry) Get(poolID string) (*pool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pools[poolID]
	if !ok {
		return nil, types.ErrPoolNotFound
	}
	return p, nil
}

// List returns all live pools.
func (r *Registry) List() []*pool.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*pool.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	return out
}

// DestroyPool drains a pool, destroying its containers, and deletes its
// persisted configuration.
func (r *Registry) DestroyPool(ctx context.Context, poolID string) error {
	r.mu.Lock()
	p, ok := r.pools[poolID]
	if ok {
		delete(r.pools, poolID)
	}
	r.mu.Unlock()
	if !ok {
		return types.ErrPoolNotFound
	}

	if err := p.Drain(ctx); err != nil {
		return err
	}
	if err := r.store.DeletePool(ctx, poolID); err != nil {
		return err
	}

	if r.recorder != nil {
		r.recorder.Recordf(ctx, types.EventPoolDestroyed, poolID, "", "", "pool destroyed")
	}
	r.logger.Info().Str("pool_id", poolID).Msg("Destroyed pool")
	return nil
}

// Stats aggregates across all pools.
func (r *Registry) Stats(ctx context.Context) (*types.RegistryStats, error) {
	stats := &types.RegistryStats{}
	for _, p := range r.List() {
		ps, err := p.Stats(ctx)
		if err != nil {
			return nil, err
		}
		stats.TotalPools++
		stats.TotalContainers += ps.Total
		stats.ActiveContainers += ps.Borrowed
		stats.IdleContainers += ps.Idle
		stats.TotalTenants += ps.Borrowed
	}
	return stats, nil
}

// Shutdown stops every fill loop, preserving containers and rows for
// recovery. The registry refuses new pools afterwards.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pools := make([]*pool.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	for _, p := range pools {
		p.Stop()
	}
	r.logger.Info().Int("pools", len(pools)).Msg("Registry shut down")
}
