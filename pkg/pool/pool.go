package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/manager"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

// Recorder receives pool lifecycle events. The activity log satisfies this.
type Recorder interface {
	Recordf(ctx context.Context, evType types.EventType, poolID, containerID, tenantID, message string)
}

type nopRecorder struct{}

func (nopRecorder) Recordf(context.Context, types.EventType, string, string, string, string) {}

// Pool schedules one warm pool of containers for a workload. The store rows
// are the authoritative container state; the pool holds no in-memory queue.
type Pool struct {
	cfg      *types.PoolConfig
	workload *types.WorkloadSpec
	store    storage.Store
	mgr      *manager.Manager
	recorder Recorder
	logger   zerolog.Logger

	// createMu serializes on-demand creation so maxSize cannot be
	// exceeded by concurrent acquires racing the capacity check.
	createMu sync.Mutex

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
	startMu  sync.Mutex
}

// NewPool creates a pool scheduler. A nil recorder disables event emission.
func NewPool(cfg *types.PoolConfig, workload *types.WorkloadSpec, store storage.Store, mgr *manager.Manager, recorder Recorder) *Pool {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Pool{
		cfg:      cfg,
		workload: workload,
		store:    store,
		mgr:      mgr,
		recorder: recorder,
		logger:   log.WithPoolID(cfg.PoolID),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Config returns the pool configuration.
func (p *Pool) Config() *types.PoolConfig { return p.cfg }

// Workload returns the pool's workload spec.
func (p *Pool) Workload() *types.WorkloadSpec { return p.workload }

// Start launches the background fill loop. The first fill runs immediately.
func (p *Pool) Start() {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return
	}
	p.started = true
	go p.fillLoop()
}

// Stop halts the fill loop and leaves rows and containers intact for
// recovery.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.startMu.Lock()
	started := p.started
	p.startMu.Unlock()
	if started {
		<-p.doneCh
	}
}

func (p *Pool) fillLoop() {
	defer close(p.doneCh)

	// First tick immediately so a new pool warms up without waiting a
	// full eviction interval.
	p.fill()

	ticker := time.NewTicker(p.cfg.EvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.fill()
		case <-p.stopCh:
			return
		}
	}
}

// fill tops the pool up to minIdle, bounded by maxSize, stopping at the
// first create error.
func (p *Pool) fill() {
	ctx := context.Background()

	counts, err := p.store.CountByStatus(ctx, p.cfg.PoolID)
	if err != nil {
		p.logger.Error().Err(err).Msg("Fill loop failed to count containers")
		return
	}

	idle := counts[types.ContainerIdle]
	total := idle + counts[types.ContainerClaimed] + counts[types.ContainerStopping]

	deficit := p.cfg.MinIdle - idle
	capacity := p.cfg.MaxSize - total
	n := deficit
	if capacity < n {
		n = capacity
	}

	for i := 0; i < n; i++ {
		if _, err := p.createIdle(ctx); err != nil {
			p.logger.Error().Err(err).Msg("Fill loop failed to create container")
			return
		}
	}
}

// createIdle creates a container and inserts it as an idle row.
func (p *Pool) createIdle(ctx context.Context) (*types.PoolContainer, error) {
	containerID, err := p.mgr.Create(ctx, p.workload, p.cfg.PoolID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := &types.PoolContainer{
		ContainerID:  containerID,
		PoolID:       p.cfg.PoolID,
		WorkloadID:   p.cfg.WorkloadID,
		Status:       types.ContainerIdle,
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := p.store.InsertContainer(ctx, row); err != nil {
		p.mgr.Destroy(ctx, containerID)
		return nil, fmt.Errorf("failed to insert container row: %w", err)
	}

	p.recorder.Recordf(ctx, types.EventContainerCreated, p.cfg.PoolID, containerID, "",
		fmt.Sprintf("container created for workload %s", p.cfg.WorkloadID))
	return row, nil
}

// Acquire leases a container to a tenant. The returned bool is true for an
// affinity match (existing claim or reuse of the tenant's last container,
// no wipe).
func (p *Pool) Acquire(ctx context.Context, tenantID string) (*types.PoolContainer, bool, error) {
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	now := time.Now().UTC()

	// Existing claim short-circuit.
	if existing, err := p.store.ClaimedByTenant(ctx, p.cfg.PoolID, tenantID); err != nil {
		return nil, false, err
	} else if existing != nil {
		if err := p.store.TouchActivity(ctx, existing.ContainerID, now); err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}

	// No-wipe affinity: the tenant's last container, if still idle.
	if candidate, err := p.store.IdleWithLastTenant(ctx, p.cfg.PoolID, tenantID); err != nil {
		return nil, false, err
	} else if candidate != nil {
		if !p.mgr.IsHealthy(ctx, candidate.ContainerID, p.workload) {
			p.destroyRow(ctx, candidate.ContainerID, "unhealthy at acquire")
		} else {
			claimed, err := p.store.ClaimIdle(ctx, candidate.ContainerID, tenantID, now)
			if err == nil {
				return claimed, true, nil
			}
			if err != types.ErrStoreConflict {
				return nil, false, err
			}
			// Lost the race; fall through to the general path.
		}
	}

	// General idle path: wipe on entry, retry past losers and corpses.
	for {
		candidate, err := p.store.FirstIdle(ctx, p.cfg.PoolID)
		if err != nil {
			return nil, false, err
		}
		if candidate == nil {
			break
		}
		if !p.mgr.IsHealthy(ctx, candidate.ContainerID, p.workload) {
			p.destroyRow(ctx, candidate.ContainerID, "unhealthy at acquire")
			continue
		}
		if err := p.mgr.WipeForNewTenant(candidate.ContainerID, p.workload); err != nil {
			return nil, false, err
		}
		claimed, err := p.store.ClaimIdle(ctx, candidate.ContainerID, tenantID, now)
		if err == nil {
			return claimed, false, nil
		}
		if err != types.ErrStoreConflict {
			return nil, false, err
		}
	}

	// On-demand creation, serialized so maxSize holds under concurrency.
	p.createMu.Lock()
	defer p.createMu.Unlock()

	counts, err := p.store.CountByStatus(ctx, p.cfg.PoolID)
	if err != nil {
		return nil, false, err
	}
	total := counts[types.ContainerIdle] + counts[types.ContainerClaimed] + counts[types.ContainerStopping]
	if total >= p.cfg.MaxSize {
		return nil, false, types.ErrPoolCapacity
	}

	containerID, err := p.mgr.Create(ctx, p.workload, p.cfg.PoolID)
	if err != nil {
		return nil, false, err
	}

	row := &types.PoolContainer{
		ContainerID:  containerID,
		PoolID:       p.cfg.PoolID,
		WorkloadID:   p.cfg.WorkloadID,
		Status:       types.ContainerClaimed,
		TenantID:     tenantID,
		LastActivity: now,
		ClaimedAt:    &now,
		CreatedAt:    now,
	}
	if err := p.store.InsertContainer(ctx, row); err != nil {
		p.mgr.Destroy(ctx, containerID)
		return nil, false, fmt.Errorf("failed to insert container row: %w", err)
	}

	p.recorder.Recordf(ctx, types.EventContainerCreated, p.cfg.PoolID, containerID, tenantID,
		"container created on demand")
	return row, false, nil
}

// Release returns the tenant's container to the idle set. The tenant is
// preserved in lastTenantId for affinity; no wipe happens here.
func (p *Pool) Release(ctx context.Context, tenantID string) (*types.PoolContainer, error) {
	claimed, err := p.store.ClaimedByTenant(ctx, p.cfg.PoolID, tenantID)
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, types.ErrTenantNotFound
	}

	if err := p.store.ReleaseClaimed(ctx, claimed.ContainerID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return claimed, nil
}

// RecordActivity bumps lastActivity on the tenant's claimed container.
func (p *Pool) RecordActivity(ctx context.Context, tenantID string) error {
	claimed, err := p.store.ClaimedByTenant(ctx, p.cfg.PoolID, tenantID)
	if err != nil {
		return err
	}
	if claimed == nil {
		return types.ErrTenantNotFound
	}
	return p.store.TouchActivity(ctx, claimed.ContainerID, time.Now().UTC())
}

// ClaimedByTenant returns the tenant's claimed container, or nil.
func (p *Pool) ClaimedByTenant(ctx context.Context, tenantID string) (*types.PoolContainer, error) {
	return p.store.ClaimedByTenant(ctx, p.cfg.PoolID, tenantID)
}

// DestroyContainer destroys one container. The row is deleted even when the
// runtime destroy fails.
func (p *Pool) DestroyContainer(ctx context.Context, containerID string) error {
	if _, err := p.store.GetContainer(ctx, containerID); err != nil {
		return err
	}
	p.destroyRow(ctx, containerID, "destroyed explicitly")
	return nil
}

func (p *Pool) destroyRow(ctx context.Context, containerID, reason string) {
	if err := p.mgr.Destroy(ctx, containerID); err != nil {
		p.logger.Warn().Err(err).Str("container_id", containerID).Msg("Runtime destroy failed, deleting row anyway")
	}
	if err := p.store.DeleteContainer(ctx, containerID); err != nil {
		p.logger.Error().Err(err).Str("container_id", containerID).Msg("Failed to delete container row")
		return
	}
	p.recorder.Recordf(ctx, types.EventContainerDestroyed, p.cfg.PoolID, containerID, "", reason)
}

// ScaleTo adjusts the pool to exactly n containers. Scale-down destroys
// idle containers only and refuses to go below the borrowed count.
func (p *Pool) ScaleTo(ctx context.Context, n int) error {
	counts, err := p.store.CountByStatus(ctx, p.cfg.PoolID)
	if err != nil {
		return err
	}
	idle := counts[types.ContainerIdle]
	borrowed := counts[types.ContainerClaimed]
	total := idle + borrowed + counts[types.ContainerStopping]

	switch {
	case n == total:
		return nil
	case n > total:
		for i := 0; i < n-total; i++ {
			if _, err := p.createIdle(ctx); err != nil {
				return err
			}
		}
		return nil
	default:
		if n < borrowed {
			return fmt.Errorf("cannot scale below %d borrowed containers", borrowed)
		}
		for total > n {
			candidate, err := p.store.FirstIdle(ctx, p.cfg.PoolID)
			if err != nil {
				return err
			}
			if candidate == nil {
				break
			}
			p.destroyRow(ctx, candidate.ContainerID, "scaled down")
			total--
		}
		return nil
	}
}

// Drain stops the fill loop and destroys every container in the pool.
func (p *Pool) Drain(ctx context.Context) error {
	p.Stop()

	rows, err := p.store.ListByPool(ctx, p.cfg.PoolID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		p.destroyRow(ctx, row.ContainerID, "pool drained")
	}
	return nil
}

// Stats summarizes the pool.
func (p *Pool) Stats(ctx context.Context) (*types.PoolStats, error) {
	counts, err := p.store.CountByStatus(ctx, p.cfg.PoolID)
	if err != nil {
		return nil, err
	}
	idle := counts[types.ContainerIdle]
	borrowed := counts[types.ContainerClaimed]
	return &types.PoolStats{
		PoolID:     p.cfg.PoolID,
		WorkloadID: p.cfg.WorkloadID,
		Total:      idle + borrowed + counts[types.ContainerStopping],
		Idle:       idle,
		Borrowed:   borrowed,
		MinIdle:    p.cfg.MinIdle,
		MaxSize:    p.cfg.MaxSize,
	}, nil
}
