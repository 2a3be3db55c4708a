package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/activity"
	"github.com/burrowhq/burrow/pkg/config"
	"github.com/burrowhq/burrow/pkg/events"
	"github.com/burrowhq/burrow/pkg/hooks"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/manager"
	"github.com/burrowhq/burrow/pkg/metrics"
	"github.com/burrowhq/burrow/pkg/pool"
	"github.com/burrowhq/burrow/pkg/reaper"
	"github.com/burrowhq/burrow/pkg/reconciler"
	"github.com/burrowhq/burrow/pkg/registry"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/syncer"
	"github.com/burrowhq/burrow/pkg/types"
	"github.com/burrowhq/burrow/pkg/workload"
)

// restartStopTimeout bounds the SIGTERM grace when recycling a container at
// claim time.
const restartStopTimeout = 2 * time.Second

// ClaimResult is what a tenant receives from a successful claim.
type ClaimResult struct {
	Container *types.PoolContainer
	Hostname  string
	Affinity  bool
}

// Orchestrator is the composition root: it wires the store, runtime, pools,
// sync coordinator, hook runner and reaper into the claim/release pipelines.
type Orchestrator struct {
	cfg       *config.Config
	store     storage.Store
	driver    runtime.Driver
	mgr       *manager.Manager
	workloads *workload.Registry
	pools     *registry.Registry
	hooks     *hooks.Runner
	syncer    *syncer.Coordinator
	reaper    *reaper.Reaper
	activity  *activity.Log
	broker    *events.Broker
	lock      *flock.Flock
	logger    zerolog.Logger
}

// New wires an orchestrator. A nil syncRunner selects the real rclone
// executor; tests inject a fake.
func New(cfg *config.Config, store storage.Store, driver runtime.Driver, workloads *workload.Registry, syncRunner syncer.Runner) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		store:     store,
		driver:    driver,
		workloads: workloads,
		logger:    log.WithComponent("orchestrator"),
	}

	o.broker = events.NewBroker()
	o.activity = activity.NewLog(store, o.broker, cfg.MaxActivityEvents)
	o.mgr = manager.NewManager(driver, cfg)
	o.hooks = hooks.NewRunner(driver, &hookRecorder{activity: o.activity})

	if syncRunner == nil {
		syncRunner = syncer.NewExecutor(cfg.RclonePath, cfg.SyncTimeout, false)
	}
	o.syncer = syncer.NewCoordinator(
		syncRunner,
		syncer.NewRegistry(),
		store,
		o.mgr,
		filepath.Join(cfg.DataDir, "bisync"),
		func(evType types.EventType, tenantID, containerID, message string) {
			o.activity.Recordf(context.Background(), evType, "", containerID, tenantID, message)
		},
	)

	o.reaper = reaper.NewReaper(store, cfg.ReaperPollInterval, o.onReaperExpiry)
	o.pools = registry.NewRegistry(store, o.mgr, workloads, registry.Defaults{
		MinIdle:          cfg.PoolMinIdle,
		MaxSize:          cfg.PoolMaxSize,
		IdleTimeout:      cfg.IdleTimeout,
		EvictionInterval: cfg.EvictionInterval,
		AcquireTimeout:   cfg.AcquireTimeout,
	}, o.activity)

	return o
}

// Pools exposes the pool registry.
func (o *Orchestrator) Pools() *registry.Registry { return o.pools }

// Activity exposes the activity log.
func (o *Orchestrator) Activity() *activity.Log { return o.activity }

// Events exposes the event broker for streaming subscribers.
func (o *Orchestrator) Events() *events.Broker { return o.broker }

// Start acquires the node lock, reconciles persisted state against the
// runtime, and restores pools and file-idle watches.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lock = flock.New(filepath.Join(o.cfg.DataDir, "burrow.lock"))
	locked, err := o.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire node lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another instance holds the lock at %s", o.lock.Path())
	}

	o.broker.Start()

	report, err := reconciler.NewReconciler(o.store, o.driver).RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	o.activity.Recordf(ctx, types.EventRecoveryCompleted, "", "", "",
		fmt.Sprintf("recovery: %d runtime, %d stale rows, %d foreign destroyed",
			report.RuntimeCount, report.StaleRows, report.ForeignDestroyed))

	return o.restorePools(ctx)
}

func (o *Orchestrator) restorePools(ctx context.Context) error {
	cfgs, err := o.store.ListPools(ctx)
	if err != nil {
		return err
	}

	for _, cfg := range cfgs {
		p, err := o.pools.RestorePool(cfg)
		if err != nil {
			o.logger.Warn().Err(err).Str("pool_id", cfg.PoolID).Msg("Skipping pool restore")
			continue
		}

		rows, err := o.store.ListByPool(ctx, cfg.PoolID)
		if err != nil {
			return err
		}
		var claimed []*types.PoolContainer
		for _, row := range rows {
			if row.Status == types.ContainerClaimed {
				claimed = append(claimed, row)
			}
		}

		if cfg.FileIdleTTL > 0 && len(claimed) > 0 {
			if err := o.reaper.Restore(ctx, cfg, claimed, o.mgr.StateDir); err != nil {
				o.logger.Warn().Err(err).Str("pool_id", cfg.PoolID).Msg("Failed to restore idle watches")
			}
		}

		w := p.Workload()
		if w.Sync != nil && w.Sync.Policy.Interval > 0 {
			for _, row := range claimed {
				o.syncer.StartPeriodic(row.TenantID, row.ContainerID, w)
			}
		}
	}
	return nil
}

// Claim leases a container from a pool to a tenant and runs the claim
// pipeline: initial sync, restart, health wait, post-claim hooks, idle
// watch, periodic sync.
func (o *Orchestrator) Claim(ctx context.Context, tenantID, poolID string) (*ClaimResult, error) {
	p, err := o.pools.Get(poolID)
	if err != nil {
		return nil, err
	}
	w := p.Workload()

	timer := metrics.NewTimer()
	res, err := o.claim(ctx, p, w, tenantID, poolID)
	switch {
	case err == nil:
		metrics.ClaimsTotal.WithLabelValues(poolID, "ok").Inc()
		timer.ObserveDuration(metrics.ClaimDuration.WithLabelValues(poolID))
	case errors.Is(err, types.ErrPoolCapacity):
		metrics.ClaimsTotal.WithLabelValues(poolID, "capacity").Inc()
	default:
		metrics.ClaimsTotal.WithLabelValues(poolID, "error").Inc()
	}
	return res, err
}

func (o *Orchestrator) claim(ctx context.Context, p *pool.Pool, w *types.WorkloadSpec, tenantID, poolID string) (*ClaimResult, error) {
	c, affinity, err := p.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	o.activity.Recordf(ctx, types.EventContainerClaimed, poolID, c.ContainerID, tenantID,
		fmt.Sprintf("claimed (affinity=%t)", affinity))

	if w.Sync != nil && w.Sync.Policy.OnClaim {
		if err := o.syncer.OnClaim(ctx, tenantID, c.ContainerID, w, !affinity); err != nil {
			o.releaseAfterFailure(ctx, p, tenantID)
			return nil, fmt.Errorf("initial sync failed: %w", err)
		}
	}

	if err := o.mgr.Restart(ctx, c.ContainerID, restartStopTimeout); err != nil {
		o.releaseAfterFailure(ctx, p, tenantID)
		return nil, fmt.Errorf("failed to restart container: %w", err)
	}
	if err := o.mgr.WaitForHealthy(ctx, c.ContainerID, w, o.cfg.StartTimeout); err != nil {
		o.releaseAfterFailure(ctx, p, tenantID)
		return nil, err
	}

	if w.Hooks != nil && len(w.Hooks.PostClaim) > 0 {
		res := o.hooks.Run(ctx, types.HookPostClaim, manager.ContainerName(c.ContainerID), tenantID, w.Hooks.PostClaim)
		if res.Aborted {
			o.releaseAfterFailure(ctx, p, tenantID)
			return nil, hooks.AbortError(types.HookPostClaim, res)
		}
	}

	if ttl := p.Config().FileIdleTTL; ttl > 0 {
		if err := o.reaper.Watch(ctx, c.ContainerID, tenantID, poolID, o.mgr.StateDir(c.ContainerID), ttl); err != nil {
			o.logger.Warn().Err(err).Str("container_id", c.ContainerID).Msg("Failed to start idle watch")
		}
	}
	if w.Sync != nil && w.Sync.Policy.Interval > 0 {
		o.syncer.StartPeriodic(tenantID, c.ContainerID, w)
	}

	// Re-read the row so callers see the claimed state.
	claimed, err := o.store.GetContainer(ctx, c.ContainerID)
	if err != nil {
		claimed = c
	}
	return &ClaimResult{
		Container: claimed,
		Hostname:  manager.ContainerName(c.ContainerID),
		Affinity:  affinity,
	}, nil
}

// releaseAfterFailure unwinds a half-finished claim without running the
// release-side sync.
func (o *Orchestrator) releaseAfterFailure(ctx context.Context, p *pool.Pool, tenantID string) {
	if err := o.release(ctx, p, tenantID, true); err != nil {
		o.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to unwind claim")
	}
}

// Release returns a tenant's container to the pool. Releasing a tenant with
// no claim is a no-op. skipSync bypasses the release-side upload.
func (o *Orchestrator) Release(ctx context.Context, tenantID, poolID string, skipSync bool) error {
	p, err := o.pools.Get(poolID)
	if err != nil {
		return err
	}
	return o.release(ctx, p, tenantID, skipSync)
}

func (o *Orchestrator) release(ctx context.Context, p *pool.Pool, tenantID string, skipSync bool) error {
	w := p.Workload()

	claimed, err := p.ClaimedByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if claimed == nil {
		return nil
	}

	if err := o.reaper.Unwatch(ctx, claimed.ContainerID); err != nil {
		o.logger.Warn().Err(err).Str("container_id", claimed.ContainerID).Msg("Failed to stop idle watch")
	}

	// A failing pre-release hook is logged but never blocks the release;
	// the tenant is leaving either way.
	if w.Hooks != nil && len(w.Hooks.PreRelease) > 0 {
		res := o.hooks.Run(ctx, types.HookPreRelease, manager.ContainerName(claimed.ContainerID), tenantID, w.Hooks.PreRelease)
		if res.Aborted {
			o.logger.Warn().
				Str("tenant_id", tenantID).
				Int("index", res.AbortedAt).
				Msg("Pre-release hook aborted, continuing release")
		}
	}

	if !skipSync && w.Sync != nil && w.Sync.Policy.OnRelease {
		o.syncer.OnRelease(ctx, tenantID, claimed.ContainerID, w)
	}
	o.syncer.StopPeriodic(tenantID, w.ID)

	if _, err := p.Release(ctx, tenantID); err != nil {
		if err == types.ErrTenantNotFound {
			return nil
		}
		return err
	}

	metrics.ReleasesTotal.WithLabelValues(p.Config().PoolID).Inc()
	o.activity.Recordf(ctx, types.EventContainerReleased, p.Config().PoolID, claimed.ContainerID, tenantID, "released")
	return nil
}

// onReaperExpiry releases a container whose files went idle past the TTL.
func (o *Orchestrator) onReaperExpiry(containerID, tenantID, poolID string) {
	ctx := context.Background()
	metrics.ReaperExpiriesTotal.Inc()
	o.activity.Recordf(ctx, types.EventReaperExpired, poolID, containerID, tenantID, "file-idle TTL expired")

	if err := o.Release(ctx, tenantID, poolID, false); err != nil {
		o.logger.Error().Err(err).
			Str("tenant_id", tenantID).
			Str("pool_id", poolID).
			Msg("Failed to release expired container")
	}
}

// TriggerSync runs a manual sync for a tenant's claimed container.
func (o *Orchestrator) TriggerSync(ctx context.Context, tenantID, poolID string, dir types.SyncDirection) error {
	p, err := o.pools.Get(poolID)
	if err != nil {
		return err
	}
	w := p.Workload()
	if w.Sync == nil {
		return fmt.Errorf("workload %s has no sync configuration", w.ID)
	}

	claimed, err := p.ClaimedByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if claimed == nil {
		return types.ErrTenantNotFound
	}
	return o.syncer.TriggerSync(ctx, tenantID, claimed.ContainerID, w, dir)
}

// SyncStatus reports a tenant's sync states.
func (o *Orchestrator) SyncStatus(ctx context.Context, tenantID string) ([]*types.SyncStatus, error) {
	return o.syncer.Status(ctx, tenantID)
}

// RecordActivity bumps the activity clock on a tenant's claimed container so
// the idle timeout does not fire mid-use.
func (o *Orchestrator) RecordActivity(ctx context.Context, tenantID, poolID string) error {
	p, err := o.pools.Get(poolID)
	if err != nil {
		return err
	}
	return p.RecordActivity(ctx, tenantID)
}

// Shutdown stops background loops and closes the store. Containers and rows
// are preserved for the next start's recovery pass.
func (o *Orchestrator) Shutdown(syncDeadline time.Duration) {
	o.pools.Shutdown()
	o.reaper.Shutdown()
	o.syncer.Shutdown(syncDeadline)
	o.broker.Stop()

	if o.lock != nil {
		if err := o.lock.Unlock(); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to release node lock")
		}
	}
	if err := o.store.Close(); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to close store")
	}
	o.logger.Info().Msg("Orchestrator shut down")
}

// hookRecorder feeds hook lifecycle events into the activity log.
type hookRecorder struct {
	activity *activity.Log
}

func (h *hookRecorder) HookStarted(ctx context.Context, point types.HookPoint, containerID, tenantID string, index int, command []string) {
	h.activity.Recordf(ctx, types.EventHookStarted, "", containerID, tenantID,
		fmt.Sprintf("%s[%d]: %v", point, index, command))
}

func (h *hookRecorder) HookCompleted(ctx context.Context, point types.HookPoint, containerID, tenantID string, index int) {
	h.activity.Recordf(ctx, types.EventHookCompleted, "", containerID, tenantID,
		fmt.Sprintf("%s[%d] completed", point, index))
}

func (h *hookRecorder) HookFailed(ctx context.Context, point types.HookPoint, containerID, tenantID string, index int, reason string) {
	metrics.HookFailuresTotal.WithLabelValues(string(point)).Inc()
	h.activity.Recordf(ctx, types.EventHookFailed, "", containerID, tenantID,
		fmt.Sprintf("%s[%d] failed: %s", point, index, reason))
}
