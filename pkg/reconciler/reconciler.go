package reconciler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

// Reconciler converges the store with the runtime at startup. The store is
// authoritative for tenant-facing state; the runtime is authoritative for
// container existence. After RunOnce, every store row has a running
// container and every managed running container has a row.
type Reconciler struct {
	store  storage.Store
	driver runtime.Driver
	logger zerolog.Logger
}

// NewReconciler creates a recovery reconciler.
func NewReconciler(store storage.Store, driver runtime.Driver) *Reconciler {
	return &Reconciler{
		store:  store,
		driver: driver,
		logger: log.WithComponent("reconciler"),
	}
}

// RunOnce performs one recovery pass. Individual failures are logged and
// skipped; recovery must not prevent startup.
func (r *Reconciler) RunOnce(ctx context.Context) (*types.RecoveryReport, error) {
	report := &types.RecoveryReport{}

	infos, err := r.driver.ListContainers(ctx)
	if err != nil {
		return nil, err
	}

	// Managed runtime containers by container id. Non-running ones are
	// removed up front: a stopped pool container is useless after a node
	// restart because its claim context is gone.
	running := make(map[string]*runtime.ContainerInfo)
	for _, info := range infos {
		if info.Labels[runtime.LabelManaged] != "true" {
			continue
		}
		containerID := info.Labels[runtime.LabelContainerID]
		if containerID == "" {
			continue
		}
		report.RuntimeCount++

		if !info.Running {
			r.logger.Info().
				Str("container_id", containerID).
				Msg("Removing stopped container")
			if err := r.driver.RemoveContainer(ctx, info.Name); err != nil {
				r.logger.Warn().Err(err).Str("container_id", containerID).Msg("Failed to remove stopped container")
			}
			continue
		}
		running[containerID] = info
	}

	// Store rows without a running container are stale.
	rows, err := r.store.ListAllContainers(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]*types.PoolContainer, len(rows))
	for _, row := range rows {
		known[row.ContainerID] = row
		if _, ok := running[row.ContainerID]; ok {
			continue
		}

		r.logger.Info().
			Str("container_id", row.ContainerID).
			Str("status", string(row.Status)).
			Msg("Deleting stale container row")
		if err := r.store.DeleteContainer(ctx, row.ContainerID); err != nil {
			r.logger.Warn().Err(err).Str("container_id", row.ContainerID).Msg("Failed to delete stale row")
			continue
		}
		if row.TenantID != "" {
			if err := r.store.DeleteSyncStatuses(ctx, row.TenantID); err != nil {
				r.logger.Warn().Err(err).Str("tenant_id", row.TenantID).Msg("Failed to clear sync statuses")
			}
		}
		report.StaleRows++
	}

	// Running managed containers without a row are foreign; destroy them.
	for containerID, info := range running {
		if _, ok := known[containerID]; ok {
			continue
		}

		r.logger.Warn().
			Str("container_id", containerID).
			Str("runtime_name", info.Name).
			Msg("Destroying foreign container")
		if err := r.driver.RemoveContainer(ctx, info.Name); err != nil {
			r.logger.Warn().Err(err).Str("container_id", containerID).Msg("Failed to destroy foreign container")
			continue
		}
		report.ForeignDestroyed++
	}

	r.logger.Info().
		Int("runtime_count", report.RuntimeCount).
		Int("stale_rows", report.StaleRows).
		Int("foreign_destroyed", report.ForeignDestroyed).
		Msg("Recovery completed")

	return report, nil
}
