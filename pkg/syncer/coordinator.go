package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/metrics"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

// HostPaths resolves container ids to host state directories. The container
// manager satisfies this.
type HostPaths interface {
	StateDir(containerID string) string
}

// Runner executes transfers. *Executor is the production implementation;
// tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, mode Mode, source, dest string, opts RunOptions) *RunResult
}

// EventFunc receives sync lifecycle notifications for the activity log.
type EventFunc func(evType types.EventType, tenantID, containerID, message string)

// Coordinator mediates file sync between container state volumes and remote
// sinks. At most one sync runs per (tenant, sink path); concurrent attempts
// are coalesced, not queued.
type Coordinator struct {
	exec      Runner
	sinks     *Registry
	store     storage.Store
	paths     HostPaths
	bisyncDir string
	onEvent   EventFunc
	logger    zerolog.Logger

	mu     sync.Mutex
	active map[string]struct{}

	tickMu  sync.Mutex
	tickers map[string]chan struct{}

	wg sync.WaitGroup
}

// NewCoordinator creates a sync coordinator. bisyncDir holds per-tenant
// bisync working state; onEvent may be nil.
func NewCoordinator(exec Runner, sinks *Registry, store storage.Store, paths HostPaths, bisyncDir string, onEvent EventFunc) *Coordinator {
	if onEvent == nil {
		onEvent = func(types.EventType, string, string, string) {}
	}
	return &Coordinator{
		exec:      exec,
		sinks:     sinks,
		store:     store,
		paths:     paths,
		bisyncDir: bisyncDir,
		onEvent:   onEvent,
		logger:    log.WithComponent("syncer"),
		active:    make(map[string]struct{}),
		tickers:   make(map[string]chan struct{}),
	}
}

// OnClaim brings a freshly claimed container's state up to date. Download
// mappings copy remote content in; bidirectional mappings run bisync, with
// resync on an initial (non-affinity) claim. An initial download failure is
// returned so the claim pipeline can abort; other failures are recorded
// in SyncStatus only.
func (c *Coordinator) OnClaim(ctx context.Context, tenantID, containerID string, w *types.WorkloadSpec, initial bool) error {
	if w.Sync == nil {
		return nil
	}

	var firstErr error
	for _, mapping := range w.Sync.Mappings {
		var syncErr *types.SyncError
		switch direction(mapping) {
		case types.SyncDownload:
			syncErr = c.runMapping(ctx, tenantID, containerID, w, mapping, types.SyncDownload, false)
		case types.SyncBoth:
			syncErr = c.runMapping(ctx, tenantID, containerID, w, mapping, types.SyncBoth, initial)
		default:
			continue
		}
		if syncErr != nil && initial && firstErr == nil {
			firstErr = fmt.Errorf("initial download failed for %s: %s", mapping.Path, syncErr.Message)
		}
	}
	return firstErr
}

// OnRelease flushes a releasing container's state to the sink.
func (c *Coordinator) OnRelease(ctx context.Context, tenantID, containerID string, w *types.WorkloadSpec) {
	if w.Sync == nil {
		return
	}

	for _, mapping := range w.Sync.Mappings {
		switch direction(mapping) {
		case types.SyncUpload:
			c.runMapping(ctx, tenantID, containerID, w, mapping, types.SyncUpload, false)
		case types.SyncBoth:
			c.runMapping(ctx, tenantID, containerID, w, mapping, types.SyncBoth, false)
		}
	}

	// Bisync working state for this tenant is only valid against this
	// container's listing; drop it best-effort.
	os.RemoveAll(c.workdir(tenantID, w.ID))
}

// TriggerSync runs mappings manually in the requested direction.
func (c *Coordinator) TriggerSync(ctx context.Context, tenantID, containerID string, w *types.WorkloadSpec, dir types.SyncDirection) error {
	if w.Sync == nil {
		return fmt.Errorf("workload %s has no sync configured", w.ID)
	}

	for _, mapping := range w.Sync.Mappings {
		md := direction(mapping)
		switch dir {
		case types.SyncUpload:
			if md == types.SyncUpload || md == types.SyncBoth {
				c.runMapping(ctx, tenantID, containerID, w, mapping, types.SyncUpload, false)
			}
		case types.SyncDownload:
			if md == types.SyncDownload || md == types.SyncBoth {
				c.runMapping(ctx, tenantID, containerID, w, mapping, types.SyncDownload, false)
			}
		case types.SyncBoth:
			c.runMapping(ctx, tenantID, containerID, w, mapping, md, false)
		}
	}
	return nil
}

// StartPeriodic begins the per-(workload, tenant) interval sync, if the
// policy sets one. It runs until StopPeriodic or Shutdown.
func (c *Coordinator) StartPeriodic(tenantID, containerID string, w *types.WorkloadSpec) {
	if w.Sync == nil || w.Sync.Policy.Interval <= 0 {
		return
	}

	key := w.ID + "|" + tenantID
	c.tickMu.Lock()
	if _, running := c.tickers[key]; running {
		c.tickMu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	c.tickers[key] = stopCh
	c.tickMu.Unlock()

	interval := w.Sync.Policy.Interval
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.TriggerSync(context.Background(), tenantID, containerID, w, types.SyncBoth)
			case <-stopCh:
				return
			}
		}
	}()
}

// StopPeriodic cancels the interval sync for a (workload, tenant) pair.
func (c *Coordinator) StopPeriodic(tenantID, workloadID string) {
	key := workloadID + "|" + tenantID
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	if stopCh, ok := c.tickers[key]; ok {
		close(stopCh)
		delete(c.tickers, key)
	}
}

// Shutdown cancels periodic tickers and waits for in-flight syncs up to the
// deadline.
func (c *Coordinator) Shutdown(deadline time.Duration) {
	c.tickMu.Lock()
	for key, stopCh := range c.tickers {
		close(stopCh)
		delete(c.tickers, key)
	}
	c.tickMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
		c.logger.Warn().Msg("Shutdown deadline reached with syncs in flight")
	}
}

// runMapping executes one transfer under the single-flight lock for its
// (tenant, sink path) key. Returns the recorded error, or nil on success or
// when coalesced away.
func (c *Coordinator) runMapping(ctx context.Context, tenantID, containerID string, w *types.WorkloadSpec, mapping types.SyncMapping, dir types.SyncDirection, resync bool) *types.SyncError {
	key := tenantID + "|" + mapping.SinkPath
	c.mu.Lock()
	if _, busy := c.active[key]; busy {
		c.mu.Unlock()
		c.logger.Debug().
			Str("tenant_id", tenantID).
			Str("sink_path", mapping.SinkPath).
			Msg("Sync already running, coalesced")
		return nil
	}
	c.active[key] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	defer func() {
		c.mu.Lock()
		delete(c.active, key)
		c.mu.Unlock()
		c.wg.Done()
	}()

	adapter, err := c.sinks.Get(w.Sync.Sink.Type)
	if err != nil {
		if serr := c.store.SyncStarted(ctx, tenantID, w.ID); serr != nil {
			c.logger.Error().Err(serr).Msg("Failed to record sync start")
		}
		return c.complete(ctx, tenantID, w.ID, &types.SyncError{
			Message:     err.Error(),
			MappingPath: mapping.Path,
			Timestamp:   time.Now().UTC(),
		}, containerID)
	}

	local := filepath.Join(c.paths.StateDir(containerID), mapping.Path)
	remote := adapter.RemotePath(&w.Sync.Sink, tenantID, mapping.SinkPath)

	var mode Mode
	var source, dest string
	switch dir {
	case types.SyncUpload:
		mode, source, dest = ModeSync, local, remote
	case types.SyncDownload:
		mode, source, dest = ModeCopy, remote, local
	case types.SyncBoth:
		mode, source, dest = ModeBisync, local, remote
	}

	if err := c.store.SyncStarted(ctx, tenantID, w.ID); err != nil {
		c.logger.Error().Err(err).Msg("Failed to record sync start")
	}
	c.onEvent(types.EventSyncStarted, tenantID, containerID,
		fmt.Sprintf("%s %s", mode, mapping.Path))

	result := c.exec.Run(ctx, mode, source, dest, RunOptions{
		SinkArgs: adapter.Args(&w.Sync.Sink),
		Include:  w.Sync.Policy.Pattern,
		Resync:   resync,
		Workdir:  c.workdir(tenantID, w.ID),
	})

	if result.Success {
		metrics.SyncsTotal.WithLabelValues("ok").Inc()
		metrics.SyncBytesTotal.Add(float64(result.BytesTransferred))
		c.complete(ctx, tenantID, w.ID, nil, containerID)
		c.onEvent(types.EventSyncCompleted, tenantID, containerID,
			fmt.Sprintf("%s %s: %d files, %d bytes", mode, mapping.Path,
				result.FilesTransferred, result.BytesTransferred))
		return nil
	}

	metrics.SyncsTotal.WithLabelValues("failed").Inc()
	syncErr := &types.SyncError{
		Message:     result.Errors[0],
		MappingPath: mapping.Path,
		Timestamp:   time.Now().UTC(),
	}
	c.complete(ctx, tenantID, w.ID, syncErr, containerID)
	c.onEvent(types.EventSyncFailed, tenantID, containerID,
		fmt.Sprintf("%s %s: %s", mode, mapping.Path, syncErr.Message))
	return syncErr
}

func (c *Coordinator) complete(ctx context.Context, tenantID, syncID string, syncErr *types.SyncError, containerID string) *types.SyncError {
	if err := c.store.SyncCompleted(ctx, tenantID, syncID, syncErr, time.Now()); err != nil {
		c.logger.Error().Err(err).Msg("Failed to record sync completion")
	}
	return syncErr
}

func (c *Coordinator) workdir(tenantID, workloadID string) string {
	return filepath.Join(c.bisyncDir, tenantID, workloadID)
}

// Status returns the sync statuses for one tenant.
func (c *Coordinator) Status(ctx context.Context, tenantID string) ([]*types.SyncStatus, error) {
	return c.store.ListSyncStatuses(ctx, tenantID)
}

// direction returns the mapping direction, defaulting to upload.
func direction(m types.SyncMapping) types.SyncDirection {
	if m.Direction == "" {
		return types.SyncUpload
	}
	return m.Direction
}
