package reaper

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

const (
	// DefaultPollInterval between walk rounds.
	DefaultPollInterval = 5 * time.Second

	// MaxWalkEntries bounds one state tree traversal.
	MaxWalkEntries = 10000

	// concurrentWalks bounds how many state trees one poll round walks at
	// once.
	concurrentWalks = 4
)

// OnExpiryFunc is invoked when a watched container's state tree has been
// quiet past its TTL. It runs the release pipeline.
type OnExpiryFunc func(containerID, tenantID, poolID string)

type watch struct {
	containerID  string
	tenantID     string
	poolID       string
	stateDir     string
	ttl          time.Duration
	lastModified time.Time
	lastRefresh  time.Time
}

// Reaper releases claimed containers whose state trees go quiet. One shared
// poll loop walks every watched tree; rounds never overlap because the next
// round is scheduled only after the previous one completes.
type Reaper struct {
	store        storage.Store
	pollInterval time.Duration
	onExpiry     OnExpiryFunc
	logger       zerolog.Logger

	mu      sync.Mutex
	watches map[string]*watch
	running bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewReaper creates a reaper. pollInterval <= 0 uses the default.
func NewReaper(store storage.Store, pollInterval time.Duration, onExpiry OnExpiryFunc) *Reaper {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Reaper{
		store:        store,
		pollInterval: pollInterval,
		onExpiry:     onExpiry,
		logger:       log.WithComponent("reaper"),
		watches:      make(map[string]*watch),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Watch starts (or replaces) inactivity tracking for a claimed container
// and persists its idle deadline.
func (r *Reaper) Watch(ctx context.Context, containerID, tenantID, poolID, stateDir string, ttl time.Duration) error {
	return r.watchSeeded(ctx, containerID, tenantID, poolID, stateDir, ttl, time.Now())
}

func (r *Reaper) watchSeeded(ctx context.Context, containerID, tenantID, poolID, stateDir string, ttl time.Duration, lastModified time.Time) error {
	expires := lastModified.Add(ttl)
	if err := r.store.SetIdleExpiry(ctx, containerID, &expires); err != nil {
		return err
	}

	r.mu.Lock()
	r.watches[containerID] = &watch{
		containerID:  containerID,
		tenantID:     tenantID,
		poolID:       poolID,
		stateDir:     stateDir,
		ttl:          ttl,
		lastModified: lastModified,
		lastRefresh:  time.Now(),
	}
	start := !r.running
	if start {
		r.running = true
	}
	r.mu.Unlock()

	if start {
		go r.loop()
	}
	return nil
}

// Unwatch stops tracking a container and clears its idle deadline.
func (r *Reaper) Unwatch(ctx context.Context, containerID string) error {
	r.mu.Lock()
	delete(r.watches, containerID)
	r.mu.Unlock()

	return r.store.SetIdleExpiry(ctx, containerID, nil)
}

// WatchCount returns the number of active watches.
func (r *Reaper) WatchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watches)
}

// Shutdown clears all watches and stops the poll loop.
func (r *Reaper) Shutdown() {
	r.mu.Lock()
	r.watches = make(map[string]*watch)
	wasRunning := r.running
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stopCh) })
	if wasRunning {
		<-r.doneCh
	}
}

// loop self-schedules: each round starts pollInterval after the previous
// one finished.
func (r *Reaper) loop() {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			return
		case <-time.After(r.pollInterval):
		}
		r.pollOnce()
	}
}

// pollOnce walks every watched state tree, failure-isolated and bounded in
// parallelism.
func (r *Reaper) pollOnce() {
	r.mu.Lock()
	snapshot := make([]*watch, 0, len(r.watches))
	for _, w := range r.watches {
		snapshot = append(snapshot, w)
	}
	r.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(concurrentWalks)
	for _, w := range snapshot {
		w := w
		g.Go(func() error {
			r.checkWatch(w)
			return nil
		})
	}
	g.Wait()
}

func (r *Reaper) checkWatch(w *watch) {
	maxMtime := maxTreeMtime(w.stateDir, MaxWalkEntries)
	now := time.Now()

	r.mu.Lock()
	current, stillWatched := r.watches[w.containerID]
	if !stillWatched || current != w {
		r.mu.Unlock()
		return
	}

	if maxMtime.After(w.lastModified) {
		w.lastModified = maxMtime
		refresh := now.Sub(w.lastRefresh) >= r.pollInterval
		if refresh {
			w.lastRefresh = now
		}
		ttl := w.ttl
		r.mu.Unlock()

		if refresh {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.store.RefreshIdleExpiry(ctx, w.containerID, now, ttl); err != nil {
				r.logger.Warn().Err(err).Str("container_id", w.containerID).Msg("Failed to refresh idle expiry")
			}
		}
		return
	}

	if now.Sub(w.lastModified) >= w.ttl {
		delete(r.watches, w.containerID)
		r.mu.Unlock()

		r.logger.Info().
			Str("container_id", w.containerID).
			Str("tenant_id", w.tenantID).
			Dur("ttl", w.ttl).
			Msg("State tree idle past TTL, releasing")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r.store.SetIdleExpiry(ctx, w.containerID, nil)
		cancel()

		if r.onExpiry != nil {
			go r.onExpiry(w.containerID, w.tenantID, w.poolID)
		}
		return
	}

	r.mu.Unlock()
}

// Restore rebuilds watches after a restart, honoring TTLs against on-disk
// mtimes so a restart cannot extend a lease. Rows already past their TTL
// expire immediately.
func (r *Reaper) Restore(ctx context.Context, cfg *types.PoolConfig, claimed []*types.PoolContainer, stateDir func(containerID string) string) error {
	if cfg.FileIdleTTL <= 0 {
		return nil
	}

	now := time.Now()
	for _, row := range claimed {
		dir := stateDir(row.ContainerID)
		maxMtime := maxTreeMtime(dir, MaxWalkEntries)

		if maxMtime.IsZero() {
			// Missing or empty state dir: start fresh.
			if err := r.Watch(ctx, row.ContainerID, row.TenantID, row.PoolID, dir, cfg.FileIdleTTL); err != nil {
				return err
			}
			continue
		}

		if now.Sub(maxMtime) >= cfg.FileIdleTTL {
			r.logger.Info().
				Str("container_id", row.ContainerID).
				Msg("Lease already expired at restore")
			if r.onExpiry != nil {
				go r.onExpiry(row.ContainerID, row.TenantID, row.PoolID)
			}
			continue
		}

		if err := r.watchSeeded(ctx, row.ContainerID, row.TenantID, row.PoolID, dir, cfg.FileIdleTTL, maxMtime); err != nil {
			return err
		}
	}
	return nil
}

// maxTreeMtime walks a tree, bounded by maxEntries, and returns the newest
// mtime seen. Permission errors and disappearing subtrees are skipped; a
// missing root returns the zero time.
func maxTreeMtime(root string, maxEntries int) time.Time {
	var maxMtime time.Time
	entries := 0

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				return fs.SkipDir
			}
			return nil
		}
		entries++
		if entries > maxEntries {
			return fs.SkipAll
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(maxMtime) {
			maxMtime = info.ModTime()
		}
		return nil
	})

	return maxMtime
}
