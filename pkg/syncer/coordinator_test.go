package syncer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

type fakePaths struct{ base string }

func (p fakePaths) StateDir(containerID string) string {
	return filepath.Join(p.base, containerID)
}

type recordedRun struct {
	mode   Mode
	source string
	dest   string
	opts   RunOptions
}

type fakeRunner struct {
	mu    sync.Mutex
	runs  []recordedRun
	delay time.Duration
	fail  bool
}

func (f *fakeRunner) Run(ctx context.Context, mode Mode, source, dest string, opts RunOptions) *RunResult {
	f.mu.Lock()
	f.runs = append(f.runs, recordedRun{mode, source, dest, opts})
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return &RunResult{ErrorKind: ErrTool, Errors: []string{"tool_error: exit status 1"}}
	}
	return &RunResult{Success: true, FilesTransferred: 1}
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func syncWorkload(mappings ...types.SyncMapping) *types.WorkloadSpec {
	return &types.WorkloadSpec{
		ID:    "wl-1",
		Image: "alpine",
		Sync: &types.SyncSpec{
			Sink: types.SinkConfig{
				Type:   "s3",
				Bucket: "bkt",
				Prefix: "t/${tenantId}",
			},
			Mappings: mappings,
		},
	}
}

func newTestCoordinator(t *testing.T, runner Runner) (*Coordinator, storage.Store) {
	t.Helper()
	store, err := storage.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := NewCoordinator(runner, NewRegistry(), store, fakePaths{base: t.TempDir()}, t.TempDir(), nil)
	return c, store
}

func TestOnClaimDownloadsMapping(t *testing.T) {
	runner := &fakeRunner{}
	c, store := newTestCoordinator(t, runner)

	w := syncWorkload(types.SyncMapping{Path: "data", SinkPath: "data", Direction: types.SyncDownload})
	err := c.OnClaim(context.Background(), "tenant-a", "c-1", w, true)
	require.NoError(t, err)

	require.Equal(t, 1, runner.count())
	run := runner.runs[0]
	assert.Equal(t, ModeCopy, run.mode)
	assert.Equal(t, ":s3:bkt/t/tenant-a/data", run.source)
	assert.Contains(t, run.dest, filepath.Join("c-1", "data"))

	st, err := store.GetSyncStatus(context.Background(), "tenant-a", "wl-1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, types.SyncStateIdle, st.State)
}

func TestOnClaimBidirectionalResync(t *testing.T) {
	runner := &fakeRunner{}
	c, _ := newTestCoordinator(t, runner)

	w := syncWorkload(types.SyncMapping{Path: "data", SinkPath: "data", Direction: types.SyncBoth})

	// Initial claim establishes bisync state.
	require.NoError(t, c.OnClaim(context.Background(), "tenant-a", "c-1", w, true))
	require.Equal(t, 1, runner.count())
	assert.Equal(t, ModeBisync, runner.runs[0].mode)
	assert.True(t, runner.runs[0].opts.Resync)

	// Affinity claim reuses it.
	require.NoError(t, c.OnClaim(context.Background(), "tenant-a", "c-1", w, false))
	require.Equal(t, 2, runner.count())
	assert.False(t, runner.runs[1].opts.Resync)
}

func TestOnClaimInitialFailureReturnsError(t *testing.T) {
	runner := &fakeRunner{fail: true}
	c, store := newTestCoordinator(t, runner)

	w := syncWorkload(types.SyncMapping{Path: "data", SinkPath: "data", Direction: types.SyncDownload})
	err := c.OnClaim(context.Background(), "tenant-a", "c-1", w, true)
	require.Error(t, err)

	st, err2 := store.GetSyncStatus(context.Background(), "tenant-a", "wl-1")
	require.NoError(t, err2)
	assert.Equal(t, types.SyncStateError, st.State)
	require.NotEmpty(t, st.Errors)
}

func TestOnClaimNonInitialFailureIsRecorded(t *testing.T) {
	runner := &fakeRunner{fail: true}
	c, store := newTestCoordinator(t, runner)

	w := syncWorkload(types.SyncMapping{Path: "data", SinkPath: "data", Direction: types.SyncDownload})
	err := c.OnClaim(context.Background(), "tenant-a", "c-1", w, false)
	assert.NoError(t, err)

	st, err := store.GetSyncStatus(context.Background(), "tenant-a", "wl-1")
	require.NoError(t, err)
	assert.Equal(t, types.SyncStateError, st.State)
}

func TestOnReleaseUploads(t *testing.T) {
	runner := &fakeRunner{}
	c, _ := newTestCoordinator(t, runner)

	w := syncWorkload(
		types.SyncMapping{Path: "out", SinkPath: "out", Direction: types.SyncUpload},
		types.SyncMapping{Path: "in", SinkPath: "in", Direction: types.SyncDownload},
	)
	c.OnRelease(context.Background(), "tenant-a", "c-1", w)

	// Only the upload mapping runs at release.
	require.Equal(t, 1, runner.count())
	run := runner.runs[0]
	assert.Equal(t, ModeSync, run.mode)
	assert.Contains(t, run.source, filepath.Join("c-1", "out"))
	assert.Equal(t, ":s3:bkt/t/tenant-a/out", run.dest)
}

func TestSingleFlightCoalesces(t *testing.T) {
	runner := &fakeRunner{delay: 100 * time.Millisecond}
	c, _ := newTestCoordinator(t, runner)

	w := syncWorkload(types.SyncMapping{Path: "data", SinkPath: "data", Direction: types.SyncUpload})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.TriggerSync(context.Background(), "tenant-a", "c-1", w, types.SyncUpload)
		}()
	}
	wg.Wait()

	// Concurrent attempts for the same (tenant, sink path) coalesce.
	assert.Equal(t, 1, runner.count())
}

func TestSingleFlightIsPerTenant(t *testing.T) {
	runner := &fakeRunner{delay: 50 * time.Millisecond}
	c, _ := newTestCoordinator(t, runner)

	w := syncWorkload(types.SyncMapping{Path: "data", SinkPath: "data", Direction: types.SyncUpload})

	var wg sync.WaitGroup
	for _, tenant := range []string{"t1", "t2"} {
		tenant := tenant
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.TriggerSync(context.Background(), tenant, "c-"+tenant, w, types.SyncUpload)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, runner.count())
}

func TestPeriodicSync(t *testing.T) {
	runner := &fakeRunner{}
	c, _ := newTestCoordinator(t, runner)

	w := syncWorkload(types.SyncMapping{Path: "data", SinkPath: "data", Direction: types.SyncBoth})
	w.Sync.Policy.Interval = 20 * time.Millisecond

	c.StartPeriodic("tenant-a", "c-1", w)
	time.Sleep(110 * time.Millisecond)
	c.StopPeriodic("tenant-a", "wl-1")

	ran := runner.count()
	assert.GreaterOrEqual(t, ran, 2)

	// No further runs after stop.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, ran, runner.count())
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	runner := &fakeRunner{delay: 80 * time.Millisecond}
	c, _ := newTestCoordinator(t, runner)

	w := syncWorkload(types.SyncMapping{Path: "data", SinkPath: "data", Direction: types.SyncUpload})

	done := make(chan struct{})
	go func() {
		c.TriggerSync(context.Background(), "tenant-a", "c-1", w, types.SyncUpload)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Shutdown(time.Second)

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("shutdown returned before in-flight sync finished")
	}
}
