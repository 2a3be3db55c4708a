package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowhq/burrow/pkg/config"
	"github.com/burrowhq/burrow/pkg/manager"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/syncer"
	"github.com/burrowhq/burrow/pkg/types"
	"github.com/burrowhq/burrow/pkg/workload"
)

type fakeRunner struct {
	mu   sync.Mutex
	runs []syncer.Mode
	fail bool
}

func (f *fakeRunner) Run(ctx context.Context, mode syncer.Mode, source, dest string, opts syncer.RunOptions) *syncer.RunResult {
	f.mu.Lock()
	f.runs = append(f.runs, mode)
	f.mu.Unlock()
	if f.fail {
		return &syncer.RunResult{ErrorKind: syncer.ErrTool, Errors: []string{"tool_error: exit status 1"}}
	}
	return &syncer.RunResult{Success: true, FilesTransferred: 1}
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type env struct {
	o      *Orchestrator
	store  storage.Store
	driver *runtime.FakeDriver
	runner *fakeRunner
	cfg    *config.Config
}

func testConfig(base string) *config.Config {
	return &config.Config{
		DataDir:            base,
		StateBaseDir:       filepath.Join(base, "state"),
		SecretsBaseDir:     filepath.Join(base, "secrets"),
		SocketBaseDir:      filepath.Join(base, "sockets"),
		PoolMinIdle:        0,
		PoolMaxSize:        5,
		IdleTimeout:        30 * time.Minute,
		AcquireTimeout:     5 * time.Second,
		StartTimeout:       2 * time.Second,
		EvictionInterval:   time.Hour,
		ReaperPollInterval: 50 * time.Millisecond,
		SyncTimeout:        time.Minute,
		MaxActivityEvents:  100,
	}
}

func newEnv(t *testing.T, w *types.WorkloadSpec) *env {
	t.Helper()
	base := t.TempDir()
	cfg := testConfig(base)

	store, err := storage.NewSQLiteStore(base)
	require.NoError(t, err)

	driver := runtime.NewFakeDriver()
	workloads := workload.NewRegistry()
	require.NoError(t, workloads.Register(w))

	runner := &fakeRunner{}
	o := New(cfg, store, driver, workloads, runner)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() { o.Shutdown(time.Second) })

	_, err = o.Pools().CreatePool(context.Background(), "pool-1", w.ID)
	require.NoError(t, err)

	return &env{o: o, store: store, driver: driver, runner: runner, cfg: cfg}
}

func plainWorkload() *types.WorkloadSpec {
	return &types.WorkloadSpec{ID: "wl-1", Image: "alpine:3.20"}
}

func TestClaimReleaseCycle(t *testing.T) {
	e := newEnv(t, plainWorkload())
	ctx := context.Background()

	res, err := e.o.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)
	assert.Equal(t, types.ContainerClaimed, res.Container.Status)
	assert.Equal(t, "tenant-a", res.Container.TenantID)
	assert.Equal(t, manager.ContainerName(res.Container.ContainerID), res.Hostname)
	assert.False(t, res.Affinity)

	// The container is recycled before handover.
	assert.Equal(t, 1, e.driver.Restarts[res.Hostname])

	require.NoError(t, e.o.Release(ctx, "tenant-a", "pool-1", false))

	row, err := e.store.GetContainer(ctx, res.Container.ContainerID)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerIdle, row.Status)
	assert.Equal(t, "tenant-a", row.LastTenantID)
}

func TestClaimAgainIsAffinity(t *testing.T) {
	e := newEnv(t, plainWorkload())
	ctx := context.Background()

	first, err := e.o.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)
	require.NoError(t, e.o.Release(ctx, "tenant-a", "pool-1", false))

	second, err := e.o.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)
	assert.True(t, second.Affinity)
	assert.Equal(t, first.Container.ContainerID, second.Container.ContainerID)
}

func TestClaimRunsInitialSync(t *testing.T) {
	w := plainWorkload()
	w.Sync = &types.SyncSpec{
		Sink:     types.SinkConfig{Type: "s3", Bucket: "bkt"},
		Mappings: []types.SyncMapping{{Path: "data", SinkPath: "data", Direction: types.SyncDownload}},
		Policy:   types.SyncPolicy{OnClaim: true},
	}
	e := newEnv(t, w)

	_, err := e.o.Claim(context.Background(), "tenant-a", "pool-1")
	require.NoError(t, err)
	assert.Equal(t, 1, e.runner.count())
}

func TestInitialSyncFailureAbortsClaim(t *testing.T) {
	w := plainWorkload()
	w.Sync = &types.SyncSpec{
		Sink:     types.SinkConfig{Type: "s3", Bucket: "bkt"},
		Mappings: []types.SyncMapping{{Path: "data", SinkPath: "data", Direction: types.SyncDownload}},
		Policy:   types.SyncPolicy{OnClaim: true},
	}
	e := newEnv(t, w)
	e.runner.fail = true
	ctx := context.Background()

	_, err := e.o.Claim(ctx, "tenant-a", "pool-1")
	require.Error(t, err)

	// The half-claimed container went back to the pool.
	p, err := e.o.Pools().Get("pool-1")
	require.NoError(t, err)
	claimed, err := p.ClaimedByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, claimed)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 0, stats.Borrowed)
}

func TestPostClaimHookAbortReleasesContainer(t *testing.T) {
	w := plainWorkload()
	w.Hooks = &types.HookSpec{
		PostClaim: []types.HookCommand{{Command: []string{"/bin/setup"}, OnError: types.HookOnErrorFail}},
	}
	e := newEnv(t, w)
	e.driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		return &runtime.ExecResult{ExitCode: 1, Stderr: "boom"}, nil
	}
	ctx := context.Background()

	_, err := e.o.Claim(ctx, "tenant-a", "pool-1")
	require.Error(t, err)

	var aborted *types.HookAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, types.HookPostClaim, aborted.Point)
	assert.Equal(t, 0, aborted.Index)

	p, err := e.o.Pools().Get("pool-1")
	require.NoError(t, err)
	claimed, err := p.ClaimedByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, claimed, "tenant must not keep a container after hook abort")

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Idle)
}

func TestReleaseWithoutClaimIsNoop(t *testing.T) {
	e := newEnv(t, plainWorkload())
	assert.NoError(t, e.o.Release(context.Background(), "nobody", "pool-1", false))
}

func TestReleaseRunsUpload(t *testing.T) {
	w := plainWorkload()
	w.Sync = &types.SyncSpec{
		Sink:     types.SinkConfig{Type: "s3", Bucket: "bkt"},
		Mappings: []types.SyncMapping{{Path: "data", SinkPath: "data", Direction: types.SyncUpload}},
		Policy:   types.SyncPolicy{OnRelease: true},
	}
	e := newEnv(t, w)
	ctx := context.Background()

	_, err := e.o.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)
	require.Equal(t, 0, e.runner.count(), "upload-only mapping must not sync at claim")

	require.NoError(t, e.o.Release(ctx, "tenant-a", "pool-1", false))
	assert.Equal(t, 1, e.runner.count())
}

func TestReleaseSkipSyncBypassesUpload(t *testing.T) {
	w := plainWorkload()
	w.Sync = &types.SyncSpec{
		Sink:     types.SinkConfig{Type: "s3", Bucket: "bkt"},
		Mappings: []types.SyncMapping{{Path: "data", SinkPath: "data", Direction: types.SyncUpload}},
		Policy:   types.SyncPolicy{OnRelease: true},
	}
	e := newEnv(t, w)
	ctx := context.Background()

	_, err := e.o.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)
	require.NoError(t, e.o.Release(ctx, "tenant-a", "pool-1", true))
	assert.Equal(t, 0, e.runner.count())
}

func TestPreReleaseHookFailureDoesNotBlockRelease(t *testing.T) {
	w := plainWorkload()
	w.Hooks = &types.HookSpec{
		PreRelease: []types.HookCommand{{Command: []string{"/bin/teardown"}, OnError: types.HookOnErrorFail}},
	}
	e := newEnv(t, w)
	e.driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		return &runtime.ExecResult{ExitCode: 1}, nil
	}
	ctx := context.Background()

	res, err := e.o.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)
	require.NoError(t, e.o.Release(ctx, "tenant-a", "pool-1", false))

	row, err := e.store.GetContainer(ctx, res.Container.ContainerID)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerIdle, row.Status)
}

func TestReaperExpiryReleases(t *testing.T) {
	w := plainWorkload()
	w.Pool = &types.PoolDefaults{MaxSize: 5, FileIdleTTL: 150 * time.Millisecond}
	e := newEnv(t, w)
	ctx := context.Background()

	_, err := e.o.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)

	p, err := e.o.Pools().Get("pool-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		claimed, err := p.ClaimedByTenant(ctx, "tenant-a")
		return err == nil && claimed == nil
	}, 3*time.Second, 25*time.Millisecond)

	events, err := e.o.Activity().Recent(ctx, 50, 0, nil)
	require.NoError(t, err)
	var sawExpiry bool
	for _, ev := range events {
		if ev.Type == types.EventReaperExpired {
			sawExpiry = true
		}
	}
	assert.True(t, sawExpiry)
}

func TestStartRecoversStateAcrossRestart(t *testing.T) {
	base := t.TempDir()
	cfg := testConfig(base)
	driver := runtime.NewFakeDriver()

	workloads := workload.NewRegistry()
	require.NoError(t, workloads.Register(plainWorkload()))

	store1, err := storage.NewSQLiteStore(base)
	require.NoError(t, err)

	o1 := New(cfg, store1, driver, workloads, &fakeRunner{})
	require.NoError(t, o1.Start(context.Background()))
	_, err = o1.Pools().CreatePool(context.Background(), "pool-1", "wl-1")
	require.NoError(t, err)
	res, err := o1.Claim(context.Background(), "tenant-a", "pool-1")
	require.NoError(t, err)
	o1.Shutdown(time.Second)

	// Second instance over the same data dir and surviving runtime.
	store2, err := storage.NewSQLiteStore(base)
	require.NoError(t, err)
	o2 := New(cfg, store2, driver, workloads, &fakeRunner{})
	require.NoError(t, o2.Start(context.Background()))
	t.Cleanup(func() { o2.Shutdown(time.Second) })

	p, err := o2.Pools().Get("pool-1")
	require.NoError(t, err)
	claimed, err := p.ClaimedByTenant(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, claimed, "claim must survive a restart")
	assert.Equal(t, res.Container.ContainerID, claimed.ContainerID)
}

func TestStartRefusesSecondInstance(t *testing.T) {
	base := t.TempDir()
	cfg := testConfig(base)

	workloads := workload.NewRegistry()
	require.NoError(t, workloads.Register(plainWorkload()))

	store1, err := storage.NewSQLiteStore(base)
	require.NoError(t, err)
	o1 := New(cfg, store1, runtime.NewFakeDriver(), workloads, &fakeRunner{})
	require.NoError(t, o1.Start(context.Background()))
	t.Cleanup(func() { o1.Shutdown(time.Second) })

	store2, err := storage.NewSQLiteStore(base)
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })
	o2 := New(cfg, store2, runtime.NewFakeDriver(), workloads, &fakeRunner{})

	err = o2.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock")
}

func TestRecordActivity(t *testing.T) {
	e := newEnv(t, plainWorkload())
	ctx := context.Background()

	res, err := e.o.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)

	before, err := e.store.GetContainer(ctx, res.Container.ContainerID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, e.o.RecordActivity(ctx, "tenant-a", "pool-1"))

	after, err := e.store.GetContainer(ctx, res.Container.ContainerID)
	require.NoError(t, err)
	assert.True(t, after.LastActivity.After(before.LastActivity))

	assert.ErrorIs(t, e.o.RecordActivity(ctx, "nobody", "pool-1"), types.ErrTenantNotFound)
}
