package pool

import (
	"context"
	"fmt"
	"os"
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
	"github.com/burrowhq/burrow/pkg/types"
)

type testEnv struct {
	pool   *Pool
	store  storage.Store
	mgr    *manager.Manager
	driver *runtime.FakeDriver
}

func newTestEnv(t *testing.T, minIdle, maxSize int) *testEnv {
	t.Helper()

	base := t.TempDir()
	cfg := &config.Config{
		DataDir:            base,
		StateBaseDir:       filepath.Join(base, "state"),
		SecretsBaseDir:     filepath.Join(base, "secrets"),
		SocketBaseDir:      filepath.Join(base, "sockets"),
		DefaultCPUShares:   1024,
		DefaultMemoryBytes: 256 * 1024 * 1024,
	}

	store, err := storage.NewSQLiteStore(filepath.Join(base, "db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	driver := runtime.NewFakeDriver()
	mgr := manager.NewManager(driver, cfg)

	poolCfg := &types.PoolConfig{
		PoolID:           "pool-1",
		WorkloadID:       "wl-1",
		MinIdle:          minIdle,
		MaxSize:          maxSize,
		IdleTimeout:      30 * time.Minute,
		EvictionInterval: 20 * time.Millisecond,
		AcquireTimeout:   5 * time.Second,
		CreatedAt:        time.Now().UTC(),
	}
	workload := &types.WorkloadSpec{ID: "wl-1", Image: "alpine:3.20"}

	return &testEnv{
		pool:   NewPool(poolCfg, workload, store, mgr, nil),
		store:  store,
		mgr:    mgr,
		driver: driver,
	}
}

func TestAcquireCreatesOnDemand(t *testing.T) {
	env := newTestEnv(t, 0, 3)
	ctx := context.Background()

	c, affinity, err := env.pool.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	assert.False(t, affinity)
	assert.Equal(t, types.ContainerClaimed, c.Status)
	assert.Equal(t, "tenant-a", c.TenantID)
	assert.True(t, env.driver.IsRunning(ctx, manager.ContainerName(c.ContainerID)))
}

func TestAcquireExistingClaimShortCircuits(t *testing.T) {
	env := newTestEnv(t, 0, 3)
	ctx := context.Background()

	first, _, err := env.pool.Acquire(ctx, "tenant-a")
	require.NoError(t, err)

	second, affinity, err := env.pool.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, affinity)
	assert.Equal(t, first.ContainerID, second.ContainerID)

	stats, err := env.pool.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestAffinityReusesContainerWithoutWipe(t *testing.T) {
	env := newTestEnv(t, 0, 3)
	ctx := context.Background()

	c, _, err := env.pool.Acquire(ctx, "tenant-a")
	require.NoError(t, err)

	// Tenant writes state, then releases.
	stateFile := filepath.Join(env.mgr.StateDir(c.ContainerID), "data.txt")
	require.NoError(t, os.WriteFile(stateFile, []byte("hello"), 0o644))
	_, err = env.pool.Release(ctx, "tenant-a")
	require.NoError(t, err)

	// Same tenant gets the same container back, state intact.
	again, affinity, err := env.pool.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, affinity)
	assert.Equal(t, c.ContainerID, again.ContainerID)

	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestForeignTenantGetsWipedContainer(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	ctx := context.Background()

	c, _, err := env.pool.Acquire(ctx, "tenant-a")
	require.NoError(t, err)

	stateFile := filepath.Join(env.mgr.StateDir(c.ContainerID), "secret.txt")
	require.NoError(t, os.WriteFile(stateFile, []byte("x"), 0o644))
	_, err = env.pool.Release(ctx, "tenant-a")
	require.NoError(t, err)

	// A different tenant lands on the same container; state is gone.
	again, affinity, err := env.pool.Acquire(ctx, "tenant-b")
	require.NoError(t, err)
	assert.False(t, affinity)
	assert.Equal(t, c.ContainerID, again.ContainerID)

	entries, err := os.ReadDir(env.mgr.StateDir(c.ContainerID))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAcquireAtCapacityFails(t *testing.T) {
	env := newTestEnv(t, 0, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, _, err := env.pool.Acquire(ctx, fmt.Sprintf("tenant-%d", i))
		require.NoError(t, err)
	}

	_, _, err := env.pool.Acquire(ctx, "tenant-4")
	assert.ErrorIs(t, err, types.ErrPoolCapacity)

	stats, err := env.pool.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Borrowed)
	assert.Equal(t, 3, stats.Total)
}

func TestConcurrentAcquiresAreExclusive(t *testing.T) {
	env := newTestEnv(t, 0, 10)
	ctx := context.Background()

	var mu sync.Mutex
	byContainer := make(map[string][]string)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		tenant := fmt.Sprintf("tenant-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _, err := env.pool.Acquire(ctx, tenant)
			if err != nil {
				t.Errorf("acquire %s: %v", tenant, err)
				return
			}
			mu.Lock()
			byContainer[c.ContainerID] = append(byContainer[c.ContainerID], tenant)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for id, tenants := range byContainer {
		assert.Len(t, tenants, 1, "container %s claimed by %v", id, tenants)
	}
}

func TestConcurrentAcquiresRespectCapacity(t *testing.T) {
	env := newTestEnv(t, 0, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		tenant := fmt.Sprintf("tenant-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := env.pool.Acquire(ctx, tenant)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, capacity int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case err == types.ErrPoolCapacity:
			capacity++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 5, capacity)

	stats, err := env.pool.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}

func TestFillLoopMaintainsMinIdle(t *testing.T) {
	env := newTestEnv(t, 2, 5)

	env.pool.Start()
	defer env.pool.Stop()

	require.Eventually(t, func() bool {
		stats, err := env.pool.Stats(context.Background())
		return err == nil && stats.Idle == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFillLoopHonorsMaxSize(t *testing.T) {
	env := newTestEnv(t, 5, 2)

	env.pool.Start()
	defer env.pool.Stop()

	require.Eventually(t, func() bool {
		stats, err := env.pool.Stats(context.Background())
		return err == nil && stats.Idle == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Never exceeds maxSize even though minIdle asks for more.
	time.Sleep(100 * time.Millisecond)
	stats, err := env.pool.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
}

func TestReleaseUnknownTenant(t *testing.T) {
	env := newTestEnv(t, 0, 3)

	_, err := env.pool.Release(context.Background(), "nobody")
	assert.ErrorIs(t, err, types.ErrTenantNotFound)
}

func TestUnhealthyIdleContainerIsReplaced(t *testing.T) {
	env := newTestEnv(t, 0, 3)
	ctx := context.Background()

	c, _, err := env.pool.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	_, err = env.pool.Release(ctx, "tenant-a")
	require.NoError(t, err)

	// The released container dies in the runtime.
	require.NoError(t, env.driver.StopContainer(ctx, manager.ContainerName(c.ContainerID), 0))

	again, _, err := env.pool.Acquire(ctx, "tenant-b")
	require.NoError(t, err)
	assert.NotEqual(t, c.ContainerID, again.ContainerID)

	// The corpse's row is gone.
	_, err = env.store.GetContainer(ctx, c.ContainerID)
	assert.ErrorIs(t, err, types.ErrContainerNotFound)
}

func TestScaleTo(t *testing.T) {
	env := newTestEnv(t, 0, 10)
	ctx := context.Background()

	require.NoError(t, env.pool.ScaleTo(ctx, 4))
	stats, err := env.pool.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Idle)

	// Idempotent.
	require.NoError(t, env.pool.ScaleTo(ctx, 4))

	require.NoError(t, env.pool.ScaleTo(ctx, 1))
	stats, err = env.pool.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestScaleToRefusesBelowBorrowed(t *testing.T) {
	env := newTestEnv(t, 0, 10)
	ctx := context.Background()

	_, _, err := env.pool.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	_, _, err = env.pool.Acquire(ctx, "tenant-b")
	require.NoError(t, err)

	err = env.pool.ScaleTo(ctx, 1)
	assert.Error(t, err)
}

func TestDrainDestroysEverything(t *testing.T) {
	env := newTestEnv(t, 0, 10)
	ctx := context.Background()

	require.NoError(t, env.pool.ScaleTo(ctx, 3))
	_, _, err := env.pool.Acquire(ctx, "tenant-a")
	require.NoError(t, err)

	require.NoError(t, env.pool.Drain(ctx))

	rows, err := env.store.ListByPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	infos, err := env.driver.ListContainers(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestRecordActivity(t *testing.T) {
	env := newTestEnv(t, 0, 3)
	ctx := context.Background()

	c, _, err := env.pool.Acquire(ctx, "tenant-a")
	require.NoError(t, err)

	before, err := env.store.GetContainer(ctx, c.ContainerID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, env.pool.RecordActivity(ctx, "tenant-a"))

	after, err := env.store.GetContainer(ctx, c.ContainerID)
	require.NoError(t, err)
	assert.True(t, after.LastActivity.After(before.LastActivity))
}
