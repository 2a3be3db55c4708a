package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowhq/burrow/pkg/config"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	return &config.Config{
		DataDir:            base,
		StateBaseDir:       filepath.Join(base, "state"),
		SecretsBaseDir:     filepath.Join(base, "secrets"),
		SocketBaseDir:      filepath.Join(base, "sockets"),
		DefaultCPUShares:   1024,
		DefaultMemoryBytes: 512 * 1024 * 1024,
	}
}

func testWorkload() *types.WorkloadSpec {
	return &types.WorkloadSpec{
		ID:    "wl-1",
		Name:  "test workload",
		Image: "alpine:3.20",
	}
}

func TestGenerateIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestCreateProvisionsLayout(t *testing.T) {
	cfg := testConfig(t)
	driver := runtime.NewFakeDriver()
	m := NewManager(driver, cfg)

	id, err := m.Create(context.Background(), testWorkload(), "pool-1")
	require.NoError(t, err)

	assert.DirExists(t, m.StateDir(id))
	assert.DirExists(t, m.SecretsDir(id))
	assert.DirExists(t, m.SocketDir(id))

	spec := driver.Spec(ContainerName(id))
	require.NotNil(t, spec)
	assert.Equal(t, "container-"+id, spec.Name)
	assert.Equal(t, "alpine:3.20", spec.Image)
	assert.False(t, spec.ReadOnlyRootfs)
	assert.True(t, spec.DropCaps)
	assert.True(t, spec.NoNewPrivileges)
	assert.ElementsMatch(t, []string{"/tmp", "/var/tmp", "/run"}, spec.TmpfsPaths)
	assert.Equal(t, []string{"bridge"}, spec.Networks)
	assert.Equal(t, []string{"8.8.8.8", "1.1.1.1"}, spec.DNS)
	assert.Equal(t, "true", spec.Labels[runtime.LabelManaged])
	assert.Equal(t, id, spec.Labels[runtime.LabelContainerID])
	assert.Equal(t, "pool-1", spec.Labels[runtime.LabelPoolID])
	assert.Equal(t, "wl-1", spec.Labels[runtime.LabelWorkloadID])
	assert.Equal(t, int64(1024), spec.Resources.CPUShares)
	assert.Equal(t, int64(512*1024*1024), spec.Resources.MemoryBytes)
}

func TestCreateFailureCleansUp(t *testing.T) {
	cfg := testConfig(t)
	driver := runtime.NewFakeDriver()
	driver.FailCreate = assert.AnError
	m := NewManager(driver, cfg)

	_, err := m.Create(context.Background(), testWorkload(), "pool-1")
	require.Error(t, err)

	entries, err := os.ReadDir(cfg.StateBaseDir)
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestApplySeeds(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(runtime.NewFakeDriver(), cfg)

	seedDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(seedDir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "hello.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "nested", "deep.txt"), []byte("deep"), 0o600))

	w := testWorkload()
	w.Volumes = &types.VolumeSpec{
		State: &types.Volume{MountPath: "/state", Seed: seedDir},
	}

	id, err := m.Create(context.Background(), w, "pool-1")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(m.StateDir(id), "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	data, err = os.ReadFile(filepath.Join(m.StateDir(id), "nested", "deep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))
}

func TestWipeForNewTenant(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(runtime.NewFakeDriver(), cfg)

	w := testWorkload()
	id, err := m.Create(context.Background(), w, "pool-1")
	require.NoError(t, err)

	// Tenant writes some state.
	require.NoError(t, os.WriteFile(filepath.Join(m.StateDir(id), "secret.txt"), []byte("x"), 0o644))

	require.NoError(t, m.WipeForNewTenant(id, w))

	entries, err := os.ReadDir(m.StateDir(id))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWipeReappliesSeeds(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(runtime.NewFakeDriver(), cfg)

	seedDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "base.txt"), []byte("seed"), 0o644))

	w := testWorkload()
	w.Volumes = &types.VolumeSpec{
		State: &types.Volume{MountPath: "/state", Seed: seedDir},
	}

	id, err := m.Create(context.Background(), w, "pool-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(m.StateDir(id), "tenant.txt"), []byte("x"), 0o644))

	require.NoError(t, m.WipeForNewTenant(id, w))

	assert.FileExists(t, filepath.Join(m.StateDir(id), "base.txt"))
	assert.NoFileExists(t, filepath.Join(m.StateDir(id), "tenant.txt"))
}

func TestDestroyRemovesDirs(t *testing.T) {
	cfg := testConfig(t)
	driver := runtime.NewFakeDriver()
	m := NewManager(driver, cfg)

	id, err := m.Create(context.Background(), testWorkload(), "pool-1")
	require.NoError(t, err)

	require.NoError(t, m.Destroy(context.Background(), id))

	assert.NoDirExists(t, m.StateDir(id))
	assert.NoDirExists(t, m.SecretsDir(id))
	assert.NoDirExists(t, m.SocketDir(id))
	assert.False(t, driver.IsRunning(context.Background(), ContainerName(id)))
}

func TestIsHealthyWithProbe(t *testing.T) {
	cfg := testConfig(t)
	driver := runtime.NewFakeDriver()
	m := NewManager(driver, cfg)

	w := testWorkload()
	w.HealthCheck = &types.HealthCheck{
		Test:    []string{"CMD", "true"},
		Timeout: time.Second,
	}

	id, err := m.Create(context.Background(), w, "pool-1")
	require.NoError(t, err)

	var gotArgv []string
	driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		gotArgv = argv
		return &runtime.ExecResult{ExitCode: 0}, nil
	}
	assert.True(t, m.IsHealthy(context.Background(), id, w))
	assert.Equal(t, []string{"true"}, gotArgv)

	driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		return &runtime.ExecResult{ExitCode: 1}, nil
	}
	assert.False(t, m.IsHealthy(context.Background(), id, w))
}

func TestNormalizeProbeShell(t *testing.T) {
	argv := normalizeProbe([]string{"CMD-SHELL", "curl -f localhost || exit 1"})
	assert.Equal(t, []string{"/bin/sh", "-c", "curl -f localhost || exit 1"}, argv)

	argv = normalizeProbe([]string{"wget", "-q", "localhost"})
	assert.Equal(t, []string{"wget", "-q", "localhost"}, argv)
}

func TestWaitForHealthyTimeout(t *testing.T) {
	cfg := testConfig(t)
	driver := runtime.NewFakeDriver()
	m := NewManager(driver, cfg)

	w := testWorkload()
	w.HealthCheck = &types.HealthCheck{
		Test:     []string{"CMD", "false"},
		Interval: 10 * time.Millisecond,
	}

	id, err := m.Create(context.Background(), w, "pool-1")
	require.NoError(t, err)

	driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		return &runtime.ExecResult{ExitCode: 1}, nil
	}

	err = m.WaitForHealthy(context.Background(), id, w, 50*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrHealthTimeout)
}
