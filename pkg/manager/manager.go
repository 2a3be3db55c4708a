package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/config"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/types"
)

// Default in-container mount paths used when a workload omits them.
const (
	DefaultStateMount   = "/state"
	DefaultSecretsMount = "/secrets"
	DefaultCommMount    = "/sock"
)

var defaultDNS = []string{"8.8.8.8", "1.1.1.1"}

// Manager owns the per-container host layout and wraps the runtime driver
// with workload-aware create, wipe, and destroy operations. It holds no
// state of its own; everything is derived from the container id.
type Manager struct {
	driver runtime.Driver
	cfg    *config.Config
	logger zerolog.Logger
}

// NewManager creates a container manager.
func NewManager(driver runtime.Driver, cfg *config.Config) *Manager {
	return &Manager{
		driver: driver,
		cfg:    cfg,
		logger: log.WithComponent("manager"),
	}
}

// GenerateID returns a unique container id: a base36 millisecond timestamp
// for rough creation ordering, plus a random suffix.
func GenerateID() string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return ts + suffix
}

// ContainerName is the deterministic runtime name (and hostname) for a
// container id.
func ContainerName(containerID string) string {
	return "container-" + containerID
}

// StateDir is the host directory mounted read-write as the state volume.
func (m *Manager) StateDir(containerID string) string {
	return filepath.Join(m.cfg.StateBaseDir, containerID)
}

// SecretsDir is the host directory mounted read-only as the secrets volume.
func (m *Manager) SecretsDir(containerID string) string {
	return filepath.Join(m.cfg.SecretsBaseDir, containerID)
}

// SocketDir is the host directory holding the per-container app.sock.
func (m *Manager) SocketDir(containerID string) string {
	return filepath.Join(m.cfg.SocketBaseDir, containerID)
}

// CustomDir is the host directory backing a named custom volume.
func (m *Manager) CustomDir(containerID, name string) string {
	return filepath.Join(m.StateDir(containerID), "custom", name)
}

// Create provisions host directories, applies seeds, and creates and starts
// the runtime container. On failure the host directories are removed.
func (m *Manager) Create(ctx context.Context, w *types.WorkloadSpec, poolID string) (string, error) {
	containerID := GenerateID()

	uid := resolveUID(w.User)

	if err := m.provisionDirs(containerID, w, uid); err != nil {
		return "", err
	}

	if err := m.ApplySeeds(containerID, w); err != nil {
		m.removeDirs(containerID)
		return "", err
	}

	spec := m.buildSpec(containerID, w, poolID)
	if err := m.driver.CreateContainer(ctx, spec); err != nil {
		m.removeDirs(containerID)
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	m.logger.Info().
		Str("container_id", containerID).
		Str("pool_id", poolID).
		Str("image", w.Image).
		Msg("Container created")

	return containerID, nil
}

func (m *Manager) provisionDirs(containerID string, w *types.WorkloadSpec, uid uint32) error {
	dirs := []string{
		m.StateDir(containerID),
		m.SecretsDir(containerID),
		m.SocketDir(containerID),
	}
	if w.Volumes != nil {
		for name := range w.Volumes.Custom {
			dirs = append(dirs, m.CustomDir(containerID, name))
		}
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create host dir: %w", err)
		}
		if uid != 0 {
			if err := chownRecursive(dir, int(uid)); err != nil {
				return fmt.Errorf("failed to chown host dir: %w", err)
			}
		}
	}
	return nil
}

func (m *Manager) removeDirs(containerID string) {
	os.RemoveAll(m.StateDir(containerID))
	os.RemoveAll(m.SecretsDir(containerID))
	os.RemoveAll(m.SocketDir(containerID))
}

// buildSpec translates a workload into the runtime container spec.
func (m *Manager) buildSpec(containerID string, w *types.WorkloadSpec, poolID string) *runtime.ContainerSpec {
	uid := resolveUID(w.User)

	cpuShares := m.cfg.DefaultCPUShares
	memBytes := m.cfg.DefaultMemoryBytes
	if w.Resources != nil {
		if w.Resources.CPUShares > 0 {
			cpuShares = w.Resources.CPUShares
		}
		if w.Resources.MemoryBytes > 0 {
			memBytes = w.Resources.MemoryBytes
		}
	}

	networks := w.Networks
	if len(networks) == 0 {
		networks = []string{"bridge"}
	}
	dns := w.DNS
	if len(dns) == 0 {
		dns = defaultDNS
	}

	mounts := []runtime.Mount{
		{Source: m.StateDir(containerID), Target: mountPath(w, "state"), ReadOnly: false},
		{Source: m.SecretsDir(containerID), Target: mountPath(w, "secrets"), ReadOnly: true},
		{Source: m.SocketDir(containerID), Target: mountPath(w, "comm"), ReadOnly: false},
	}
	if w.Volumes != nil {
		for name, vol := range w.Volumes.Custom {
			mounts = append(mounts, runtime.Mount{
				Source:   m.CustomDir(containerID, name),
				Target:   vol.MountPath,
				ReadOnly: vol.ReadOnly,
			})
		}
	}

	return &runtime.ContainerSpec{
		Name:       ContainerName(containerID),
		Image:      w.Image,
		Command:    w.Command,
		Env:        w.Env,
		Mounts:     mounts,
		TmpfsPaths: []string{"/tmp", "/var/tmp", "/run"},
		Resources: runtime.Resources{
			CPUShares:   cpuShares,
			MemoryBytes: memBytes,
		},
		UID:             uid,
		ReadOnlyRootfs:  w.ReadOnly,
		DropCaps:        true,
		NoNewPrivileges: true,
		Networks:        networks,
		DNS:             dns,
		Labels: map[string]string{
			runtime.LabelManaged:     "true",
			runtime.LabelContainerID: containerID,
			runtime.LabelPoolID:      poolID,
			runtime.LabelWorkloadID:  w.ID,
			runtime.LabelCreatedAt:   time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func mountPath(w *types.WorkloadSpec, kind string) string {
	if w.Volumes != nil {
		var v *types.Volume
		switch kind {
		case "state":
			v = w.Volumes.State
		case "secrets":
			v = w.Volumes.Secrets
		case "comm":
			v = w.Volumes.Comm
		}
		if v != nil && v.MountPath != "" {
			return v.MountPath
		}
	}
	switch kind {
	case "secrets":
		return DefaultSecretsMount
	case "comm":
		return DefaultCommMount
	default:
		return DefaultStateMount
	}
}

// ApplySeeds copies each volume's seed directory into its host directory,
// overwriting existing files, then chowns to the workload uid.
func (m *Manager) ApplySeeds(containerID string, w *types.WorkloadSpec) error {
	if w.Volumes == nil {
		return nil
	}
	uid := resolveUID(w.User)

	seed := func(vol *types.Volume, hostDir string) error {
		if vol == nil || vol.Seed == "" {
			return nil
		}
		if err := copyTree(vol.Seed, hostDir); err != nil {
			return fmt.Errorf("failed to apply seed %s: %w", vol.Seed, err)
		}
		if uid != 0 {
			if err := chownRecursive(hostDir, int(uid)); err != nil {
				return fmt.Errorf("failed to chown seeded dir: %w", err)
			}
		}
		return nil
	}

	if err := seed(w.Volumes.State, m.StateDir(containerID)); err != nil {
		return err
	}
	if err := seed(w.Volumes.Secrets, m.SecretsDir(containerID)); err != nil {
		return err
	}
	for name, vol := range w.Volumes.Custom {
		v := vol
		if err := seed(&v, m.CustomDir(containerID, name)); err != nil {
			return err
		}
	}
	return nil
}

// WipeForNewTenant removes and recreates the state and secrets directories
// so no data from the previous tenant survives, then reapplies seeds.
func (m *Manager) WipeForNewTenant(containerID string, w *types.WorkloadSpec) error {
	uid := resolveUID(w.User)

	for _, dir := range []string{m.StateDir(containerID), m.SecretsDir(containerID)} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to wipe dir: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to recreate dir: %w", err)
		}
		if uid != 0 {
			if err := os.Chown(dir, int(uid), int(uid)); err != nil {
				return fmt.Errorf("failed to chown dir: %w", err)
			}
		}
	}
	if w.Volumes != nil {
		for name := range w.Volumes.Custom {
			if err := os.MkdirAll(m.CustomDir(containerID, name), 0o755); err != nil {
				return fmt.Errorf("failed to recreate custom dir: %w", err)
			}
		}
	}

	if err := m.ApplySeeds(containerID, w); err != nil {
		return err
	}

	m.logger.Debug().Str("container_id", containerID).Msg("State wiped for new tenant")
	return nil
}

// Restart restarts the container process. State on the bind mounts survives.
func (m *Manager) Restart(ctx context.Context, containerID string, timeout time.Duration) error {
	return m.driver.RestartContainer(ctx, ContainerName(containerID), timeout)
}

// Destroy removes the runtime container and its host directories. Directory
// removal proceeds even when the runtime removal fails.
func (m *Manager) Destroy(ctx context.Context, containerID string) error {
	err := m.driver.RemoveContainer(ctx, ContainerName(containerID))
	m.removeDirs(containerID)
	if err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	m.logger.Info().Str("container_id", containerID).Msg("Container destroyed")
	return nil
}

// IsHealthy runs the workload health probe once.
func (m *Manager) IsHealthy(ctx context.Context, containerID string, w *types.WorkloadSpec) bool {
	name := ContainerName(containerID)
	if w.HealthCheck == nil || len(w.HealthCheck.Test) == 0 {
		return m.driver.IsRunning(ctx, name)
	}

	argv := normalizeProbe(w.HealthCheck.Test)
	timeout := w.HealthCheck.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := m.driver.Exec(probeCtx, name, argv)
	if err != nil {
		return false
	}
	return res.ExitCode == 0
}

// WaitForHealthy polls the health probe until it passes or the deadline
// expires.
func (m *Manager) WaitForHealthy(ctx context.Context, containerID string, w *types.WorkloadSpec, timeout time.Duration) error {
	interval := 500 * time.Millisecond
	if w.HealthCheck != nil && w.HealthCheck.Interval > 0 {
		interval = w.HealthCheck.Interval
	}

	deadline := time.Now().Add(timeout)
	for {
		if m.IsHealthy(ctx, containerID, w) {
			return nil
		}
		if time.Now().After(deadline) {
			return types.ErrHealthTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// normalizeProbe strips the docker-compose style CMD / CMD-SHELL prefix.
// CMD-SHELL probes run through /bin/sh -c.
func normalizeProbe(test []string) []string {
	switch test[0] {
	case "CMD":
		return test[1:]
	case "CMD-SHELL":
		return []string{"/bin/sh", "-c", strings.Join(test[1:], " ")}
	default:
		return test
	}
}

// resolveUID parses a numeric workload user. Non-numeric users fall back to
// the image default (0 here, which disables chown).
func resolveUID(user string) uint32 {
	if user == "" {
		return 0
	}
	n, err := strconv.ParseUint(user, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
