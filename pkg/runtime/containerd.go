package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DefaultNamespace is the containerd namespace for managed containers.
	DefaultNamespace = "burrow"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdDriver implements Driver on containerd.
type ContainerdDriver struct {
	client    *containerd.Client
	namespace string

	// resolvDir holds generated per-container resolv.conf files.
	resolvDir string
}

// NewContainerdDriver connects to containerd. resolvDir is where generated
// DNS configs are written; it is created if missing.
func NewContainerdDriver(socketPath, resolvDir string) (*ContainerdDriver, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	if resolvDir != "" {
		if err := os.MkdirAll(resolvDir, 0o755); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create resolv dir: %w", err)
		}
	}

	return &ContainerdDriver{
		client:    client,
		namespace: DefaultNamespace,
		resolvDir: resolvDir,
	}, nil
}

// Close closes the containerd client connection.
func (d *ContainerdDriver) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// PullImage pulls and unpacks an image from a registry.
func (d *ContainerdDriver) PullImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	_, err := d.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}

	return nil
}

// CreateContainer creates a container from the spec and starts its process.
func (d *ContainerdDriver) CreateContainer(ctx context.Context, spec *ContainerSpec) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	image, err := d.client.GetImage(ctx, spec.Image)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to get image %s: %w", spec.Image, err)
		}
		if image, err = d.client.Pull(ctx, spec.Image, containerd.WithPullUnpack); err != nil {
			return fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
		}
	}

	opts, err := d.specOpts(image, spec)
	if err != nil {
		return err
	}

	container, err := d.client.NewContainer(
		ctx,
		spec.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithContainerLabels(spec.Labels),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		task.Delete(ctx, containerd.WithProcessKill)
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		return fmt.Errorf("failed to start task: %w", err)
	}

	return nil
}

// specOpts translates a ContainerSpec into OCI spec options.
func (d *ContainerdDriver) specOpts(image containerd.Image, spec *ContainerSpec) ([]oci.SpecOpts, error) {
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithHostname(spec.Name),
		oci.WithEnv(envSlice(spec.Env)),
	}

	if len(spec.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Command...))
	}
	if spec.UID != 0 {
		opts = append(opts, oci.WithUIDGID(spec.UID, spec.UID))
	}
	if spec.ReadOnlyRootfs {
		opts = append(opts, oci.WithRootFSReadonly())
	}
	if spec.NoNewPrivileges {
		opts = append(opts, oci.WithNoNewPrivileges)
	}
	if spec.DropCaps {
		opts = append(opts, oci.WithCapabilities(nil))
	}
	if spec.Resources.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.Resources.MemoryBytes)))
	}
	if spec.Resources.CPUShares > 0 {
		opts = append(opts, oci.WithCPUShares(uint64(spec.Resources.CPUShares)))
	}

	var mounts []specs.Mount
	for _, m := range spec.Mounts {
		options := []string{"rbind"}
		if m.ReadOnly {
			options = append(options, "ro")
		} else {
			options = append(options, "rw")
		}
		mounts = append(mounts, specs.Mount{
			Source:      m.Source,
			Destination: m.Target,
			Type:        "bind",
			Options:     options,
		})
	}

	for _, path := range spec.TmpfsPaths {
		mounts = append(mounts, specs.Mount{
			Source:      "tmpfs",
			Destination: path,
			Type:        "tmpfs",
			Options:     []string{"nosuid", "nodev", "mode=1777"},
		})
	}

	if len(spec.DNS) > 0 {
		resolvPath, err := d.writeResolvConf(spec.Name, spec.DNS)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, specs.Mount{
			Source:      resolvPath,
			Destination: "/etc/resolv.conf",
			Type:        "bind",
			Options:     []string{"rbind", "ro"},
		})
	}

	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	return opts, nil
}

func (d *ContainerdDriver) writeResolvConf(name string, servers []string) (string, error) {
	var buf bytes.Buffer
	for _, s := range servers {
		fmt.Fprintf(&buf, "nameserver %s\n", s)
	}

	path := filepath.Join(d.resolvDir, name+".resolv.conf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write resolv.conf: %w", err)
	}
	return path, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// StartContainer starts a stopped container's process.
func (d *ContainerdDriver) StartContainer(ctx context.Context, name string) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", name, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		task.Delete(ctx, containerd.WithProcessKill)
		return fmt.Errorf("failed to start task: %w", err)
	}

	return nil
}

// StopContainer stops a running container: SIGTERM, then SIGKILL after the
// timeout. The stopped container can be started again.
func (d *ContainerdDriver) StopContainer(ctx context.Context, name string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", name, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means not running; stopping is idempotent.
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	return nil
}

// RestartContainer stops the container process and starts it again. The
// filesystem, including any state accumulated by the previous tenant's
// processes, is preserved.
func (d *ContainerdDriver) RestartContainer(ctx context.Context, name string, timeout time.Duration) error {
	if err := d.StopContainer(ctx, name, timeout); err != nil {
		return err
	}
	return d.StartContainer(ctx, name)
}

// RemoveContainer stops (if running) and deletes a container and its
// snapshot. Removing a missing container is not an error.
func (d *ContainerdDriver) RemoveContainer(ctx context.Context, name string) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load container %s: %w", name, err)
	}

	if err := d.StopContainer(ctx, name, 10*time.Second); err != nil {
		return err
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete container: %w", err)
	}

	if d.resolvDir != "" {
		os.Remove(filepath.Join(d.resolvDir, name+".resolv.conf"))
	}

	return nil
}

// GetContainer returns info for one container, or nil if it does not exist.
func (d *ContainerdDriver) GetContainer(ctx context.Context, name string) (*ContainerInfo, error) {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load container %s: %w", name, err)
	}

	return d.containerInfo(ctx, container)
}

// ListContainers returns every container in the managed namespace.
func (d *ContainerdDriver) ListContainers(ctx context.Context) ([]*ContainerInfo, error) {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	containers, err := d.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	infos := make([]*ContainerInfo, 0, len(containers))
	for _, c := range containers {
		info, err := d.containerInfo(ctx, c)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	return infos, nil
}

func (d *ContainerdDriver) containerInfo(ctx context.Context, c containerd.Container) (*ContainerInfo, error) {
	labels, err := c.Labels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get labels: %w", err)
	}

	meta, err := c.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container info: %w", err)
	}

	info := &ContainerInfo{
		Name:   c.ID(),
		Image:  meta.Image,
		Labels: labels,
	}

	if task, err := c.Task(ctx, nil); err == nil {
		if status, err := task.Status(ctx); err == nil {
			info.Running = status.Status == containerd.Running
		}
	}

	return info, nil
}

// IsRunning reports whether the container process is up.
func (d *ContainerdDriver) IsRunning(ctx context.Context, name string) bool {
	info, err := d.GetContainer(ctx, name)
	if err != nil || info == nil {
		return false
	}
	return info.Running
}

// Exec runs a command inside a running container and waits for it to exit.
func (d *ContainerdDriver) Exec(ctx context.Context, name string, argv []string) (*ExecResult, error) {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load container %s: %w", name, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	ociSpec, err := container.Spec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container spec: %w", err)
	}

	pspec := ociSpec.Process
	pspec.Args = argv
	pspec.Terminal = false

	var stdout, stderr bytes.Buffer
	execID := "exec-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	process, err := task.Exec(ctx, execID, pspec,
		cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
	if err != nil {
		return nil, fmt.Errorf("failed to exec in container: %w", err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for exec: %w", err)
	}

	if err := process.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start exec: %w", err)
	}

	select {
	case status := <-statusC:
		code, _, err := status.Result()
		if err != nil {
			return nil, fmt.Errorf("exec did not complete: %w", err)
		}
		return &ExecResult{
			ExitCode: int(code),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}, nil
	case <-ctx.Done():
		process.Kill(context.Background(), syscall.SIGKILL)
		return nil, ctx.Err()
	}
}
