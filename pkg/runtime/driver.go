package runtime

import (
	"context"
	"time"
)

// Label keys applied to every managed container. Recovery uses these to tell
// our containers apart from anything else sharing the runtime namespace.
const (
	LabelManaged     = "burrow.managed"
	LabelContainerID = "burrow.container-id"
	LabelPoolID      = "burrow.pool-id"
	LabelWorkloadID  = "burrow.workload-id"
	LabelCreatedAt   = "burrow.created-at"
)

// Mount is a host bind mount into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Resources are the cgroup limits applied at creation.
type Resources struct {
	CPUShares   int64
	MemoryBytes int64
}

// ContainerSpec is everything the driver needs to create a container.
type ContainerSpec struct {
	// Name is the runtime-level container name and hostname.
	Name    string
	Image   string
	Command []string
	Env     map[string]string

	Mounts []Mount
	// TmpfsPaths get fresh tmpfs mounts so writable scratch space exists
	// even with a read-only root filesystem.
	TmpfsPaths []string

	Resources Resources

	// UID the container process runs as. Zero means the image default.
	UID uint32

	ReadOnlyRootfs  bool
	DropCaps        bool
	NoNewPrivileges bool

	Networks []string
	DNS      []string

	Labels map[string]string
}

// ContainerInfo is the driver's view of an existing container.
type ContainerInfo struct {
	Name    string
	Image   string
	Labels  map[string]string
	Running bool
}

// ExecResult carries the outcome of an in-container command.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Driver abstracts the container runtime. The containerd implementation is
// the production one; tests use the in-memory fake.
type Driver interface {
	// PullImage fetches and unpacks an image.
	PullImage(ctx context.Context, image string) error

	// CreateContainer creates and starts a container from the spec.
	CreateContainer(ctx context.Context, spec *ContainerSpec) error

	// StopContainer stops the container process, SIGTERM then SIGKILL
	// after the timeout. The container itself remains and can be started
	// again.
	StopContainer(ctx context.Context, name string, timeout time.Duration) error

	// StartContainer starts a stopped container's process.
	StartContainer(ctx context.Context, name string) error

	// RestartContainer stops and restarts the container process.
	RestartContainer(ctx context.Context, name string, timeout time.Duration) error

	// RemoveContainer stops (if needed) and deletes the container and its
	// snapshot. Removing a missing container is not an error.
	RemoveContainer(ctx context.Context, name string) error

	// GetContainer returns info for one container, or nil if it does not
	// exist.
	GetContainer(ctx context.Context, name string) (*ContainerInfo, error)

	// ListContainers returns every container in the managed namespace.
	ListContainers(ctx context.Context) ([]*ContainerInfo, error)

	// IsRunning reports whether the container process is up.
	IsRunning(ctx context.Context, name string) bool

	// Exec runs a command inside a running container and waits for it.
	Exec(ctx context.Context, name string, argv []string) (*ExecResult, error)

	// Close releases the runtime connection.
	Close() error
}
