package runtime

import (
	"context"
	"sync"
	"time"
)

// FakeDriver is an in-memory Driver for tests. Exec behavior is scripted per
// command via ExecFunc; by default every exec succeeds with exit code 0.
type FakeDriver struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer

	// ExecFunc, when set, handles Exec calls.
	ExecFunc func(name string, argv []string) (*ExecResult, error)

	// FailCreate makes CreateContainer return this error.
	FailCreate error

	// Restarts counts RestartContainer calls per container.
	Restarts map[string]int
}

type fakeContainer struct {
	spec    *ContainerSpec
	running bool
}

// NewFakeDriver returns an empty fake.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		containers: make(map[string]*fakeContainer),
		Restarts:   make(map[string]int),
	}
}

func (f *FakeDriver) PullImage(ctx context.Context, image string) error { return nil }

func (f *FakeDriver) CreateContainer(ctx context.Context, spec *ContainerSpec) error {
	if f.FailCreate != nil {
		return f.FailCreate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[spec.Name] = &fakeContainer{spec: spec, running: true}
	return nil
}

func (f *FakeDriver) StopContainer(ctx context.Context, name string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.running = false
	}
	return nil
}

func (f *FakeDriver) StartContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.running = true
	}
	return nil
}

func (f *FakeDriver) RestartContainer(ctx context.Context, name string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Restarts[name]++
	if c, ok := f.containers[name]; ok {
		c.running = true
	}
	return nil
}

func (f *FakeDriver) RemoveContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
	return nil
}

func (f *FakeDriver) GetContainer(ctx context.Context, name string) (*ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return nil, nil
	}
	return f.info(name, c), nil
}

func (f *FakeDriver) ListContainers(ctx context.Context) ([]*ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	infos := make([]*ContainerInfo, 0, len(f.containers))
	for name, c := range f.containers {
		infos = append(infos, f.info(name, c))
	}
	return infos, nil
}

func (f *FakeDriver) info(name string, c *fakeContainer) *ContainerInfo {
	labels := make(map[string]string, len(c.spec.Labels))
	for k, v := range c.spec.Labels {
		labels[k] = v
	}
	return &ContainerInfo{
		Name:    name,
		Image:   c.spec.Image,
		Labels:  labels,
		Running: c.running,
	}
}

func (f *FakeDriver) IsRunning(ctx context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	return ok && c.running
}

func (f *FakeDriver) Exec(ctx context.Context, name string, argv []string) (*ExecResult, error) {
	f.mu.Lock()
	fn := f.ExecFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(name, argv)
	}
	return &ExecResult{ExitCode: 0}, nil
}

func (f *FakeDriver) Close() error { return nil }

// Spec returns the creation spec recorded for a container, for assertions.
func (f *FakeDriver) Spec(name string) *ContainerSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		return c.spec
	}
	return nil
}

var _ Driver = (*FakeDriver)(nil)
