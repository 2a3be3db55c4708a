package syncer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/burrowhq/burrow/pkg/types"
)

// Adapter translates a sink config into sync tool remotes and flags.
// Adapters are keyed by sink type and registered in a Registry.
type Adapter interface {
	// Type is the sink.type key this adapter serves.
	Type() string

	// RemotePath builds the remote argument for a mapping. The configured
	// prefix may contain ${tenantId}, interpolated per tenant.
	RemotePath(sink *types.SinkConfig, tenantID, sinkPath string) string

	// Args returns provider and credential flags for the subprocess.
	Args(sink *types.SinkConfig) []string
}

// Registry holds sink adapters by type.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns a registry with the built-in adapters registered.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	r.Register(&S3Adapter{})
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

// Get returns the adapter for a sink type.
func (r *Registry) Get(sinkType string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[sinkType]
	if !ok {
		return nil, fmt.Errorf("no sink adapter registered for type %q", sinkType)
	}
	return a, nil
}

// S3Adapter targets S3-compatible object stores through rclone's on-the-fly
// ":s3:" backend, so no rclone config file is needed on the node.
type S3Adapter struct{}

func (*S3Adapter) Type() string { return "s3" }

// RemotePath joins bucket, interpolated prefix, and sink path into an
// ":s3:bucket/..." remote with normalized slashes.
func (*S3Adapter) RemotePath(sink *types.SinkConfig, tenantID, sinkPath string) string {
	prefix := strings.ReplaceAll(sink.Prefix, "${tenantId}", tenantID)

	parts := []string{sink.Bucket}
	for _, p := range []string{prefix, sinkPath} {
		p = strings.Trim(p, "/")
		if p != "" {
			parts = append(parts, p)
		}
	}
	return ":s3:" + strings.Join(parts, "/")
}

// Args builds provider flags. Without an access key the subprocess falls
// back to ambient credentials (env vars, instance profile).
func (*S3Adapter) Args(sink *types.SinkConfig) []string {
	args := []string{}
	if sink.Provider != "" {
		args = append(args, "--s3-provider", sink.Provider)
	}
	if sink.Endpoint != "" {
		args = append(args, "--s3-endpoint", sink.Endpoint)
	}
	if sink.Region != "" {
		args = append(args, "--s3-region", sink.Region)
	}
	if sink.AccessKey != "" {
		args = append(args,
			"--s3-access-key-id", sink.AccessKey,
			"--s3-secret-access-key", sink.SecretKey)
	} else {
		args = append(args, "--s3-env-auth")
	}
	args = append(args, sink.ExtraArgs...)
	return args
}
