package types

import (
	"time"
)

// WorkloadSpec describes a pooled workload. Specs are validated at load time
// and treated as immutable for the lifetime of any pool created from them;
// reconfiguring a workload requires destroying and recreating its pools.
type WorkloadSpec struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Image       string            `yaml:"image"`
	Command     []string          `yaml:"command,omitempty"`
	Volumes     *VolumeSpec       `yaml:"volumes,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	User        string            `yaml:"user,omitempty"` // numeric uid or user name
	ReadOnly    bool              `yaml:"readOnly,omitempty"`
	Networks    []string          `yaml:"networks,omitempty"`
	DNS         []string          `yaml:"dns,omitempty"`
	HealthCheck *HealthCheck      `yaml:"healthCheck,omitempty"`
	Pool        *PoolDefaults     `yaml:"pool,omitempty"`
	Sync        *SyncSpec         `yaml:"sync,omitempty"`
	Hooks       *HookSpec         `yaml:"hooks,omitempty"`
	Resources   *Resources        `yaml:"resources,omitempty"`
}

// VolumeSpec declares the volumes mounted into every container of a workload.
// State is mounted read-write, secrets read-only, comm carries the per-container
// Unix socket. Each volume may carry a seed directory copied in before first use.
type VolumeSpec struct {
	State   *Volume           `yaml:"state,omitempty"`
	Secrets *Volume           `yaml:"secrets,omitempty"`
	Comm    *Volume           `yaml:"comm,omitempty"`
	Custom  map[string]Volume `yaml:"custom,omitempty"`
}

// Volume is a single mount declaration.
type Volume struct {
	MountPath string `yaml:"mountPath"`
	Seed      string `yaml:"seed,omitempty"` // absolute or config-relative seed dir
	ReadOnly  bool   `yaml:"readOnly,omitempty"`
}

// HealthCheck defines the in-container health probe.
type HealthCheck struct {
	Test        []string      `yaml:"test"` // argv, optional CMD/CMD-SHELL prefix
	Interval    time.Duration `yaml:"interval,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Retries     int           `yaml:"retries,omitempty"`
	StartPeriod time.Duration `yaml:"startPeriod,omitempty"`
}

// PoolDefaults carries per-workload pool parameters. Zero values defer to the
// node-level configuration defaults.
type PoolDefaults struct {
	MinIdle        int           `yaml:"minIdle,omitempty"`
	MaxSize        int           `yaml:"maxSize,omitempty"`
	IdleTimeout    time.Duration `yaml:"idleTimeout,omitempty"`
	AcquireTimeout time.Duration `yaml:"acquireTimeout,omitempty"`
	FileIdleTTL    time.Duration `yaml:"fileIdleTtl,omitempty"`
}

// Resources defines container resource limits. Memory accepts human strings
// ("512m", "2g") in YAML and is resolved to bytes at validation time.
type Resources struct {
	CPUShares   int64  `yaml:"cpuShares,omitempty"`
	Memory      string `yaml:"memory,omitempty"`
	MemoryBytes int64  `yaml:"-"`
}

// SyncSpec configures directional file sync between container volumes and a
// remote object-storage sink.
type SyncSpec struct {
	Sink     SinkConfig    `yaml:"sink"`
	Mappings []SyncMapping `yaml:"mappings"`
	Policy   SyncPolicy    `yaml:"policy,omitempty"`
}

// SinkConfig addresses a remote object store through a registered adapter.
// Prefix may contain ${tenantId}, interpolated per tenant at sync time.
type SinkConfig struct {
	Type      string   `yaml:"type"` // adapter key, e.g. "s3"
	Bucket    string   `yaml:"bucket"`
	Prefix    string   `yaml:"prefix,omitempty"`
	Endpoint  string   `yaml:"endpoint,omitempty"`
	Region    string   `yaml:"region,omitempty"`
	AccessKey string   `yaml:"accessKey,omitempty"`
	SecretKey string   `yaml:"secretKey,omitempty"`
	Provider  string   `yaml:"provider,omitempty"`
	ExtraArgs []string `yaml:"extraArgs,omitempty"`
}

// SyncDirection selects the transfer direction of a mapping or trigger.
type SyncDirection string

const (
	SyncUpload   SyncDirection = "upload"
	SyncDownload SyncDirection = "download"
	SyncBoth     SyncDirection = "both"
)

// SyncMapping associates a path inside the state volume with a sink-relative
// path.
type SyncMapping struct {
	Path      string        `yaml:"path"`     // relative to the state volume root
	SinkPath  string        `yaml:"sinkPath"` // relative to the sink prefix
	Direction SyncDirection `yaml:"direction,omitempty"`
}

// SyncPolicy controls when mappings are synced.
type SyncPolicy struct {
	OnClaim   bool          `yaml:"onClaim,omitempty"`
	OnRelease bool          `yaml:"onRelease,omitempty"`
	Manual    bool          `yaml:"manual,omitempty"`
	Interval  time.Duration `yaml:"interval,omitempty"`
	Pattern   string        `yaml:"pattern,omitempty"` // include pattern passed to the sync tool
}

// HookPoint identifies where in the claim/release pipeline a hook runs.
type HookPoint string

const (
	HookPostClaim  HookPoint = "post_claim"
	HookPreRelease HookPoint = "pre_release"
)

// HookErrorPolicy selects what happens when a hook command fails.
type HookErrorPolicy string

const (
	HookOnErrorFail     HookErrorPolicy = "fail"
	HookOnErrorContinue HookErrorPolicy = "continue"
	HookOnErrorRetry    HookErrorPolicy = "retry"
)

// HookSpec lists lifecycle hook commands per hook point.
type HookSpec struct {
	PostClaim  []HookCommand `yaml:"postClaim,omitempty"`
	PreRelease []HookCommand `yaml:"preRelease,omitempty"`
}

// HookCommand is one in-container command executed by the hook runner.
type HookCommand struct {
	Command []string        `yaml:"command"`
	Timeout time.Duration   `yaml:"timeout,omitempty"`
	OnError HookErrorPolicy `yaml:"onError,omitempty"`
	Retries int             `yaml:"retries,omitempty"`
}

// ContainerStatus is the pool-level container lifecycle state. The store row
// is authoritative; in-memory copies are snapshots.
type ContainerStatus string

const (
	ContainerIdle     ContainerStatus = "idle"
	ContainerClaimed  ContainerStatus = "claimed"
	ContainerStopping ContainerStatus = "stopping"
)

// PoolContainer is a container row owned by a pool. TenantID is non-empty iff
// the row is claimed; LastTenantID survives release and is only cleared by a
// wipe for a new tenant.
type PoolContainer struct {
	ContainerID   string
	PoolID        string
	WorkloadID    string
	Status        ContainerStatus
	TenantID      string
	LastTenantID  string
	LastActivity  time.Time
	ClaimedAt     *time.Time
	IdleExpiresAt *time.Time
	CreatedAt     time.Time
}

// PoolConfig is the persisted configuration of a pool.
type PoolConfig struct {
	PoolID           string
	WorkloadID       string
	MinIdle          int
	MaxSize          int
	IdleTimeout      time.Duration
	EvictionInterval time.Duration
	AcquireTimeout   time.Duration
	FileIdleTTL      time.Duration
	Networks         []string
	CreatedAt        time.Time
}

// SyncState is the coarse state of a (tenant, sync) pair.
type SyncState string

const (
	SyncStateIdle    SyncState = "idle"
	SyncStateSyncing SyncState = "syncing"
	SyncStateError   SyncState = "error"
)

// SyncError is one entry in the bounded per-status error ring.
type SyncError struct {
	Message     string    `json:"message"`
	MappingPath string    `json:"mappingPath,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SyncStatus tracks in-flight and failed syncs per (tenant, sync id).
// State is syncing exactly when PendingCount > 0.
type SyncStatus struct {
	TenantID     string
	SyncID       string
	State        SyncState
	PendingCount int
	Errors       []SyncError
	LastSyncAt   *time.Time
}

// EventType enumerates activity log event types.
type EventType string

const (
	EventContainerCreated   EventType = "container.created"
	EventContainerClaimed   EventType = "container.claimed"
	EventContainerReleased  EventType = "container.released"
	EventContainerDestroyed EventType = "container.destroyed"
	EventSyncStarted        EventType = "sync.started"
	EventSyncCompleted      EventType = "sync.completed"
	EventSyncFailed         EventType = "sync.failed"
	EventHookStarted        EventType = "hook.started"
	EventHookCompleted      EventType = "hook.completed"
	EventHookFailed         EventType = "hook.failed"
	EventPoolCreated        EventType = "pool.created"
	EventPoolDestroyed      EventType = "pool.destroyed"
	EventReaperExpired      EventType = "reaper.expired"
	EventRecoveryCompleted  EventType = "recovery.completed"
)

// ActivityEvent is one append-only lifecycle event.
type ActivityEvent struct {
	ID          int64
	Type        EventType
	PoolID      string
	ContainerID string
	TenantID    string
	Message     string
	Metadata    map[string]string
	Timestamp   time.Time
}

// PoolStats summarizes one pool.
type PoolStats struct {
	PoolID     string
	WorkloadID string
	Total      int
	Idle       int
	Borrowed   int
	MinIdle    int
	MaxSize    int
}

// RegistryStats aggregates across pools.
type RegistryStats struct {
	TotalPools       int
	TotalContainers  int
	ActiveContainers int
	IdleContainers   int
	TotalTenants     int
}

// RecoveryReport summarizes one recovery pass.
type RecoveryReport struct {
	RuntimeCount        int
	StaleRows           int
	ForeignDestroyed    int
	ExpiredReservations int
}
