/*
Package types defines the core data structures used throughout Burrow.

This package contains the domain model of the per-node pool orchestrator:
workload specifications, pooled container rows, sync status, lifecycle hooks,
activity events, and the enumerated failure kinds every other package reports.

# Core Types

Workload configuration:
  - WorkloadSpec: validated, immutable description of a pooled workload
  - VolumeSpec / Volume: state, secrets, comm, and custom mounts with seeds
  - HealthCheck, Resources, PoolDefaults, SyncSpec, HookSpec

Pool state:
  - PoolContainer: one container row; the store row is authoritative
  - ContainerStatus: idle, claimed, stopping
  - PoolConfig: persisted pool parameters used by recovery

Sync:
  - SyncStatus: per-(tenant, sync) state with pending count and error ring
  - SyncMapping / SyncPolicy / SinkConfig

Observability:
  - ActivityEvent and EventType: the append-only lifecycle stream
  - PoolStats / RegistryStats / RecoveryReport

# Design Patterns

All enums are typed string constants. Optional configuration uses pointers
(nil = absent). Timestamps that may be unset (ClaimedAt, IdleExpiresAt) are
*time.Time so the store can round-trip NULL.

Errors follow the sentinel + structured split: identity checks go through
errors.Is against the exported sentinels, structured failures (hook aborts,
validation) through errors.As.
*/
package types
