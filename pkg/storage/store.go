package storage

import (
	"context"
	"time"

	"github.com/burrowhq/burrow/pkg/types"
)

// EventFilter narrows activity reads. Zero values mean "any".
type EventFilter struct {
	Type     types.EventType
	TenantID string
	PoolID   string
}

// Store defines the interface for single-node orchestrator state.
// The sqlite implementation is the only one shipped; the interface exists so
// tests and future backends can substitute.
type Store interface {
	// Pools
	UpsertPool(ctx context.Context, pool *types.PoolConfig) error
	GetPool(ctx context.Context, poolID string) (*types.PoolConfig, error)
	ListPools(ctx context.Context) ([]*types.PoolConfig, error)
	DeletePool(ctx context.Context, poolID string) error

	// Containers
	InsertContainer(ctx context.Context, c *types.PoolContainer) error
	GetContainer(ctx context.Context, containerID string) (*types.PoolContainer, error)
	FirstIdle(ctx context.Context, poolID string) (*types.PoolContainer, error)
	IdleWithLastTenant(ctx context.Context, poolID, tenantID string) (*types.PoolContainer, error)
	ClaimedByTenant(ctx context.Context, poolID, tenantID string) (*types.PoolContainer, error)
	ListByPool(ctx context.Context, poolID string) ([]*types.PoolContainer, error)
	ListAllContainers(ctx context.Context) ([]*types.PoolContainer, error)
	CountByStatus(ctx context.Context, poolID string) (map[types.ContainerStatus]int, error)

	// ClaimIdle is the optimistic-concurrency primitive: it transitions the
	// row to claimed only if it is still idle, returning the updated row or
	// types.ErrStoreConflict when another claimer won.
	ClaimIdle(ctx context.Context, containerID, tenantID string, now time.Time) (*types.PoolContainer, error)

	// ReleaseClaimed transitions a claimed row back to idle, preserving the
	// tenant in last_tenant_id for affinity.
	ReleaseClaimed(ctx context.Context, containerID string, now time.Time) error

	TouchActivity(ctx context.Context, containerID string, now time.Time) error
	SetIdleExpiry(ctx context.Context, containerID string, expiresAt *time.Time) error
	RefreshIdleExpiry(ctx context.Context, containerID string, now time.Time, ttl time.Duration) error
	DeleteContainer(ctx context.Context, containerID string) error

	// Sync status
	SyncStarted(ctx context.Context, tenantID, syncID string) error
	SyncCompleted(ctx context.Context, tenantID, syncID string, syncErr *types.SyncError, now time.Time) error
	GetSyncStatus(ctx context.Context, tenantID, syncID string) (*types.SyncStatus, error)
	ListSyncStatuses(ctx context.Context, tenantID string) ([]*types.SyncStatus, error)
	ListSyncing(ctx context.Context) ([]*types.SyncStatus, error)
	ListSyncErrors(ctx context.Context) ([]*types.SyncStatus, error)
	DeleteSyncStatuses(ctx context.Context, tenantID string) error

	// Activity
	InsertEvent(ctx context.Context, ev *types.ActivityEvent) (int64, error)
	RecentEvents(ctx context.Context, limit, offset int, filter *EventFilter) ([]*types.ActivityEvent, error)
	TrimEvents(ctx context.Context, keep int) error

	// Utility
	Close() error
}
