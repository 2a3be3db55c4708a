package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/burrowhq/burrow/pkg/types"

	// Register the pure-Go SQLite driver (no CGO required).
	_ "modernc.org/sqlite"
)

// maxSyncErrors bounds the per-status error ring.
const maxSyncErrors = 10

const schema = `
CREATE TABLE IF NOT EXISTS pools (
	pool_id              TEXT PRIMARY KEY,
	workload_id          TEXT NOT NULL,
	min_idle             INTEGER NOT NULL,
	max_size             INTEGER NOT NULL,
	idle_timeout_ms      INTEGER NOT NULL,
	eviction_interval_ms INTEGER NOT NULL,
	acquire_timeout_ms   INTEGER NOT NULL,
	file_idle_ttl_ms     INTEGER NOT NULL,
	networks             TEXT NOT NULL DEFAULT '[]',
	created_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS containers (
	container_id    TEXT PRIMARY KEY,
	pool_id         TEXT NOT NULL,
	workload_id     TEXT NOT NULL,
	status          TEXT NOT NULL CHECK (status IN ('idle','claimed','stopping')),
	tenant_id       TEXT,
	last_tenant_id  TEXT,
	last_activity   INTEGER NOT NULL,
	claimed_at      INTEGER,
	idle_expires_at INTEGER,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_containers_pool_status
	ON containers(pool_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_containers_claimed_tenant
	ON containers(pool_id, tenant_id) WHERE status = 'claimed';

CREATE TABLE IF NOT EXISTS sync_status (
	tenant_id     TEXT NOT NULL,
	sync_id       TEXT NOT NULL,
	state         TEXT NOT NULL CHECK (state IN ('idle','syncing','error')),
	pending_count INTEGER NOT NULL DEFAULT 0,
	errors        TEXT NOT NULL DEFAULT '[]',
	last_sync_at  INTEGER,
	PRIMARY KEY (tenant_id, sync_id)
);

CREATE TABLE IF NOT EXISTS activity (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type   TEXT NOT NULL,
	pool_id      TEXT,
	container_id TEXT,
	tenant_id    TEXT,
	message      TEXT NOT NULL,
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_created ON activity(created_at);
`

// SQLiteStore implements Store on an embedded sqlite database.
//
// The database runs in WAL mode with a single connection: the orchestrator
// is one process per node and the conditional updates that back the pool
// scheduler rely on sqlite serializing writers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database under dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "burrow.db")
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; a pool of connections only invites SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- time helpers ---
// Timestamps are stored as unix milliseconds so NULL round-trips cleanly.

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// --- Pool operations ---

func (s *SQLiteStore) UpsertPool(ctx context.Context, pool *types.PoolConfig) error {
	networks, err := json.Marshal(pool.Networks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pools (pool_id, workload_id, min_idle, max_size, idle_timeout_ms,
			eviction_interval_ms, acquire_timeout_ms, file_idle_ttl_ms, networks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pool_id) DO UPDATE SET
			workload_id = excluded.workload_id,
			min_idle = excluded.min_idle,
			max_size = excluded.max_size,
			idle_timeout_ms = excluded.idle_timeout_ms,
			eviction_interval_ms = excluded.eviction_interval_ms,
			acquire_timeout_ms = excluded.acquire_timeout_ms,
			file_idle_ttl_ms = excluded.file_idle_ttl_ms,
			networks = excluded.networks`,
		pool.PoolID, pool.WorkloadID, pool.MinIdle, pool.MaxSize,
		pool.IdleTimeout.Milliseconds(), pool.EvictionInterval.Milliseconds(),
		pool.AcquireTimeout.Milliseconds(), pool.FileIdleTTL.Milliseconds(),
		string(networks), toMillis(pool.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert pool: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPool(ctx context.Context, poolID string) (*types.PoolConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pool_id, workload_id, min_idle, max_size, idle_timeout_ms,
			eviction_interval_ms, acquire_timeout_ms, file_idle_ttl_ms, networks, created_at
		FROM pools WHERE pool_id = ?`, poolID)
	pool, err := scanPool(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrPoolNotFound
	}
	return pool, err
}

func (s *SQLiteStore) ListPools(ctx context.Context) ([]*types.PoolConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pool_id, workload_id, min_idle, max_size, idle_timeout_ms,
			eviction_interval_ms, acquire_timeout_ms, file_idle_ttl_ms, networks, created_at
		FROM pools ORDER BY pool_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var pools []*types.PoolConfig
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, rows.Err()
}

func (s *SQLiteStore) DeletePool(ctx context.Context, poolID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pools WHERE pool_id = ?`, poolID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPool(r rowScanner) (*types.PoolConfig, error) {
	var (
		pool                                        types.PoolConfig
		idleMs, evictMs, acquireMs, ttlMs, createdAt int64
		networks                                    string
	)
	if err := r.Scan(&pool.PoolID, &pool.WorkloadID, &pool.MinIdle, &pool.MaxSize,
		&idleMs, &evictMs, &acquireMs, &ttlMs, &networks, &createdAt); err != nil {
		return nil, err
	}
	pool.IdleTimeout = time.Duration(idleMs) * time.Millisecond
	pool.EvictionInterval = time.Duration(evictMs) * time.Millisecond
	pool.AcquireTimeout = time.Duration(acquireMs) * time.Millisecond
	pool.FileIdleTTL = time.Duration(ttlMs) * time.Millisecond
	pool.CreatedAt = fromMillis(createdAt)
	if err := json.Unmarshal([]byte(networks), &pool.Networks); err != nil {
		return nil, fmt.Errorf("failed to decode pool networks: %w", err)
	}
	return &pool, nil
}

// --- Container operations ---

const containerColumns = `container_id, pool_id, workload_id, status, tenant_id,
	last_tenant_id, last_activity, claimed_at, idle_expires_at, created_at`

func scanContainer(r rowScanner) (*types.PoolContainer, error) {
	var (
		c                        types.PoolContainer
		tenantID, lastTenantID   sql.NullString
		lastActivity, createdAt  int64
		claimedAt, idleExpiresAt sql.NullInt64
	)
	if err := r.Scan(&c.ContainerID, &c.PoolID, &c.WorkloadID, &c.Status,
		&tenantID, &lastTenantID, &lastActivity, &claimedAt, &idleExpiresAt, &createdAt); err != nil {
		return nil, err
	}
	c.TenantID = tenantID.String
	c.LastTenantID = lastTenantID.String
	c.LastActivity = fromMillis(lastActivity)
	c.ClaimedAt = fromNullMillis(claimedAt)
	c.IdleExpiresAt = fromNullMillis(idleExpiresAt)
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

func (s *SQLiteStore) InsertContainer(ctx context.Context, c *types.PoolContainer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO containers (`+containerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ContainerID, c.PoolID, c.WorkloadID, c.Status,
		toNullString(c.TenantID), toNullString(c.LastTenantID),
		toMillis(c.LastActivity), toNullMillis(c.ClaimedAt),
		toNullMillis(c.IdleExpiresAt), toMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert container: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetContainer(ctx context.Context, containerID string) (*types.PoolContainer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE container_id = ?`, containerID)
	c, err := scanContainer(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrContainerNotFound
	}
	return c, err
}

func (s *SQLiteStore) FirstIdle(ctx context.Context, poolID string) (*types.PoolContainer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+containerColumns+` FROM containers
		WHERE pool_id = ? AND status = 'idle'
		ORDER BY last_activity ASC LIMIT 1`, poolID)
	c, err := scanContainer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) IdleWithLastTenant(ctx context.Context, poolID, tenantID string) (*types.PoolContainer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+containerColumns+` FROM containers
		WHERE pool_id = ? AND status = 'idle' AND last_tenant_id = ?
		LIMIT 1`, poolID, tenantID)
	c, err := scanContainer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) ClaimedByTenant(ctx context.Context, poolID, tenantID string) (*types.PoolContainer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+containerColumns+` FROM containers
		WHERE pool_id = ? AND tenant_id = ? AND status = 'claimed'`, poolID, tenantID)
	c, err := scanContainer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) ListByPool(ctx context.Context, poolID string) ([]*types.PoolContainer, error) {
	return s.listContainers(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE pool_id = ? ORDER BY created_at`, poolID)
}

func (s *SQLiteStore) ListAllContainers(ctx context.Context) ([]*types.PoolContainer, error) {
	return s.listContainers(ctx,
		`SELECT `+containerColumns+` FROM containers ORDER BY created_at`)
}

func (s *SQLiteStore) listContainers(ctx context.Context, query string, args ...any) ([]*types.PoolContainer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer rows.Close()

	var containers []*types.PoolContainer
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, err
		}
		containers = append(containers, c)
	}
	return containers, rows.Err()
}

func (s *SQLiteStore) CountByStatus(ctx context.Context, poolID string) (map[types.ContainerStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM containers WHERE pool_id = ? GROUP BY status`, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to count containers: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.ContainerStatus]int)
	for rows.Next() {
		var status types.ContainerStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ClaimIdle performs the conditional claimed transition. The WHERE clause on
// status is what makes concurrent acquires safe: exactly one update observes
// the idle row.
func (s *SQLiteStore) ClaimIdle(ctx context.Context, containerID, tenantID string, now time.Time) (*types.PoolContainer, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE containers
		SET status = 'claimed', tenant_id = ?, last_activity = ?, claimed_at = ?
		WHERE container_id = ? AND status = 'idle'`,
		tenantID, toMillis(now), toMillis(now), containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim container: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, types.ErrStoreConflict
	}
	return s.GetContainer(ctx, containerID)
}

func (s *SQLiteStore) ReleaseClaimed(ctx context.Context, containerID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE containers
		SET status = 'idle', last_tenant_id = tenant_id, tenant_id = NULL,
			claimed_at = NULL, idle_expires_at = NULL, last_activity = ?
		WHERE container_id = ? AND status = 'claimed'`,
		toMillis(now), containerID)
	if err != nil {
		return fmt.Errorf("failed to release container: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrContainerNotFound
	}
	return nil
}

func (s *SQLiteStore) TouchActivity(ctx context.Context, containerID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE containers SET last_activity = ? WHERE container_id = ?`,
		toMillis(now), containerID)
	return err
}

func (s *SQLiteStore) SetIdleExpiry(ctx context.Context, containerID string, expiresAt *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE containers SET idle_expires_at = ? WHERE container_id = ?`,
		toNullMillis(expiresAt), containerID)
	return err
}

func (s *SQLiteStore) RefreshIdleExpiry(ctx context.Context, containerID string, now time.Time, ttl time.Duration) error {
	expires := now.Add(ttl)
	_, err := s.db.ExecContext(ctx,
		`UPDATE containers SET last_activity = ?, idle_expires_at = ? WHERE container_id = ?`,
		toMillis(now), toMillis(expires), containerID)
	return err
}

func (s *SQLiteStore) DeleteContainer(ctx context.Context, containerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM containers WHERE container_id = ?`, containerID)
	return err
}

// --- Sync status operations ---

func (s *SQLiteStore) SyncStarted(ctx context.Context, tenantID, syncID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (tenant_id, sync_id, state, pending_count)
		VALUES (?, ?, 'syncing', 1)
		ON CONFLICT(tenant_id, sync_id) DO UPDATE SET
			state = 'syncing',
			pending_count = pending_count + 1`,
		tenantID, syncID)
	if err != nil {
		return fmt.Errorf("failed to record sync start: %w", err)
	}
	return nil
}

// SyncCompleted decrements the pending count and settles the state: idle with
// a cleared error ring when the last pending sync finished cleanly, error
// when a failure is reported.
func (s *SQLiteStore) SyncCompleted(ctx context.Context, tenantID, syncID string, syncErr *types.SyncError, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin sync completion: %w", err)
	}
	defer tx.Rollback()

	var pending int
	var errorsJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT pending_count, errors FROM sync_status WHERE tenant_id = ? AND sync_id = ?`,
		tenantID, syncID).Scan(&pending, &errorsJSON)
	if err != nil {
		return fmt.Errorf("failed to load sync status: %w", err)
	}

	if pending > 0 {
		pending--
	}

	var ring []types.SyncError
	if err := json.Unmarshal([]byte(errorsJSON), &ring); err != nil {
		ring = nil
	}

	state := types.SyncStateSyncing
	switch {
	case syncErr != nil:
		ring = append(ring, *syncErr)
		if len(ring) > maxSyncErrors {
			ring = ring[len(ring)-maxSyncErrors:]
		}
		state = types.SyncStateError
	case pending == 0:
		ring = nil
		state = types.SyncStateIdle
	}

	encoded, err := json.Marshal(ring)
	if err != nil {
		return err
	}
	if ring == nil {
		encoded = []byte("[]")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sync_status
		SET state = ?, pending_count = ?, errors = ?, last_sync_at = ?
		WHERE tenant_id = ? AND sync_id = ?`,
		state, pending, string(encoded), toMillis(now), tenantID, syncID)
	if err != nil {
		return fmt.Errorf("failed to record sync completion: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetSyncStatus(ctx context.Context, tenantID, syncID string) (*types.SyncStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, sync_id, state, pending_count, errors, last_sync_at
		FROM sync_status WHERE tenant_id = ? AND sync_id = ?`, tenantID, syncID)
	st, err := scanSyncStatus(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

func (s *SQLiteStore) ListSyncStatuses(ctx context.Context, tenantID string) ([]*types.SyncStatus, error) {
	return s.listSyncStatuses(ctx, `
		SELECT tenant_id, sync_id, state, pending_count, errors, last_sync_at
		FROM sync_status WHERE tenant_id = ?`, tenantID)
}

func (s *SQLiteStore) ListSyncing(ctx context.Context) ([]*types.SyncStatus, error) {
	return s.listSyncStatuses(ctx, `
		SELECT tenant_id, sync_id, state, pending_count, errors, last_sync_at
		FROM sync_status WHERE state = 'syncing'`)
}

func (s *SQLiteStore) ListSyncErrors(ctx context.Context) ([]*types.SyncStatus, error) {
	return s.listSyncStatuses(ctx, `
		SELECT tenant_id, sync_id, state, pending_count, errors, last_sync_at
		FROM sync_status WHERE state = 'error'`)
}

func (s *SQLiteStore) DeleteSyncStatuses(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_status WHERE tenant_id = ?`, tenantID)
	return err
}

func (s *SQLiteStore) listSyncStatuses(ctx context.Context, query string, args ...any) ([]*types.SyncStatus, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*types.SyncStatus
	for rows.Next() {
		st, err := scanSyncStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func scanSyncStatus(r rowScanner) (*types.SyncStatus, error) {
	var (
		st         types.SyncStatus
		errorsJSON string
		lastSync   sql.NullInt64
	)
	if err := r.Scan(&st.TenantID, &st.SyncID, &st.State, &st.PendingCount, &errorsJSON, &lastSync); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(errorsJSON), &st.Errors); err != nil {
		return nil, fmt.Errorf("failed to decode sync errors: %w", err)
	}
	st.LastSyncAt = fromNullMillis(lastSync)
	return &st, nil
}

// --- Activity operations ---

func (s *SQLiteStore) InsertEvent(ctx context.Context, ev *types.ActivityEvent) (int64, error) {
	metadata := "{}"
	if len(ev.Metadata) > 0 {
		encoded, err := json.Marshal(ev.Metadata)
		if err != nil {
			return 0, err
		}
		metadata = string(encoded)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO activity (event_type, pool_id, container_id, tenant_id, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Type, toNullString(ev.PoolID), toNullString(ev.ContainerID),
		toNullString(ev.TenantID), ev.Message, metadata, toMillis(ts))
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) RecentEvents(ctx context.Context, limit, offset int, filter *EventFilter) ([]*types.ActivityEvent, error) {
	query := `SELECT id, event_type, pool_id, container_id, tenant_id, message, metadata, created_at
		FROM activity`
	var clauses []string
	var args []any
	if filter != nil {
		if filter.Type != "" {
			clauses = append(clauses, "event_type = ?")
			args = append(args, filter.Type)
		}
		if filter.TenantID != "" {
			clauses = append(clauses, "tenant_id = ?")
			args = append(args, filter.TenantID)
		}
		if filter.PoolID != "" {
			clauses = append(clauses, "pool_id = ?")
			args = append(args, filter.PoolID)
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*types.ActivityEvent
	for rows.Next() {
		var (
			ev                            types.ActivityEvent
			poolID, containerID, tenantID sql.NullString
			metadata                      string
			createdAt                     int64
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &poolID, &containerID, &tenantID,
			&ev.Message, &metadata, &createdAt); err != nil {
			return nil, err
		}
		ev.PoolID = poolID.String
		ev.ContainerID = containerID.String
		ev.TenantID = tenantID.String
		ev.Timestamp = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(metadata), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode event metadata: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// TrimEvents deletes all but the keep most recent events by timestamp.
func (s *SQLiteStore) TrimEvents(ctx context.Context, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM activity WHERE id NOT IN (
			SELECT id FROM activity ORDER BY created_at DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("failed to trim events: %w", err)
	}
	return nil
}
