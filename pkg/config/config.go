package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	units "github.com/docker/go-units"
)

// Config holds node-level orchestrator configuration from environment
// variables. Every field has a default; none is required for tests.
type Config struct {
	// DataDir holds the sqlite database and the process lock file.
	DataDir string

	// Base directories for per-container host state.
	StateBaseDir   string
	SecretsBaseDir string
	SocketBaseDir  string

	// Pool defaults applied when a workload omits its pool block.
	PoolMinIdle        int
	PoolMaxSize        int
	IdleTimeout        time.Duration
	AcquireTimeout     time.Duration
	StartTimeout       time.Duration
	EvictionInterval   time.Duration
	ReaperPollInterval time.Duration

	// Default container resource limits.
	DefaultCPUShares   int64
	DefaultMemoryBytes int64

	// ContainerdSocket is the containerd control socket.
	ContainerdSocket string

	// RclonePath is the sync tool binary; looked up on PATH when bare.
	RclonePath  string
	SyncTimeout time.Duration

	// MetricsAddr is the listen address of the Prometheus endpoint.
	MetricsAddr string

	// MaxActivityEvents caps the activity log.
	MaxActivityEvents int
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	dataDir := getString("BURROW_DATA_DIR", "/var/lib/burrow")

	memBytes, err := getMemory("BURROW_DEFAULT_MEMORY", "512m")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:            dataDir,
		StateBaseDir:       getString("BURROW_STATE_DIR", filepath.Join(dataDir, "state")),
		SecretsBaseDir:     getString("BURROW_SECRETS_DIR", filepath.Join(dataDir, "secrets")),
		SocketBaseDir:      getString("BURROW_SOCKET_DIR", filepath.Join(dataDir, "sockets")),
		PoolMinIdle:        getInt("BURROW_POOL_MIN_IDLE", 1),
		PoolMaxSize:        getInt("BURROW_POOL_MAX_SIZE", 10),
		IdleTimeout:        getDuration("BURROW_IDLE_TIMEOUT", 30*time.Minute),
		AcquireTimeout:     getDuration("BURROW_ACQUIRE_TIMEOUT", 30*time.Second),
		StartTimeout:       getDuration("BURROW_START_TIMEOUT", 60*time.Second),
		EvictionInterval:   getDuration("BURROW_EVICTION_INTERVAL", 30*time.Second),
		ReaperPollInterval: getDuration("BURROW_REAPER_POLL_INTERVAL", 5*time.Second),
		DefaultCPUShares:   int64(getInt("BURROW_DEFAULT_CPU_SHARES", 1024)),
		DefaultMemoryBytes: memBytes,
		ContainerdSocket:   getString("BURROW_CONTAINERD_SOCKET", "/run/containerd/containerd.sock"),
		RclonePath:         getString("BURROW_RCLONE_PATH", "rclone"),
		SyncTimeout:        getDuration("BURROW_SYNC_TIMEOUT", 5*time.Minute),
		MetricsAddr:        getString("BURROW_METRICS_ADDR", ":9441"),
		MaxActivityEvents:  getInt("BURROW_MAX_ACTIVITY_EVENTS", 1000),
	}

	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// getMemory parses a human memory string ("512m", "2g") into bytes.
func getMemory(key, def string) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	n, err := units.RAMInBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
