package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics
	PoolsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_pools_total",
			Help: "Total number of pools",
		},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_containers_total",
			Help: "Number of pool containers by pool and status",
		},
		[]string{"pool", "status"},
	)

	TenantsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_tenants_active",
			Help: "Number of tenants holding a claimed container",
		},
	)

	// Claim pipeline metrics
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_claims_total",
			Help: "Total number of claim attempts by pool and result",
		},
		[]string{"pool", "result"},
	)

	ClaimDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_claim_duration_seconds",
			Help:    "Claim pipeline duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pool"},
	)

	ReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_releases_total",
			Help: "Total number of releases by pool",
		},
		[]string{"pool"},
	)

	// Sync metrics
	SyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_syncs_total",
			Help: "Total number of sync runs by result",
		},
		[]string{"result"},
	)

	SyncBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_sync_bytes_total",
			Help: "Total bytes transferred by sync runs",
		},
	)

	// Hook metrics
	HookFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_hook_failures_total",
			Help: "Total number of failed hook commands by hook point",
		},
		[]string{"point"},
	)

	// Reaper metrics
	ReaperExpiriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reaper_expiries_total",
			Help: "Total number of containers released by the file-idle reaper",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PoolsTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(TenantsActive)
	prometheus.MustRegister(ClaimsTotal)
	prometheus.MustRegister(ClaimDuration)
	prometheus.MustRegister(ReleasesTotal)
	prometheus.MustRegister(SyncsTotal)
	prometheus.MustRegister(SyncBytesTotal)
	prometheus.MustRegister(HookFailuresTotal)
	prometheus.MustRegister(ReaperExpiriesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on the given observer
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
