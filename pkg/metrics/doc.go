// Package metrics exposes Prometheus metrics and health endpoints for the
// node.
//
// Metrics fall into two groups: gauges kept current by the Collector, which
// polls the pool registry (pool count, containers by status, active
// tenants), and counters/histograms incremented inline by the claim and
// release pipelines (claim attempts and duration, sync runs and bytes, hook
// failures, reaper expiries).
//
// The health checker tracks named components; /ready reports not_ready
// until the containerd and store components have registered healthy.
package metrics
