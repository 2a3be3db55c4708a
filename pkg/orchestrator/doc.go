// Package orchestrator wires the node's components into the claim and
// release pipelines.
//
// A claim walks: pool acquire (affinity-aware), initial sync for new
// tenants, container restart, health wait, post-claim hooks, idle watch,
// periodic sync. Any failure after acquire unwinds the claim so the
// container returns to the pool instead of leaking. A release walks the
// pipeline in reverse: idle watch off, pre-release hooks (best effort),
// final upload, pool release.
//
// Startup takes an exclusive file lock on the data directory, reconciles
// the store against the runtime, and rebuilds pools and idle watches from
// persisted state. Shutdown stops loops but preserves containers and rows
// for the next start.
package orchestrator
