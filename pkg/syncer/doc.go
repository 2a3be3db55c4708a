/*
Package syncer moves tenant state between container volumes and remote
object storage through an external rclone subprocess.

Sink adapters translate a workload's sink config into rclone remotes and
provider flags; the built-in S3 adapter uses the on-the-fly ":s3:" backend
so no rclone config file exists on the node. The executor runs one transfer
per invocation (sync, copy, or bisync), parses the one-line stats output,
and classifies failures into a small label taxonomy for observability.

The coordinator enforces the concurrency contract: at most one running sync
per (tenant, sink path), with concurrent attempts coalesced rather than
queued. Sync state and the bounded error ring are persisted per
(tenant, workload) in the store.
*/
package syncer
