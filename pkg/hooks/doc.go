// Package hooks executes workload lifecycle commands inside containers at
// the post-claim and pre-release points, with per-command timeout, retry,
// and continue/fail error policies.
package hooks
