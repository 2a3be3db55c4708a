// Package registry manages the set of live pools on a node: creation against
// registered workloads, restoration from persisted configuration after a
// restart, and stop-preserving shutdown.
package registry
