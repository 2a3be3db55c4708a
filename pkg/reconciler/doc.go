// Package reconciler converges persisted pool state with the container
// runtime after a restart: stale store rows are deleted, stopped managed
// containers are removed, and running containers the store has never heard
// of are destroyed.
package reconciler
