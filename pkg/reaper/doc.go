/*
Package reaper auto-releases claimed containers after filesystem
inactivity.

Each watch tracks the newest mtime under a container's state directory.
A shared, self-scheduling poll loop walks all watched trees (bounded per
tree and failure-isolated); when a tree has been quiet for its TTL the
watch fires an injected expiry callback, which runs the release pipeline.
Watches survive restarts: Restore seeds them from the on-disk mtimes so a
process restart never extends a lease.
*/
package reaper
