/*
Package runtime provides containerd integration for container lifecycle
management.

The Driver interface covers what the pool machinery needs from a runtime:
create and start, stop without delete (tenant restarts preserve the
filesystem), remove with snapshot cleanup, listing by managed labels, and
in-container exec for health probes and lifecycle hooks.

Managed containers run hardened by default: read-only root filesystem with
tmpfs scratch mounts, all capabilities dropped, no-new-privileges, and a
non-root UID. State the container is meant to keep lives on host bind mounts,
never in the container filesystem.

All containers live in the "burrow" containerd namespace and carry
burrow.* labels; recovery relies on those labels to identify containers
belonging to this node.
*/
package runtime
