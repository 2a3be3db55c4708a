/*
Package manager provisions and tears down containers for the pool machinery.

It is a stateless wrapper over the runtime driver plus the host filesystem.
Every container gets a deterministic host layout keyed by its id:

	stateBaseDir/<containerId>/            state volume, mounted rw
	stateBaseDir/<containerId>/custom/<n>/ custom volumes
	secretsBaseDir/<containerId>/          secrets volume, mounted ro
	socketBaseDir/<containerId>/           comm volume holding app.sock

Create builds the hardened runtime spec (read-only rootfs, dropped
capabilities, tmpfs scratch mounts, non-root uid) and applies volume seeds.
WipeForNewTenant clears state and secrets before a container is handed to a
tenant different from its previous one. All filesystem operations are
idempotent and safe to repeat.
*/
package manager
