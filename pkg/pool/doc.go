/*
Package pool implements the per-workload container pool scheduler.

A pool keeps minIdle warm containers ready (topped up by a background fill
loop) and never exceeds maxSize. Acquire follows a strict preference order:
the tenant's existing claim, then the tenant's last container without a
wipe (affinity), then any idle container after a wipe, and finally
on-demand creation. Concurrent acquires race through the store's
conditional idle-to-claimed update; exactly one wins and the losers retry
with the next candidate.
*/
package pool
