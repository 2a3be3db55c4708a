/*
Package storage provides persistent state for the orchestrator on an
embedded sqlite database.

The store holds pool configurations, container rows, per-tenant sync
statuses, and the activity log. Container status transitions are conditional
updates so that concurrent claimers race safely: ClaimIdle moves a row from
idle to claimed only if it is still idle, and loses with ErrStoreConflict
otherwise.
*/
package storage
