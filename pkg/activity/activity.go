package activity

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/events"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

// trimEvery controls how often inserts trigger a trim pass.
const trimEvery = 100

// Log is the append-only activity stream. Every recorded event is persisted
// and fanned out to broker subscribers; the stream is capped at maxEvents
// by a trim that runs every trimEvery-th insert.
type Log struct {
	store     storage.Store
	broker    *events.Broker
	maxEvents int

	inserts atomic.Uint64
	logger  zerolog.Logger
}

// NewLog creates an activity log backed by the store.
func NewLog(store storage.Store, broker *events.Broker, maxEvents int) *Log {
	return &Log{
		store:     store,
		broker:    broker,
		maxEvents: maxEvents,
		logger:    log.WithComponent("activity"),
	}
}

// Record appends one event. Persistence failures are logged and swallowed:
// the activity stream is observability, not state, and must never abort a
// lifecycle operation.
func (l *Log) Record(ctx context.Context, ev *types.ActivityEvent) {
	id, err := l.store.InsertEvent(ctx, ev)
	if err != nil {
		l.logger.Error().Err(err).Str("event_type", string(ev.Type)).Msg("Failed to persist event")
	} else {
		ev.ID = id
	}

	if l.broker != nil {
		l.broker.Publish(ev)
	}

	if n := l.inserts.Add(1); n%trimEvery == 0 {
		if err := l.store.TrimEvents(ctx, l.maxEvents); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to trim activity log")
		}
	}
}

// Recordf is a convenience for events without metadata.
func (l *Log) Recordf(ctx context.Context, evType types.EventType, poolID, containerID, tenantID, message string) {
	l.Record(ctx, &types.ActivityEvent{
		Type:        evType,
		PoolID:      poolID,
		ContainerID: containerID,
		TenantID:    tenantID,
		Message:     message,
	})
}

// Recent returns the newest events, newest first.
func (l *Log) Recent(ctx context.Context, limit, offset int, filter *storage.EventFilter) ([]*types.ActivityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.RecentEvents(ctx, limit, offset, filter)
}
