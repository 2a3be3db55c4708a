package activity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowhq/burrow/pkg/events"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

func newTestLog(t *testing.T, maxEvents int) (*Log, *events.Broker) {
	t.Helper()
	store, err := storage.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return NewLog(store, broker, maxEvents), broker
}

func TestRecordPersistsAndPublishes(t *testing.T) {
	l, broker := newTestLog(t, 100)
	ctx := context.Background()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	l.Recordf(ctx, types.EventContainerClaimed, "pool-1", "c-1", "tenant-a", "claimed by tenant-a")

	select {
	case ev := <-sub:
		assert.Equal(t, types.EventContainerClaimed, ev.Type)
		assert.Equal(t, "tenant-a", ev.TenantID)
	case <-time.After(time.Second):
		t.Fatal("event not published")
	}

	recent, err := l.Recent(ctx, 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "claimed by tenant-a", recent[0].Message)
	assert.NotZero(t, recent[0].ID)
}

func TestRecentFilters(t *testing.T) {
	l, _ := newTestLog(t, 100)
	ctx := context.Background()

	l.Recordf(ctx, types.EventContainerClaimed, "pool-1", "c-1", "tenant-a", "claimed")
	l.Recordf(ctx, types.EventContainerReleased, "pool-1", "c-1", "tenant-a", "released")
	l.Recordf(ctx, types.EventContainerClaimed, "pool-2", "c-2", "tenant-b", "claimed")

	byTenant, err := l.Recent(ctx, 10, 0, &storage.EventFilter{TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.Len(t, byTenant, 2)

	byType, err := l.Recent(ctx, 10, 0, &storage.EventFilter{Type: types.EventContainerReleased})
	require.NoError(t, err)
	assert.Len(t, byType, 1)
}

func TestTrimKeepsCap(t *testing.T) {
	l, _ := newTestLog(t, 20)
	ctx := context.Background()

	// Cross the trim threshold.
	for i := 0; i < 105; i++ {
		l.Recordf(ctx, types.EventContainerCreated, "pool-1", fmt.Sprintf("c-%d", i), "", "created")
	}

	recent, err := l.Recent(ctx, 200, 0, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(recent), 25)
}
