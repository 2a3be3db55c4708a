package metrics

import (
	"context"
	"time"

	"github.com/burrowhq/burrow/pkg/registry"
	"github.com/burrowhq/burrow/pkg/types"
)

// Collector polls the pool registry and keeps the pool gauges current.
type Collector struct {
	pools  *registry.Registry
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(pools *registry.Registry) *Collector {
	return &Collector{
		pools:  pools,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx := context.Background()

	stats, err := c.pools.Stats(ctx)
	if err != nil {
		return
	}
	PoolsTotal.Set(float64(stats.TotalPools))
	TenantsActive.Set(float64(stats.TotalTenants))

	for _, p := range c.pools.List() {
		ps, err := p.Stats(ctx)
		if err != nil {
			continue
		}
		ContainersTotal.WithLabelValues(ps.PoolID, string(types.ContainerIdle)).Set(float64(ps.Idle))
		ContainersTotal.WithLabelValues(ps.PoolID, string(types.ContainerClaimed)).Set(float64(ps.Borrowed))
	}
}
