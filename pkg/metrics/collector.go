package metrics

import (
	"time"

	"github.com/perchlabs/roost/pkg/storage"
	"github.com/perchlabs/roost/pkg/types"
)

// Collector periodically refreshes the fleet gauges from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
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
	c.collectAccountMetrics()
	c.collectTargetMetrics()
}

func (c *Collector) collectAccountMetrics() {
	accounts, err := c.store.ListAccounts()
	if err != nil {
		return
	}

	counts := map[string]int{}
	for _, account := range accounts {
		switch {
		case account.Deleted():
			counts["deleted"]++
		case account.Active:
			counts["active"]++
		default:
			counts["inactive"]++
		}
	}

	for _, status := range []string{"active", "inactive", "deleted"} {
		AccountsTotal.WithLabelValues(status).Set(float64(counts[status]))
	}
}

func (c *Collector) collectTargetMetrics() {
	for _, pool := range []types.TargetPool{types.PoolInternal, types.PoolExternal} {
		targets, err := c.store.ListTargets(pool)
		if err != nil {
			continue
		}
		TargetsTotal.WithLabelValues(string(pool)).Set(float64(len(targets)))
	}
}
