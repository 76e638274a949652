package metrics

import (
	"sync"
	"time"
)

// InstanceStatus is the liveness of one instance as seen by the collector
type InstanceStatus struct {
	Name  string
	Alive bool
}

// Source provides the gauges the collector refreshes
type Source interface {
	InstanceStatuses() []InstanceStatus
	CacheCounts() (proxies, rules int)
}

// Collector periodically copies daemon state into the gauges
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	known map[string]bool
}

// NewCollector creates a collector reading from source every 15 seconds
func NewCollector(source Source) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
		known:    make(map[string]bool),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect refreshes the gauges once
func (c *Collector) Collect() {
	c.collectInstanceMetrics()
	c.collectCacheMetrics()
}

func (c *Collector) collectInstanceMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)
	running := 0
	for _, st := range c.source.InstanceStatuses() {
		seen[st.Name] = true
		if st.Alive {
			running++
			InstanceUp.WithLabelValues(st.Name).Set(1)
		} else {
			InstanceUp.WithLabelValues(st.Name).Set(0)
		}
	}
	for name := range c.known {
		if !seen[name] {
			InstanceUp.DeleteLabelValues(name)
		}
	}
	c.known = seen
	InstancesRunning.Set(float64(running))
}

func (c *Collector) collectCacheMetrics() {
	proxies, rules := c.source.CacheCounts()
	CacheEntries.WithLabelValues("proxies").Set(float64(proxies))
	CacheEntries.WithLabelValues("rules").Set(float64(rules))
}
