package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	statuses []InstanceStatus
	proxies  int
	rules    int
}

func (f *fakeSource) InstanceStatuses() []InstanceStatus { return f.statuses }
func (f *fakeSource) CacheCounts() (int, int) { return f.proxies, f.rules }

func TestCollector(t *testing.T) {
	src := &fakeSource{
		statuses: []InstanceStatus{{Name: "home", Alive: true}, {Name: "work", Alive: false}},
		proxies:  3,
		rules:    1,
	}
	c := NewCollector(src)
	c.Collect()

	assert.Equal(t, 1.0, gaugeValue(t, InstancesRunning))
	assert.Equal(t, 1.0, gaugeValue(t, InstanceUp.WithLabelValues("home")))
	assert.Equal(t, 0.0, gaugeValue(t, InstanceUp.WithLabelValues("work")))
	assert.Equal(t, 3.0, gaugeValue(t, CacheEntries.WithLabelValues("proxies")))
	assert.Equal(t, 1.0, gaugeValue(t, CacheEntries.WithLabelValues("rules")))

	src.statuses = src.statuses[:1]
	c.Collect()
	assert.Equal(t, 1, collectCount(InstanceUp))

	c.Start()
	c.Stop()
	c.Stop()
}
