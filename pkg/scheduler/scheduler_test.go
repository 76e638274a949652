package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/proxyworld/pkg/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTarget struct {
	reloads   atomic.Int32
	refreshes atomic.Int32
	statuses  atomic.Int32
}

func (c *countingTarget) ReloadSpec(context.Context) error {
	c.reloads.Add(1)
	return nil
}

func (c *countingTarget) Refresh(context.Context) error {
	c.refreshes.Add(1)
	return nil
}

func (c *countingTarget) ReportStatus(context.Context) []manager.InstanceStatus {
	c.statuses.Add(1)
	return nil
}

func TestSchedulerTimers(t *testing.T) {
	target := &countingTarget{}
	s := NewScheduler(Config{
		ReloadInterval:  20 * time.Millisecond,
		RefreshInterval: 20 * time.Millisecond,
		StatusInterval:  20 * time.Millisecond,
	}, target)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return target.reloads.Load() >= 2 && target.refreshes.Load() >= 2 && target.statuses.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerDisabledTimers(t *testing.T) {
	target := &countingTarget{}
	s := NewScheduler(Config{RefreshOnStart: true}, target)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return target.refreshes.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), target.refreshes.Load())
	assert.Equal(t, int32(0), target.reloads.Load())
	assert.Equal(t, int32(0), target.statuses.Load())
}

func TestSchedulerStopWaits(t *testing.T) {
	target := &countingTarget{}
	s := NewScheduler(Config{StatusInterval: 5 * time.Millisecond}, target)
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)

	s.Stop()
	after := target.statuses.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, target.statuses.Load())

	// stopping twice is fine
	s.Stop()
}

func TestSchedulerWatchesSpecFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	target := &countingTarget{}
	s := NewScheduler(Config{WatchPath: path, Debounce: 50 * time.Millisecond}, target)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// several quick writes collapse into one reload
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"v":1}`), 0644))
	}
	assert.Eventually(t, func() bool { return target.reloads.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), target.reloads.Load())

	// other files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), target.reloads.Load())
}

func TestSchedulerWatchMissingDirectory(t *testing.T) {
	s := NewScheduler(Config{WatchPath: filepath.Join(t.TempDir(), "missing", "spec.json")}, &countingTarget{})
	assert.Error(t, s.Start(context.Background()))
}

func TestTriggerReload(t *testing.T) {
	target := &countingTarget{}
	s := NewScheduler(Config{ReloadInterval: time.Hour}, target)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.TriggerReload()
	assert.Eventually(t, func() bool { return target.reloads.Load() == 1 }, time.Second, 5*time.Millisecond)
}
