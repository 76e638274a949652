package reconciler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/proxyworld/pkg/process"
	"github.com/cuemby/proxyworld/pkg/state"
	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/cuemby/proxyworld/pkg/workdir"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const engineExe = "/usr/local/bin/clash"

// fakeEngines stands in for both the supervisor and the process table
type fakeEngines struct {
	mu           sync.Mutex
	nextPID      int
	alive        map[int]bool
	spawns       []process.SpawnSpec
	terminations []int
	spawnErr     error
	terminateErr error
	// ctxErrs holds ctx.Err() as seen by every Terminate call
	ctxErrs []error
}

func newFakeEngines() *fakeEngines {
	return &fakeEngines{nextPID: 1000, alive: make(map[int]bool)}
}

func (f *fakeEngines) Spawn(spec process.SpawnSpec) (process.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return process.Identity{}, f.spawnErr
	}
	f.nextPID++
	f.alive[f.nextPID] = true
	f.spawns = append(f.spawns, spec)
	return process.Identity{PID: f.nextPID, Executable: engineExe, StartedAt: time.Now()}, nil
}

func (f *fakeEngines) Terminate(ctx context.Context, id process.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.terminateErr != nil {
		return f.terminateErr
	}
	if !f.alive[id.PID] {
		return process.ErrNotRunning
	}
	delete(f.alive, id.PID)
	f.terminations = append(f.terminations, id.PID)
	return nil
}

func (f *fakeEngines) IsAlive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeEngines) ExecutablePath(pid int) (string, error) {
	if !f.IsAlive(pid) {
		return "", process.ErrNotRunning
	}
	return engineExe, nil
}

func (f *fakeEngines) crash(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, pid)
}

type fakeReloader struct {
	calls   []string
	ctxErrs []error
	err     error
}

func (f *fakeReloader) Reload(ctx context.Context, controllerURL, configPath string) error {
	f.calls = append(f.calls, controllerURL+" "+configPath)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.err
}

type fixture struct {
	engines   *fakeEngines
	reloader  *fakeReloader
	workdir   *workdir.Manager
	statePath string
	rec       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	wd, err := workdir.New(dataDir, "")
	require.NoError(t, err)

	f := &fixture{
		engines:   newFakeEngines(),
		reloader:  &fakeReloader{},
		workdir:   wd,
		statePath: filepath.Join(dataDir, state.FileName),
	}
	f.rec = New(Config{EngineBinary: "clash", StatePath: f.statePath}, f.engines, f.engines, wd, f.reloader, nil)
	return f
}

func engineConfig(mixedPort int, level types.LogLevel) *types.EngineConfig {
	return &types.EngineConfig{
		MixedPort:          mixedPort,
		Mode:               "rule",
		LogLevel:           level,
		ExternalController: "127.0.0.1:9090",
		Proxies:            []types.ProxyConfig{},
		ProxyGroups: []types.ProxyGroup{
			{Name: "Proxy", Type: types.GroupSelect, Proxies: []string{types.DirectPolicy}},
		},
		Rules: []types.Rule{{Type: types.RuleFinal, Policy: "Proxy"}},
	}
}

func TestReconcileStartsNewInstances(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	desired := []Desired{
		{ID: a, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)},
		{ID: b, Name: "work", Config: engineConfig(7891, types.LogLevelInfo)},
	}

	st := f.rec.Reconcile(context.Background(), desired, state.RuntimeState{})

	require.Len(t, st, 2)
	assert.Len(t, f.engines.spawns, 2)
	assert.Equal(t, "home", st[a].Name)
	assert.True(t, st[a].Config.Equal(desired[0].Config))

	spec := f.engines.spawns[0]
	assert.Equal(t, "clash", spec.Binary)
	assert.Equal(t, []string{"-d", f.workdir.Path(a), "-f", f.workdir.ConfigPath(a)}, spec.Args)
	assert.Equal(t, f.workdir.LogPath(a), spec.LogFile)

	data, err := os.ReadFile(f.workdir.ConfigPath(a))
	require.NoError(t, err)
	assert.Contains(t, string(data), "mixed-port: 7890")

	saved, err := state.Load(f.statePath)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, saved.IDs())
}

func TestReconcileConverges(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	desired := []Desired{{ID: id, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)}}

	st := f.rec.Reconcile(context.Background(), desired, state.RuntimeState{})
	again := f.rec.Reconcile(context.Background(), desired, st)

	assert.Equal(t, st[id].Process, again[id].Process)
	assert.Len(t, f.engines.spawns, 1)
	assert.Empty(t, f.engines.terminations)
	assert.Empty(t, f.reloader.calls)
}

func TestReconcileLogLevelChangeReloads(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	st := f.rec.Reconcile(context.Background(),
		[]Desired{{ID: id, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)}},
		state.RuntimeState{})
	pid := st[id].Process.PID

	changed := engineConfig(7890, types.LogLevelDebug)
	st = f.rec.Reconcile(context.Background(), []Desired{{ID: id, Name: "home", Config: changed}}, st)

	assert.Len(t, f.engines.spawns, 1)
	assert.Empty(t, f.engines.terminations)
	require.Len(t, f.reloader.calls, 1)
	assert.Equal(t, "http://127.0.0.1:9090 "+f.workdir.ConfigPath(id), f.reloader.calls[0])
	assert.Equal(t, pid, st[id].Process.PID)
	assert.Equal(t, types.LogLevelDebug, st[id].Config.LogLevel)

	data, err := os.ReadFile(f.workdir.ConfigPath(id))
	require.NoError(t, err)
	assert.Contains(t, string(data), "log-level: debug")
}

func TestReconcilePortChangeRestartsOnce(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	st := f.rec.Reconcile(context.Background(),
		[]Desired{{ID: id, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)}},
		state.RuntimeState{})
	oldPID := st[id].Process.PID

	st = f.rec.Reconcile(context.Background(),
		[]Desired{{ID: id, Name: "home", Config: engineConfig(7899, types.LogLevelInfo)}}, st)

	assert.Equal(t, []int{oldPID}, f.engines.terminations)
	assert.Len(t, f.engines.spawns, 2)
	assert.Empty(t, f.reloader.calls)
	assert.NotEqual(t, oldPID, st[id].Process.PID)
	assert.Equal(t, 7899, st[id].Config.MixedPort)
}

func TestReconcileRemovesInstances(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	st := f.rec.Reconcile(context.Background(),
		[]Desired{{ID: id, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)}},
		state.RuntimeState{})
	pid := st[id].Process.PID

	st = f.rec.Reconcile(context.Background(), nil, st)

	assert.Empty(t, st)
	assert.Equal(t, []int{pid}, f.engines.terminations)
	_, err := os.Stat(f.workdir.Path(id))
	assert.True(t, os.IsNotExist(err))
}

func TestReconcileRemoveDropsRecordWhenSignalFails(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	st := f.rec.Reconcile(context.Background(),
		[]Desired{{ID: id, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)}},
		state.RuntimeState{})

	f.engines.terminateErr = errors.New("operation not permitted")
	st = f.rec.Reconcile(context.Background(), nil, st)
	assert.Empty(t, st)
}

func TestReconcileHoldsFailedGeneration(t *testing.T) {
	f := newFixture(t)
	running, absent := uuid.New(), uuid.New()

	st := f.rec.Reconcile(context.Background(),
		[]Desired{{ID: running, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)}},
		state.RuntimeState{})
	before := st[running]

	genErr := errors.New("policy not supported")
	st = f.rec.Reconcile(context.Background(), []Desired{
		{ID: running, Name: "home", Err: genErr},
		{ID: absent, Name: "work", Err: genErr},
	}, st)

	require.Len(t, st, 1)
	assert.Equal(t, before.Process, st[running].Process)
	assert.True(t, before.Config.Equal(st[running].Config))
	assert.Len(t, f.engines.spawns, 1)
	assert.Empty(t, f.engines.terminations)
}

func TestReconcileReloadFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	st := f.rec.Reconcile(context.Background(),
		[]Desired{{ID: id, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)}},
		state.RuntimeState{})

	f.reloader.err = errors.New("connection refused")
	desired := []Desired{{ID: id, Name: "home", Config: engineConfig(7890, types.LogLevelError)}}
	st = f.rec.Reconcile(context.Background(), desired, st)

	assert.Equal(t, types.LogLevelInfo, st[id].Config.LogLevel)

	f.reloader.err = nil
	st = f.rec.Reconcile(context.Background(), desired, st)
	assert.Equal(t, types.LogLevelError, st[id].Config.LogLevel)
	assert.Len(t, f.reloader.calls, 2)
	assert.Len(t, f.engines.spawns, 1)
}

func TestReconcileSpawnFailureRetries(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	desired := []Desired{{ID: id, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)}}

	f.engines.spawnErr = errors.New("engine binary not found")
	st := f.rec.Reconcile(context.Background(), desired, state.RuntimeState{})
	assert.Empty(t, st)

	f.engines.spawnErr = nil
	st = f.rec.Reconcile(context.Background(), desired, st)
	assert.Len(t, st, 1)
}

func TestReconcileRestartsDeadEngine(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	desired := []Desired{{ID: id, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)}}

	st := f.rec.Reconcile(context.Background(), desired, state.RuntimeState{})
	f.engines.crash(st[id].Process.PID)

	next := f.rec.Reconcile(context.Background(), desired, st)
	require.Len(t, next, 1)
	assert.NotEqual(t, st[id].Process.PID, next[id].Process.PID)
	assert.Len(t, f.engines.spawns, 2)
}

func TestRecover(t *testing.T) {
	engines := newFakeEngines()
	alive, _ := engines.Spawn(process.SpawnSpec{})
	dead, _ := engines.Spawn(process.SpawnSpec{})
	engines.crash(dead.PID)

	stale := alive
	stale.Executable = "/usr/bin/something-else"

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	st := state.RuntimeState{
		a: {Name: "alive", Process: alive},
		b: {Name: "dead", Process: dead},
		c: {Name: "reused pid", Process: stale},
	}

	recovered := Recover(st, engines, "clash")
	assert.Equal(t, []uuid.UUID{a}, recovered.IDs())
}

func TestRecoverFillsMissingExecutable(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	desired := []Desired{{ID: id, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)}}

	st := f.rec.Reconcile(context.Background(), desired, state.RuntimeState{})
	rec := st[id]
	rec.Process.Executable = ""
	st[id] = rec

	recovered := Recover(st, f.engines, "clash")
	require.Len(t, recovered, 1)
	assert.Equal(t, "clash", recovered[id].Process.Executable)

	next := f.rec.Reconcile(context.Background(), desired, recovered)
	assert.Len(t, f.engines.spawns, 1, "the live engine is adopted, not started again")
	assert.Empty(t, f.engines.terminations)
	assert.Equal(t, rec.Process.PID, next[id].Process.PID)
}

func TestReconcileIgnoresCancellation(t *testing.T) {
	f := newFixture(t)
	keep, drop := uuid.New(), uuid.New()
	st := f.rec.Reconcile(context.Background(), []Desired{
		{ID: keep, Name: "home", Config: engineConfig(7890, types.LogLevelInfo)},
		{ID: drop, Name: "work", Config: engineConfig(7891, types.LogLevelInfo)},
	}, state.RuntimeState{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st = f.rec.Reconcile(ctx, []Desired{
		{ID: keep, Name: "home", Config: engineConfig(7890, types.LogLevelDebug)},
	}, st)

	require.Len(t, st, 1)
	assert.Equal(t, types.LogLevelDebug, st[keep].Config.LogLevel)
	require.Len(t, f.engines.ctxErrs, 1)
	assert.NoError(t, f.engines.ctxErrs[0])
	require.Len(t, f.reloader.ctxErrs, 1)
	assert.NoError(t, f.reloader.ctxErrs[0])
}

func TestKillAll(t *testing.T) {
	f := newFixture(t)
	desired := []Desired{
		{ID: uuid.New(), Name: "home", Config: engineConfig(7890, types.LogLevelInfo)},
		{ID: uuid.New(), Name: "work", Config: engineConfig(7891, types.LogLevelInfo)},
	}
	st := f.rec.Reconcile(context.Background(), desired, state.RuntimeState{})

	assert.Equal(t, 2, f.rec.KillAll(context.Background(), st))

	saved, err := state.Load(f.statePath)
	require.NoError(t, err)
	assert.Empty(t, saved)
}
