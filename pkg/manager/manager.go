package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/proxyworld/pkg/cache"
	"github.com/cuemby/proxyworld/pkg/controller"
	"github.com/cuemby/proxyworld/pkg/events"
	"github.com/cuemby/proxyworld/pkg/fetch"
	"github.com/cuemby/proxyworld/pkg/generator"
	"github.com/cuemby/proxyworld/pkg/geodb"
	"github.com/cuemby/proxyworld/pkg/health"
	"github.com/cuemby/proxyworld/pkg/log"
	"github.com/cuemby/proxyworld/pkg/metrics"
	"github.com/cuemby/proxyworld/pkg/process"
	"github.com/cuemby/proxyworld/pkg/reconciler"
	"github.com/cuemby/proxyworld/pkg/state"
	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/cuemby/proxyworld/pkg/workdir"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds configuration for creating a Manager
type Config struct {
	SpecPath         string
	DataDir          string
	EngineBinary     string
	GeoDB            string
	Generator        generator.Options
	Fetch            fetch.Options
	FetchConcurrency int
}

// Reconciler applies desired instances to the running engines
type Reconciler interface {
	Reconcile(ctx context.Context, desired []reconciler.Desired, actual state.RuntimeState) state.RuntimeState
	KillAll(ctx context.Context, st state.RuntimeState) int
}

// Workdirs lists and removes instance working directories
type Workdirs interface {
	List() ([]uuid.UUID, error)
	Remove(id uuid.UUID) error
}

// Deps are the collaborators of a Manager. NewManager builds the real ones.
// Workdirs and Events are optional.
type Deps struct {
	Store      cache.Store
	Fetcher    Fetcher
	Reconciler Reconciler
	Probe      process.Probe
	Workdirs   Workdirs
	Events     events.Publisher
}

// Manager owns the spec, the caches and the runtime state. Every mutation
// happens under one mutex; only network fetches run outside it.
type Manager struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	mu     sync.Mutex
	spec   *types.Spec
	state  state.RuntimeState
	health map[uuid.UUID]*health.Status
}

// NewManager validates the inputs and wires the real store, fetcher,
// supervisor and reconciler under cfg.DataDir
func NewManager(cfg Config, pub events.Publisher) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	logger := log.WithComponent("manager")
	if cfg.GeoDB != "" {
		info, err := geodb.Validate(cfg.GeoDB)
		if err != nil {
			return nil, err
		}
		logger.Info().
			Str("type", info.DatabaseType).
			Time("built", info.BuildTime).
			Msg("Geo database validated")
	}

	store, err := cache.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	wd, err := workdir.New(cfg.DataDir, cfg.GeoDB)
	if err != nil {
		store.Close()
		return nil, err
	}

	probe := process.NewProbe()
	sup := process.NewSupervisor(probe, process.DefaultGracePeriod)
	rec := reconciler.New(reconciler.Config{
		EngineBinary: cfg.EngineBinary,
		StatePath:    filepath.Join(cfg.DataDir, state.FileName),
	}, sup, probe, wd, controller.New(0), pub)

	fetcher := fetch.New(cfg.Fetch)
	logger.Debug().Strs("clients", fetcher.Clients()).Msg("Subscription download routes")

	return New(cfg, Deps{
		Store:      store,
		Fetcher:    fetcher,
		Reconciler: rec,
		Probe:      probe,
		Workdirs:   wd,
		Events:     pub,
	})
}

// New creates a manager from explicit dependencies
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Store == nil || deps.Fetcher == nil || deps.Reconciler == nil || deps.Probe == nil {
		return nil, fmt.Errorf("manager: missing dependency")
	}
	return &Manager{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent("manager"),
		state:  state.RuntimeState{},
		health: make(map[uuid.UUID]*health.Status),
	}, nil
}

func (m *Manager) statePath() string {
	return filepath.Join(m.cfg.DataDir, state.FileName)
}

// Start loads the spec and the saved state, forgets records whose engine is
// gone and runs a first pass from the warm caches. A spec that cannot be
// loaded is fatal.
func (m *Manager) Start(ctx context.Context) error {
	spec, err := types.LoadSpec(m.cfg.SpecPath)
	if err != nil {
		metrics.RegisterComponent("spec", false, err.Error())
		return err
	}
	metrics.RegisterComponent("spec", true, "")
	metrics.RegisterComponent("cache", true, "")
	metrics.RegisterComponent("reconciler", false, "first pass pending")

	st, err := state.Load(m.statePath())
	if err != nil {
		m.logger.Warn().Err(err).Msg("Runtime state unreadable, starting empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.spec = spec
	m.state = reconciler.Recover(st, m.deps.Probe, m.cfg.EngineBinary)
	m.logger.Info().
		Int("instances", len(spec.Instances)).
		Int("recovered", len(m.state)).
		Msg("Spec loaded")

	m.removeOrphanWorkdirsLocked()
	m.reconcileLocked(ctx)
	return nil
}

// removeOrphanWorkdirsLocked deletes instance directories that no recovered
// engine runs in. Directories of instances still in the spec are recreated by
// the next pass.
func (m *Manager) removeOrphanWorkdirsLocked() {
	if m.deps.Workdirs == nil {
		return
	}
	ids, err := m.deps.Workdirs.List()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to list instance directories")
		return
	}
	for _, id := range ids {
		if _, ok := m.state[id]; ok {
			continue
		}
		if err := m.deps.Workdirs.Remove(id); err != nil {
			m.logger.Warn().Err(err).Str("instance_id", id.String()).Msg("Failed to remove orphan instance directory")
			continue
		}
		m.logger.Debug().Str("instance_id", id.String()).Msg("Removed orphan instance directory")
	}
}

// ReloadSpec re-reads the spec file. An invalid file is logged and the
// previous spec stays in effect. Shared data changes trigger a refresh, instance
// changes only a reconciliation.
func (m *Manager) ReloadSpec(ctx context.Context) error {
	spec, err := types.LoadSpec(m.cfg.SpecPath)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to reload spec, keeping previous")
		return err
	}

	m.mu.Lock()
	change := types.SpecSharedChanged
	if m.spec != nil {
		change = m.spec.Diff(spec)
	}
	if change == types.SpecUnchanged {
		m.mu.Unlock()
		m.logger.Debug().Msg("Spec unchanged")
		return nil
	}
	m.spec = spec
	m.publish(events.EventSpecReloaded, "spec reloaded", map[string]string{"change": change.String()})
	m.logger.Info().Str("change", change.String()).Msg("Spec changed")

	if change == types.SpecInstancesChanged {
		m.reconcileLocked(ctx)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.Refresh(ctx)
}

// Refresh fetches every subscription, updates the caches and reconciles.
// Fetches run without holding the lock.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.spec == nil {
		m.mu.Unlock()
		return fmt.Errorf("spec not loaded")
	}
	shared := m.spec.Shared
	m.mu.Unlock()

	results := FetchAll(ctx, m.deps.Fetcher, &shared, m.cfg.FetchConcurrency)
	if err := ctx.Err(); err != nil {
		m.logger.Info().Msg("Refresh cancelled, caches left unchanged")
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	written := ApplyResults(m.deps.Store, results)
	if pruned, err := m.deps.Store.Prune(subscriptionIDs(&m.spec.Shared)); err != nil {
		m.logger.Error().Err(err).Msg("Failed to prune cache")
	} else if pruned > 0 {
		m.logger.Info().Int("pruned", pruned).Msg("Dropped cache entries of removed subscriptions")
	}

	m.publish(events.EventCacheRefreshed, "caches refreshed", map[string]string{
		"updated": fmt.Sprint(written),
		"total":   fmt.Sprint(len(results)),
	})
	m.reconcileLocked(ctx)
	return nil
}

// Reconcile regenerates every instance from the current caches and applies
// the result
func (m *Manager) Reconcile(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked(ctx)
}

// reconcileLocked runs one pass. The pass is not interrupted by ctx: engines
// being stopped get their full grace period and reloads complete.
func (m *Manager) reconcileLocked(ctx context.Context) {
	if m.spec == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	proxies, rules, err := m.deps.Store.Snapshot()
	if err != nil {
		metrics.UpdateComponent("cache", false, err.Error())
		m.logger.Error().Err(err).Msg("Failed to read caches, skipping pass")
		return
	}
	metrics.UpdateComponent("cache", true, "")

	results := generator.Generate(m.spec, proxies, rules, m.cfg.Generator)
	desired := make([]reconciler.Desired, 0, len(results))
	for _, res := range results {
		logger := log.WithInstanceID(res.Instance.ID.String()).With().
			Str("instance", res.Instance.DisplayName()).Logger()
		for _, d := range res.Diagnostics {
			logger.Warn().Msg(d)
		}
		if res.Err != nil {
			metrics.GenerationErrorsTotal.Inc()
		}
		desired = append(desired, reconciler.Desired{
			ID:     res.Instance.ID,
			Name:   res.Instance.DisplayName(),
			Config: res.Config,
			Err:    res.Err,
		})
	}

	previous := m.state
	m.state = m.deps.Reconciler.Reconcile(ctx, desired, previous)
	for id, rec := range previous {
		if _, ok := m.state[id]; ok {
			continue
		}
		delete(m.health, id)
		name := rec.Name
		if name == "" {
			name = id.String()
		}
		metrics.RemoveInstance(name)
	}
	metrics.UpdateComponent("reconciler", true, "")
}

// ReportStatus checks every recorded engine and logs the outcome. It has no
// side effects on the engines.
func (m *Manager) ReportStatus(ctx context.Context) []InstanceStatus {
	m.mu.Lock()
	st := m.state.Clone()
	m.mu.Unlock()

	statuses := CheckInstances(ctx, st, m.deps.Probe)

	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := health.DefaultConfig()
	for i := range statuses {
		s := &statuses[i]
		hs, ok := m.health[s.ID]
		if !ok || !hs.StartedAt.Equal(s.StartedAt) {
			hs = health.NewStatus(s.StartedAt)
			m.health[s.ID] = hs
		}
		hs.Update(s.Result, cfg)
		s.Healthy = hs.Healthy

		metrics.SetInstanceHealth(s.Name, s.Healthy, s.Result.Message)
		ev := m.logger.Info()
		if !s.Healthy {
			ev = m.logger.Warn()
		}
		ev.Str("instance", s.Name).
			Int("pid", s.PID).
			Bool("alive", s.Alive).
			Bool("healthy", s.Healthy).
			Str("detail", s.Result.Message).
			Msg("Instance status")
	}
	return statuses
}

// InstanceStatuses implements metrics.Source
func (m *Manager) InstanceStatuses() []metrics.InstanceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]metrics.InstanceStatus, 0, len(m.state))
	for _, id := range m.state.IDs() {
		rec := m.state[id]
		out = append(out, metrics.InstanceStatus{
			Name:  rec.Name,
			Alive: process.Matches(m.deps.Probe, rec.Process, rec.Process.Executable),
		})
	}
	return out
}

// CacheCounts implements metrics.Source
func (m *Manager) CacheCounts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proxies, rules, err := m.deps.Store.Snapshot()
	if err != nil {
		return 0, 0
	}
	return len(proxies), len(rules)
}

// State returns a copy of the runtime state
func (m *Manager) State() state.RuntimeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// KillAll terminates every recorded engine
func (m *Manager) KillAll(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.deps.Reconciler.KillAll(ctx, m.state)
	m.state = state.RuntimeState{}
	return n
}

// Shutdown saves the state and closes the cache. Engines keep running and are
// adopted by the next daemon.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := state.Save(m.statePath(), m.state); err != nil {
		m.logger.Error().Err(err).Msg("Failed to save runtime state")
	}
	if err := m.deps.Store.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}
	m.logger.Info().Int("instances", len(m.state)).Msg("Manager stopped, engines left running")
	return nil
}

func (m *Manager) publish(t events.EventType, message string, metadata map[string]string) {
	if m.deps.Events != nil {
		m.deps.Events.Publish(events.New(t, message, metadata))
	}
}
