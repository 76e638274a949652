package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/proxyworld/pkg/events"
	"github.com/cuemby/proxyworld/pkg/log"
	"github.com/cuemby/proxyworld/pkg/metrics"
	"github.com/cuemby/proxyworld/pkg/process"
	"github.com/cuemby/proxyworld/pkg/render"
	"github.com/cuemby/proxyworld/pkg/state"
	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Desired is the generated configuration of one instance. When Err is set the
// instance is held: a running engine keeps its old config and an absent one
// is not started.
type Desired struct {
	ID     uuid.UUID
	Name   string
	Config *types.EngineConfig
	Err    error
}

// Supervisor starts and stops engine processes
type Supervisor interface {
	Spawn(spec process.SpawnSpec) (process.Identity, error)
	Terminate(ctx context.Context, id process.Identity) error
}

// Workdir manages instance working directories
type Workdir interface {
	Path(id uuid.UUID) string
	ConfigPath(id uuid.UUID) string
	LogPath(id uuid.UUID) string
	Prepare(id uuid.UUID, config []byte) error
	WriteConfig(id uuid.UUID, config []byte) error
	Remove(id uuid.UUID) error
}

// Reloader applies a rewritten config file to a running engine
type Reloader interface {
	Reload(ctx context.Context, controllerURL, configPath string) error
}

// Config configures a Reconciler
type Config struct {
	// EngineBinary is the engine executable, looked up in PATH
	EngineBinary string

	// StatePath is where the runtime state is saved after every pass. Empty
	// disables persistence.
	StatePath string
}

// Reconciler drives the set of running engines toward the desired set
type Reconciler struct {
	cfg        Config
	supervisor Supervisor
	probe      process.Probe
	workdir    Workdir
	reloader   Reloader
	events     events.Publisher
	logger     zerolog.Logger
}

// New creates a reconciler. probe may be nil, in which case engines that died
// on their own are not noticed until their config changes.
func New(cfg Config, sup Supervisor, probe process.Probe, wd Workdir, rl Reloader, pub events.Publisher) *Reconciler {
	return &Reconciler{
		cfg:        cfg,
		supervisor: sup,
		probe:      probe,
		workdir:    wd,
		reloader:   rl,
		events:     pub,
		logger:     log.WithComponent("reconciler"),
	}
}

// Reconcile performs one pass and returns the new runtime state. Failures are
// per instance: they are logged and reported, and never abort the pass. A
// pass runs to completion even when ctx is cancelled, so engines always get
// their full grace period.
func (r *Reconciler) Reconcile(ctx context.Context, desired []Desired, actual state.RuntimeState) state.RuntimeState {
	ctx = context.WithoutCancel(ctx)
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	next := actual.Clone()
	wanted := make(map[uuid.UUID]bool, len(desired))
	for _, d := range desired {
		wanted[d.ID] = true
	}

	for _, id := range actual.IDs() {
		if wanted[id] {
			continue
		}
		r.remove(ctx, id, actual[id])
		delete(next, id)
	}

	for _, d := range desired {
		rec, running := actual[d.ID]
		switch {
		case d.Err != nil:
			logger := r.instanceLogger(d)
			logger.Warn().Err(d.Err).Bool("running", running).
				Msg("Config generation failed, holding instance")
		case !running:
			if rec, ok := r.add(d); ok {
				next[d.ID] = rec
			}
		default:
			if rec, ok := r.update(ctx, d, rec); ok {
				next[d.ID] = rec
			} else {
				delete(next, d.ID)
			}
		}
	}

	if r.cfg.StatePath != "" {
		if err := state.Save(r.cfg.StatePath, next); err != nil {
			r.logger.Error().Err(err).Msg("Failed to save runtime state")
		}
	}
	return next
}

func (r *Reconciler) instanceLogger(d Desired) zerolog.Logger {
	return r.logger.With().
		Str("instance_id", d.ID.String()).
		Str("instance", d.Name).
		Logger()
}

func (r *Reconciler) publish(t events.EventType, id uuid.UUID, name, message string) {
	if r.events == nil {
		return
	}
	r.events.Publish(events.New(t, message, map[string]string{
		"instance_id": id.String(),
		"instance":    name,
	}))
}

// remove stops a recorded engine and deletes its directory. The record is
// dropped even when the signal fails.
func (r *Reconciler) remove(ctx context.Context, id uuid.UUID, rec state.InstanceRecord) {
	logger := r.logger.With().Str("instance_id", id.String()).Str("instance", rec.Name).Logger()

	if err := r.supervisor.Terminate(ctx, rec.Process); err != nil && !errors.Is(err, process.ErrNotRunning) {
		logger.Error().Err(err).Int("pid", rec.Process.PID).Msg("Failed to stop engine")
	}
	if err := r.workdir.Remove(id); err != nil {
		logger.Error().Err(err).Msg("Failed to remove working directory")
	}

	metrics.ProcessTransitionsTotal.WithLabelValues(metrics.ActionTerminate).Inc()
	r.publish(events.EventInstanceTerminated, id, rec.Name, "instance removed")
	logger.Info().Int("pid", rec.Process.PID).Msg("Instance stopped")
}

// add prepares the working directory and starts a new engine
func (r *Reconciler) add(d Desired) (state.InstanceRecord, bool) {
	logger := r.instanceLogger(d)

	rec, err := r.start(d)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start instance")
		metrics.ProcessTransitionsTotal.WithLabelValues(metrics.ActionFailed).Inc()
		r.publish(events.EventInstanceSpawnFailed, d.ID, d.Name, err.Error())
		return state.InstanceRecord{}, false
	}

	metrics.ProcessTransitionsTotal.WithLabelValues(metrics.ActionSpawn).Inc()
	r.publish(events.EventInstanceSpawned, d.ID, d.Name, fmt.Sprintf("engine started with pid %d", rec.Process.PID))
	logger.Info().Int("pid", rec.Process.PID).Msg("Instance started")
	return rec, true
}

func (r *Reconciler) start(d Desired) (state.InstanceRecord, error) {
	data, err := render.Render(d.Config)
	if err != nil {
		return state.InstanceRecord{}, err
	}
	if err := r.workdir.Prepare(d.ID, data); err != nil {
		return state.InstanceRecord{}, err
	}

	id, err := r.supervisor.Spawn(process.SpawnSpec{
		Binary:  r.cfg.EngineBinary,
		Args:    []string{"-d", r.workdir.Path(d.ID), "-f", r.workdir.ConfigPath(d.ID)},
		Dir:     r.workdir.Path(d.ID),
		LogFile: r.workdir.LogPath(d.ID),
	})
	if err != nil {
		return state.InstanceRecord{}, err
	}

	return state.InstanceRecord{
		Name:      d.Name,
		Process:   id,
		Config:    d.Config,
		AppliedAt: time.Now().UTC(),
	}, nil
}

// update brings a running instance to its desired config. The returned bool
// is false when the instance no longer has a live engine.
func (r *Reconciler) update(ctx context.Context, d Desired, rec state.InstanceRecord) (state.InstanceRecord, bool) {
	logger := r.instanceLogger(d)

	exe := rec.Process.Executable
	if exe == "" {
		exe = r.cfg.EngineBinary
	}
	if r.probe != nil && !process.Matches(r.probe, rec.Process, exe) {
		logger.Warn().Int("pid", rec.Process.PID).Msg("Engine is no longer running, starting it again")
		return r.restart(d, "engine exited")
	}

	if rec.Config.Equal(d.Config) {
		rec.Name = d.Name
		return rec, true
	}

	if rec.Config == nil || rec.Config.Listeners() != d.Config.Listeners() {
		if err := r.supervisor.Terminate(ctx, rec.Process); err != nil && !errors.Is(err, process.ErrNotRunning) {
			logger.Error().Err(err).Int("pid", rec.Process.PID).Msg("Failed to stop engine for restart, will retry")
			return rec, true
		}
		return r.restart(d, "listeners changed")
	}

	if err := r.reload(ctx, d); err != nil {
		logger.Error().Err(err).Msg("Failed to reload engine config, will retry")
		metrics.ProcessTransitionsTotal.WithLabelValues(metrics.ActionFailed).Inc()
		return rec, true
	}

	metrics.ProcessTransitionsTotal.WithLabelValues(metrics.ActionReload).Inc()
	r.publish(events.EventInstanceReloaded, d.ID, d.Name, "config reloaded")
	logger.Info().Int("pid", rec.Process.PID).Msg("Instance config reloaded")

	rec.Name = d.Name
	rec.Config = d.Config
	rec.AppliedAt = time.Now().UTC()
	return rec, true
}

// restart starts a fresh engine for an instance whose old one is gone
func (r *Reconciler) restart(d Desired, reason string) (state.InstanceRecord, bool) {
	logger := r.instanceLogger(d)

	rec, err := r.start(d)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to restart instance")
		metrics.ProcessTransitionsTotal.WithLabelValues(metrics.ActionFailed).Inc()
		r.publish(events.EventInstanceSpawnFailed, d.ID, d.Name, err.Error())
		return state.InstanceRecord{}, false
	}

	metrics.ProcessTransitionsTotal.WithLabelValues(metrics.ActionRestart).Inc()
	r.publish(events.EventInstanceRestarted, d.ID, d.Name, reason)
	logger.Info().Int("pid", rec.Process.PID).Str("reason", reason).Msg("Instance restarted")
	return rec, true
}

func (r *Reconciler) reload(ctx context.Context, d Desired) error {
	data, err := render.Render(d.Config)
	if err != nil {
		return err
	}
	if err := r.workdir.WriteConfig(d.ID, data); err != nil {
		return err
	}
	if r.reloader == nil {
		return errors.New("no controller client configured")
	}
	base, err := d.Config.ControllerURL()
	if err != nil {
		return err
	}
	return r.reloader.Reload(ctx, base, r.workdir.ConfigPath(d.ID))
}

// Recover drops records whose process is gone or now runs a different
// executable. It runs once on startup, before the first pass. Kept records
// always carry the executable they were matched against.
func Recover(st state.RuntimeState, probe process.Probe, binary string) state.RuntimeState {
	logger := log.WithComponent("reconciler")
	out := make(state.RuntimeState, len(st))
	for _, id := range st.IDs() {
		rec := st[id]
		exe := rec.Process.Executable
		if exe == "" {
			exe = binary
		}
		if !process.Matches(probe, rec.Process, exe) {
			logger.Info().
				Str("instance_id", id.String()).
				Int("pid", rec.Process.PID).
				Msg("Recorded engine is not running, forgetting it")
			continue
		}
		rec.Process.Executable = exe
		out[id] = rec
	}
	return out
}

// KillAll terminates every recorded engine and returns how many were stopped
func (r *Reconciler) KillAll(ctx context.Context, st state.RuntimeState) int {
	stopped := 0
	for _, id := range st.IDs() {
		rec := st[id]
		err := r.supervisor.Terminate(ctx, rec.Process)
		switch {
		case err == nil:
			stopped++
			metrics.ProcessTransitionsTotal.WithLabelValues(metrics.ActionTerminate).Inc()
			r.publish(events.EventInstanceTerminated, id, rec.Name, "killed")
		case errors.Is(err, process.ErrNotRunning):
		default:
			r.logger.Error().Err(err).Str("instance_id", id.String()).Int("pid", rec.Process.PID).Msg("Failed to stop engine")
		}
	}
	if r.cfg.StatePath != "" {
		if err := state.Save(r.cfg.StatePath, state.RuntimeState{}); err != nil {
			r.logger.Error().Err(err).Msg("Failed to save runtime state")
		}
	}
	return stopped
}
