package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/proxyworld/pkg/log"
	"github.com/cuemby/proxyworld/pkg/manager"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits for writes to settle
const DefaultDebounce = time.Second

// Target is what the scheduler drives, normally a *manager.Manager
type Target interface {
	ReloadSpec(ctx context.Context) error
	Refresh(ctx context.Context) error
	ReportStatus(ctx context.Context) []manager.InstanceStatus
}

// Config selects which timers run. A zero interval disables its timer.
type Config struct {
	ReloadInterval  time.Duration
	RefreshInterval time.Duration
	StatusInterval  time.Duration

	// RefreshOnStart runs one refresh right after Start
	RefreshOnStart bool

	// WatchPath, when set, triggers a reload whenever the file changes
	WatchPath string
	Debounce  time.Duration
}

// Scheduler runs reload, refresh and status jobs on independent timers
type Scheduler struct {
	cfg    Config
	target Target
	logger zerolog.Logger

	reloadCh chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg Config, target Target) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Scheduler{
		cfg:      cfg,
		target:   target,
		logger:   log.WithComponent("scheduler"),
		reloadCh: make(chan struct{}, 1),
	}
}

// Start launches the enabled timers and the file watcher
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.cfg.WatchPath != "" {
		watcher, err := s.newWatcher()
		if err != nil {
			cancel()
			return err
		}
		s.wg.Add(1)
		go s.watch(ctx, watcher)
	}

	if s.cfg.ReloadInterval > 0 || s.cfg.WatchPath != "" {
		s.wg.Add(1)
		go s.runReload(ctx)
	}
	if s.cfg.RefreshInterval > 0 || s.cfg.RefreshOnStart {
		s.wg.Add(1)
		go s.runRefresh(ctx)
	}
	if s.cfg.StatusInterval > 0 {
		s.wg.Add(1)
		go s.loop(ctx, s.cfg.StatusInterval, func(ctx context.Context) {
			s.target.ReportStatus(ctx)
		})
	}

	s.logger.Info().
		Dur("reload", s.cfg.ReloadInterval).
		Dur("refresh", s.cfg.RefreshInterval).
		Dur("status", s.cfg.StatusInterval).
		Str("watch", s.cfg.WatchPath).
		Msg("Scheduler started")
	return nil
}

// Stop cancels the timers and waits for a running job to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// TriggerReload requests a spec reload without waiting for it
func (s *Scheduler) TriggerReload() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, job func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			job(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	if s.cfg.RefreshOnStart {
		s.refresh(ctx)
	}
	if s.cfg.RefreshInterval <= 0 {
		s.wg.Done()
		return
	}
	s.loop(ctx, s.cfg.RefreshInterval, s.refresh)
}

func (s *Scheduler) refresh(ctx context.Context) {
	if err := s.target.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("Refresh failed")
	}
}

func (s *Scheduler) runReload(ctx context.Context) {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.cfg.ReloadInterval > 0 {
		ticker := time.NewTicker(s.cfg.ReloadInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
		case <-s.reloadCh:
		case <-ctx.Done():
			return
		}
		// ReloadSpec logs its own failures
		_ = s.target.ReloadSpec(ctx)
	}
}

// newWatcher watches the directory of the spec file so that editors which
// replace the file through a rename are noticed too
func (s *Scheduler) newWatcher() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.cfg.WatchPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.cfg.WatchPath, err)
	}
	return watcher, nil
}

func (s *Scheduler) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer s.wg.Done()
	defer watcher.Close()

	target := filepath.Clean(s.cfg.WatchPath)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug().Str("op", ev.Op.String()).Msg("Spec file changed")
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(s.cfg.Debounce, s.TriggerReload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("File watcher error")
		case <-ctx.Done():
			return
		}
	}
}
