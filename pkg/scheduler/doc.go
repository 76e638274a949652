/*
Package scheduler runs the daemon's periodic jobs.

Three independent timers, each disabled by a zero interval:

	reload   re-read the spec file; shared data changes refresh the caches,
	         instance changes only reconcile
	refresh  fetch every subscription, then reconcile
	status   check every engine and log the outcome, no side effects

With WatchPath set, an fsnotify watcher on the spec file's directory triggers
a reload after writes to the file settle for Debounce (1s by default). Jobs of
the same kind never overlap; jobs of different kinds are serialized by the
manager's lock.

	s := scheduler.NewScheduler(scheduler.Config{
		RefreshInterval: 10 * time.Minute,
		RefreshOnStart:  true,
		WatchPath:       specPath,
	}, mgr)
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()
*/
package scheduler
