/*
Package manager owns the daemon's state: the loaded spec, the subscription
caches and the runtime record of running engines.

# Concurrency

All mutation happens under one mutex. Network fetches are the only slow work
done outside it: Refresh copies the shared data, releases the lock, fetches
every subscription with bounded parallelism (errgroup, FetchConcurrency at a
time) and takes the lock again to write the results and reconcile. A pass is
never cancelled midway.

# Lifecycle

	mgr, err := manager.NewManager(cfg, broker)
	if err := mgr.Start(ctx); err != nil { ... }   // spec, state, warm pass
	sched := scheduler.NewScheduler(schedCfg, mgr) // reload, refresh, status
	...
	mgr.Shutdown()                                 // save state, engines keep running

Start loads the spec (fatal when invalid), loads the saved runtime state,
forgets records whose engine is gone and reconciles from whatever the cache
already holds, so a restarted daemon adopts its engines without waiting on
the network.

# Failure handling

A failed fetch keeps the previous cache entry. A failed generation holds the
instance. A spec that becomes invalid on reload is ignored and the previous one
stays in effect. Cache entries of subscriptions no longer in the spec are
pruned after each refresh.
*/
package manager
