/*
Package reconciler drives the running engine processes toward the generated
configurations.

One pass compares the desired instances against the recorded runtime state:

	removed  recorded but not desired   SIGTERM, wait, SIGKILL after grace,
	                                    delete working dir, drop record
	added    desired but not recorded   write config.yaml, spawn engine, record
	stayed   both                       see below

For a stayed instance:

	engine no longer alive           spawn again
	config unchanged                 nothing
	listeners changed                terminate and spawn
	anything else changed            rewrite config.yaml and reload it through
	                                 the engine's controller

Listeners are the ports, allow-lan, the controller address and the DNS listen
address: everything that needs a socket rebound. A failed reload keeps the old
record, so the next pass sees the difference again and retries.

An instance whose config could not be generated is held. A running engine
keeps its old config and an absent one is not started. No single failure stops
the pass; every failure is logged and counted, and the state file is written at
the end of every pass.

# Recovery

On startup the daemon loads the saved state and passes it through Recover,
which keeps only records whose pid is alive and still runs the recorded
executable. Engines are started in their own process group and survive a
daemon restart, so a recovered record is adopted as is.

# Metrics and events

Each pass observes proxyworld_reconciliation_duration_seconds and increments
proxyworld_reconciliation_cycles_total. Every transition increments
proxyworld_process_transitions_total{action} and publishes an instance.* event
when a Publisher is configured.
*/
package reconciler
