/*
Package metrics provides Prometheus metrics and health endpoints for the
proxyworld daemon.

All collectors are registered on the default registry at package init and
served by promhttp on /metrics.

# Metrics

Instances:

	proxyworld_instances_running                 gauge
	proxyworld_instance_up{instance}             gauge, 1 alive / 0 not running

Reconciliation:

	proxyworld_reconciliation_duration_seconds   histogram
	proxyworld_reconciliation_cycles_total       counter
	proxyworld_process_transitions_total{action} counter, action is
	                                             spawn|terminate|restart|reload|failed
	proxyworld_generation_errors_total           counter

Caches:

	proxyworld_fetch_total{kind,result}          counter, kind is proxies|rules
	proxyworld_fetch_duration_seconds{kind}      histogram
	proxyworld_cache_entries{kind}               gauge

The per-instance and cache gauges are refreshed by a Collector every 15
seconds from a Source (the manager). Counters and histograms are updated
inline by the reconciler and the manager.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

# Health

Components report their state with RegisterComponent / UpdateComponent. The
daemon registers "spec", "cache" and "reconciler"; readiness requires all three
to be healthy, which happens after the first reconciliation pass. Instances are
tracked apart through SetInstanceHealth and RemoveInstance: an engine that is
down degrades the daemon without failing it.

	GET /health  200 healthy or degraded, 503 when a component is unhealthy
	GET /ready   200 ready, 503 until the critical components are healthy
	GET /live    200 while the process runs

NewMux wires all four endpoints for the --metrics-addr listener.
*/
package metrics
