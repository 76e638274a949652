/*
Package events distributes daemon events to in-process subscribers.

The reconciler publishes one event per process transition and the manager
publishes cache and spec events:

	instance.spawned       engine started for a new instance
	instance.terminated    engine stopped for a removed instance
	instance.restarted     listeners changed, engine stopped and started again
	instance.reloaded      config rewritten and reloaded through the controller
	instance.spawn_failed  engine could not be started
	cache.refreshed        subscriptions fetched
	spec.reloaded          spec file re-read with changes

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			logger.Info().Str("type", string(ev.Type)).Msg(ev.Message)
		}
	}()

Each subscriber has a 50 event buffer and the broker queue holds 100. Events
are dropped rather than blocking the publisher when either is full.
*/
package events
