/*
Package health checks running engines and generated configs.

Three checkers implement Checker:

	HTTPChecker  GET on the engine's external controller (/version)
	TCPChecker   connect to a proxy listener
	ExecChecker  run a command, used for "<engine> -t -f <config>"

MultiChecker combines them. The status report runs one MultiChecker per
instance and folds the results into a Status, which only turns unhealthy after
Config.Retries consecutive failures outside the start period:

	status := health.NewStatus(record.Process.StartedAt)
	checker := health.NewMultiChecker(
		health.NewControllerChecker(cfg.ControllerURL()),
		health.NewTCPChecker("127.0.0.1:7890"),
	)
	status.Update(checker.Check(ctx), health.DefaultConfig())
*/
package health
