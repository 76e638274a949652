/*
Package log provides structured logging for proxyworld using zerolog.

A single global Logger is configured once by Init from the --log-level and
--log-json flags. Until Init runs the logger discards everything, so library
packages and tests can log freely.

Components take child loggers instead of writing to the global directly:

	logger := log.WithComponent("reconciler")
	logger.Info().Str("instance_id", id).Msg("Spawned engine")

The console writer is the default and prints RFC3339 timestamps. JSON output
is meant for running the daemon under a supervisor that collects logs.

Log output goes to stderr, leaving stdout for command results such as the
status table.
*/
package log
