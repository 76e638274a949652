/*
Package process spawns, signals and probes routing engine processes.

Engines are started in their own process group with stdout and stderr
appended to a log file in the instance directory. They are not tied to the
daemon's lifetime: stopping the daemon leaves them running, and the next
daemon run adopts them from the persisted Identity.

# Identity and probing

An Identity records the PID and resolved executable path of a spawned engine.
Before an adopted identity is trusted, Matches confirms the PID is alive and
still runs an executable with the engine's name, since PIDs are reused.

Probe has one backend per platform:

	linux        kill(pid, 0), /proc/<pid>/stat for zombies, /proc/<pid>/exe
	other unix   kill(pid, 0) and ps -o comm=

# Termination

Terminate sends SIGTERM to the engine's process group and waits up to the
grace period, then sends SIGKILL. Exit of a child started by this Supervisor
is observed through its waiter goroutine; adopted processes are polled.
*/
package process
