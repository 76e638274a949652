package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/proxyworld/pkg/log"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// ErrNotRunning is returned when signalling a process that no longer exists
var ErrNotRunning = errors.New("process not running")

const (
	// DefaultGracePeriod is how long Terminate waits before SIGKILL
	DefaultGracePeriod = 10 * time.Second
	pollInterval       = 100 * time.Millisecond
)

// Identity is what the daemon persists about a spawned process
type Identity struct {
	PID        int       `json:"pid"`
	Executable string    `json:"executable"`
	StartedAt  time.Time `json:"startedAt"`
}

// Probe inspects the OS process table
type Probe interface {
	// IsAlive reports whether pid refers to a live, non-zombie process
	IsAlive(pid int) bool
	// ExecutablePath returns the executable of a live process
	ExecutablePath(pid int) (string, error)
}

// Matches reports whether the process behind id is alive and still runs an
// executable named like binary. PIDs get reused, so liveness alone is not enough.
func Matches(p Probe, id Identity, binary string) bool {
	if id.PID <= 0 || !p.IsAlive(id.PID) {
		return false
	}
	exe, err := p.ExecutablePath(id.PID)
	if err != nil {
		return false
	}
	return SameExecutable(exe, binary)
}

// SameExecutable compares executable names, ignoring directories and the
// " (deleted)" marker Linux appends after a binary is replaced on disk
func SameExecutable(a, b string) bool {
	a = strings.TrimSuffix(a, " (deleted)")
	b = strings.TrimSuffix(b, " (deleted)")
	return a != "" && filepath.Base(a) == filepath.Base(b)
}

// ResolveBinary finds binary in PATH and resolves symlinks, giving the path
// the OS reports for a running process
func ResolveBinary(binary string) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("engine binary not found: %w", err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}
	return path, nil
}

// SpawnSpec describes one engine launch
type SpawnSpec struct {
	Binary  string
	Args    []string
	Dir     string
	LogFile string
}

// Supervisor starts engine processes in their own process group and stops
// them with SIGTERM followed by SIGKILL after a grace period. Children it
// started itself are reaped by a waiter goroutine; processes adopted from a
// previous daemon run are watched through the Probe.
type Supervisor struct {
	probe  Probe
	grace  time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	exited map[int]chan struct{}
}

// NewSupervisor creates a supervisor using probe for liveness checks
func NewSupervisor(probe Probe, grace time.Duration) *Supervisor {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Supervisor{
		probe:  probe,
		grace:  grace,
		logger: log.WithComponent("supervisor"),
		exited: make(map[int]chan struct{}),
	}
}

// Spawn starts spec.Binary and returns its identity once the process exists
func (s *Supervisor) Spawn(spec SpawnSpec) (Identity, error) {
	path, err := ResolveBinary(spec.Binary)
	if err != nil {
		return Identity{}, err
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = detachedAttr()

	if spec.LogFile != "" {
		f, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return Identity{}, fmt.Errorf("failed to open engine log: %w", err)
		}
		// the child keeps its own descriptor
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return Identity{}, fmt.Errorf("failed to start engine: %w", err)
	}

	pid := cmd.Process.Pid
	done := make(chan struct{})
	s.mu.Lock()
	s.exited[pid] = done
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.logger.Debug().Int("pid", pid).Err(err).Msg("Engine process exited")
		s.mu.Lock()
		delete(s.exited, pid)
		s.mu.Unlock()
		close(done)
	}()

	return Identity{PID: pid, Executable: path, StartedAt: time.Now().UTC()}, nil
}

// Terminate sends SIGTERM to the process group of id and waits for the
// process to exit, escalating to SIGKILL after the grace period. A done ctx
// cuts the grace period short; callers that must not kill early pass a
// context without cancellation.
func (s *Supervisor) Terminate(ctx context.Context, id Identity) error {
	if id.PID <= 0 || !s.probe.IsAlive(id.PID) {
		return ErrNotRunning
	}

	if err := signalGroup(id.PID, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrNotRunning
		}
		return fmt.Errorf("failed to send SIGTERM to %d: %w", id.PID, err)
	}

	if s.waitExit(ctx, id.PID, s.grace) {
		return nil
	}

	s.logger.Warn().Int("pid", id.PID).Dur("grace", s.grace).Msg("Engine ignored SIGTERM, killing")
	if err := signalGroup(id.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to send SIGKILL to %d: %w", id.PID, err)
	}
	if !s.waitExit(context.Background(), id.PID, s.grace) {
		return fmt.Errorf("process %d still alive after SIGKILL", id.PID)
	}
	return nil
}

// waitExit blocks until pid is gone, the timeout elapses or ctx is done
func (s *Supervisor) waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	s.mu.Lock()
	done, own := s.exited[pid]
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if own {
		select {
		case <-done:
			return true
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if !s.probe.IsAlive(pid) {
			return true
		}
		select {
		case <-ticker.C:
		case <-timer.C:
			return !s.probe.IsAlive(pid)
		case <-ctx.Done():
			return false
		}
	}
}

// signalGroup signals the process group led by pid, falling back to the
// process itself when it is not a group leader
func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}
