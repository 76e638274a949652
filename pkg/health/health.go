package health

import (
	"context"
	"strings"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP  CheckType = "http"
	CheckTypeTCP   CheckType = "tcp"
	CheckTypeExec  CheckType = "exec"
	CheckTypeMulti CheckType = "multi"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config controls how check results turn into an instance health state
type Config struct {
	// Timeout is the maximum time to wait for one check
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int

	// StartPeriod is the grace period after the engine was spawned during which
	// failures are not counted
	StartPeriod time.Duration
}

// DefaultConfig returns the defaults used by the status report
func DefaultConfig() Config {
	return Config{
		Timeout:     5 * time.Second,
		Retries:     3,
		StartPeriod: 10 * time.Second,
	}
}

// Status tracks the health of one engine across status reports
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool

	// StartedAt is when the engine process started
	StartedAt time.Time
}

// NewStatus creates a Status for an engine started at startedAt
func NewStatus(startedAt time.Time) *Status {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return &Status{
		Healthy:   true,
		StartedAt: startedAt,
	}
}

// Update folds a new result into the status
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveSuccesses = 0
	if s.InStartPeriod(config) {
		return
	}
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// InStartPeriod returns true if we're still in the startup grace period
func (s *Status) InStartPeriod(config Config) bool {
	if config.StartPeriod == 0 {
		return false
	}
	return time.Since(s.StartedAt) < config.StartPeriod
}

// MultiChecker is healthy when every wrapped checker is healthy
type MultiChecker struct {
	Checkers []Checker
}

// NewMultiChecker combines checkers into one
func NewMultiChecker(checkers ...Checker) *MultiChecker {
	return &MultiChecker{Checkers: checkers}
}

// Check runs every checker in order and joins the failure messages
func (m *MultiChecker) Check(ctx context.Context) Result {
	start := time.Now()
	var failures []string
	for _, c := range m.Checkers {
		r := c.Check(ctx)
		if !r.Healthy {
			failures = append(failures, string(c.Type())+": "+r.Message)
		}
	}

	if len(failures) > 0 {
		return Result{
			Healthy:   false,
			Message:   strings.Join(failures, "; "),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	return Result{
		Healthy:   true,
		Message:   "all checks passed",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (m *MultiChecker) Type() CheckType {
	return CheckTypeMulti
}
