package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// maxOutput bounds how much command output ends up in a result message
const maxOutput = 512

// ExecChecker runs a command and is healthy when it exits with status 0. The
// generate command uses it to run the engine's config test mode.
type ExecChecker struct {
	// Command is the command to execute (e.g., ["clash", "-t", "-f", "home.yaml"])
	Command []string

	// Dir is the working directory of the command
	Dir string

	// Timeout is the command execution timeout (default: 30 seconds)
	Timeout time.Duration
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 30 * time.Second,
	}
}

// NewConfigTestChecker checks a config file with the engine's test mode
func NewConfigTestChecker(engine, configPath string) *ExecChecker {
	return NewExecChecker([]string{engine, "-t", "-f", configPath})
}

// Check performs the exec health check
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.Command[0], e.Command[1:]...)
	cmd.Dir = e.Dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()

	message := strings.Join(e.Command, " ")
	if out := truncate(strings.TrimSpace(output.String())); out != "" {
		message = fmt.Sprintf("%s: %s", message, out)
	}
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s (%v)", message, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func truncate(s string) string {
	if len(s) > maxOutput {
		return s[:maxOutput] + "..."
	}
	return s
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithDir sets the working directory
func (e *ExecChecker) WithDir(dir string) *ExecChecker {
	e.Dir = dir
	return e
}
