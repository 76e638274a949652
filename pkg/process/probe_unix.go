//go:build unix && !linux

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

type psProbe struct{}

// NewProbe returns a probe backed by kill(2) and ps(1)
func NewProbe() Probe {
	return psProbe{}
}

func (psProbe) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

func (psProbe) ExecutablePath(pid int) (string, error) {
	out, err := exec.Command("ps", "-o", "comm=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable of %d: %w", pid, err)
	}
	exe := strings.TrimSpace(string(out))
	if exe == "" {
		return "", fmt.Errorf("no process %d", pid)
	}
	return exe, nil
}
