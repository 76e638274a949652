//go:build linux

package process

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

type procProbe struct {
	root string
}

// NewProbe returns the /proc based probe
func NewProbe() Probe {
	return &procProbe{root: "/proc"}
}

func (p *procProbe) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil && err != unix.EPERM {
		return false
	}
	return !p.zombie(pid)
}

// zombie reads the state field of /proc/<pid>/stat; the command name before it
// may contain spaces, so parsing starts after the last ')'
func (p *procProbe) zombie(pid int) bool {
	data, err := os.ReadFile(p.root + "/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 >= len(data) {
		return false
	}
	return data[i+2] == 'Z'
}

func (p *procProbe) ExecutablePath(pid int) (string, error) {
	exe, err := os.Readlink(p.root + "/" + strconv.Itoa(pid) + "/exe")
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable of %d: %w", pid, err)
	}
	return exe, nil
}
