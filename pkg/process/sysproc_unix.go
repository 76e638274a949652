//go:build unix

package process

import "syscall"

// detachedAttr puts the engine in its own process group so terminal signals
// aimed at the daemon do not reach it
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
