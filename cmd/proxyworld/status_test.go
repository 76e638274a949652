package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/cuemby/proxyworld/pkg/health"
	"github.com/cuemby/proxyworld/pkg/manager"
	"github.com/cuemby/proxyworld/pkg/process"
	"github.com/cuemby/proxyworld/pkg/state"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestWithDefaultExecutable(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	st := state.RuntimeState{
		a: {Name: "a", Process: process.Identity{PID: 10}},
		b: {Name: "b", Process: process.Identity{PID: 11, Executable: "/usr/bin/mihomo"}},
	}
	withDefaultExecutable(st, "clash")

	assert.Equal(t, "clash", st[a].Process.Executable)
	assert.Equal(t, "/usr/bin/mihomo", st[b].Process.Executable)
}

func TestPrintStatuses(t *testing.T) {
	var buf bytes.Buffer
	printStatuses(&buf, []manager.InstanceStatus{
		{
			ID:         uuid.MustParse("6f1c2a7e-3b8d-4c52-9a1e-0d4b5c6e7f80"),
			Name:       "home",
			PID:        4242,
			StartedAt:  time.Now().Add(-time.Minute),
			Controller: "http://127.0.0.1:9090",
			Version:    "v1.18.10",
			Alive:      true,
			Healthy:    true,
			Result:     health.Result{Healthy: true, Message: "ok"},
		},
		{
			ID:     uuid.MustParse("8a2d3b4c-5e6f-4a7b-8c9d-0e1f2a3b4c5d"),
			Name:   "office",
			PID:    4343,
			Result: health.Result{Message: "process 4343 is not running"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "home")
	assert.Contains(t, out, "6f1c2a7e")
	assert.Contains(t, out, "healthy")
	assert.Contains(t, out, "http://127.0.0.1:9090")
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "v1.18.10")
	assert.Contains(t, out, "office")
	assert.Contains(t, out, "dead")
	assert.Contains(t, out, "process 4343 is not running")
}
