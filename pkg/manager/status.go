package manager

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cuemby/proxyworld/pkg/controller"
	"github.com/cuemby/proxyworld/pkg/health"
	"github.com/cuemby/proxyworld/pkg/process"
	"github.com/cuemby/proxyworld/pkg/state"
	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/google/uuid"
)

// InstanceStatus is the observed state of one recorded engine
type InstanceStatus struct {
	ID         uuid.UUID
	Name       string
	PID        int
	StartedAt  time.Time
	AppliedAt  time.Time
	Controller string
	// Version is reported by the controller of a healthy engine
	Version string
	Alive   bool
	// Healthy folds consecutive results; for a one-off check it equals Result.Healthy
	Healthy bool
	Result  health.Result
}

// CheckInstances probes every record of st: the process must be alive and
// run the recorded executable, the controller must answer and the proxy
// listeners must accept connections.
func CheckInstances(ctx context.Context, st state.RuntimeState, probe process.Probe) []InstanceStatus {
	out := make([]InstanceStatus, 0, len(st))
	for _, id := range st.IDs() {
		rec := st[id]
		s := InstanceStatus{
			ID:        id,
			Name:      rec.Name,
			PID:       rec.Process.PID,
			StartedAt: rec.Process.StartedAt,
			AppliedAt: rec.AppliedAt,
			Alive:     process.Matches(probe, rec.Process, rec.Process.Executable),
		}
		if s.Name == "" {
			s.Name = id.String()
		}

		switch {
		case !s.Alive:
			s.Result = health.Result{
				Healthy:   false,
				Message:   fmt.Sprintf("process %d is not running", rec.Process.PID),
				CheckedAt: time.Now(),
			}
		case rec.Config == nil:
			s.Result = health.Result{Healthy: true, Message: "no config recorded", CheckedAt: time.Now()}
		default:
			checker := instanceChecker(rec.Config)
			if base, err := rec.Config.ControllerURL(); err == nil {
				s.Controller = base
			}
			s.Result = checker.Check(ctx)
			if s.Result.Healthy && s.Controller != "" {
				s.Version = engineVersion(ctx, s.Controller)
			}
		}
		s.Healthy = s.Result.Healthy
		out = append(out, s)
	}
	return out
}

func engineVersion(ctx context.Context, base string) string {
	v, err := controller.New(health.DefaultConfig().Timeout).Version(ctx, base)
	if err != nil {
		return ""
	}
	return v
}

func instanceChecker(cfg *types.EngineConfig) health.Checker {
	timeout := health.DefaultConfig().Timeout
	var checkers []health.Checker
	if base, err := cfg.ControllerURL(); err == nil {
		checkers = append(checkers, health.NewControllerChecker(base).WithTimeout(timeout))
	}
	for _, port := range []int{cfg.MixedPort, cfg.Port, cfg.SocksPort} {
		if port > 0 {
			addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
			checkers = append(checkers, health.NewTCPChecker(addr).WithTimeout(timeout))
		}
	}
	return health.NewMultiChecker(checkers...)
}
