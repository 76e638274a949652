package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/cuemby/proxyworld/pkg/lockfile"
	"github.com/cuemby/proxyworld/pkg/manager"
	"github.com/cuemby/proxyworld/pkg/process"
	"github.com/cuemby/proxyworld/pkg/state"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engines recorded in the data directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		engine, _ := cmd.Flags().GetString("engine-binary")

		st, err := state.Load(filepath.Join(dataDir, state.FileName))
		if err != nil {
			return err
		}
		withDefaultExecutable(st, engine)

		if pid, ok := lockfile.Holder(dataDir); ok && process.NewProbe().IsAlive(pid) {
			fmt.Printf("Daemon: running (pid %d)\n", pid)
		} else {
			fmt.Println("Daemon: not running")
		}

		statuses := manager.CheckInstances(cmd.Context(), st, process.NewProbe())
		if len(statuses) == 0 {
			fmt.Println("No instances recorded")
			return nil
		}
		printStatuses(os.Stdout, statuses)
		return nil
	},
}

func init() {
	statusCmd.Flags().String("data-dir", defaultDataDir(), "Data directory of the daemon")
	statusCmd.Flags().String("engine-binary", defaultEngineBinary, "Engine binary assumed for records without one")
}

// withDefaultExecutable fills records written before the executable was tracked
func withDefaultExecutable(st state.RuntimeState, engine string) {
	for id, rec := range st {
		if rec.Process.Executable == "" {
			rec.Process.Executable = engine
			st[id] = rec
		}
	}
}

func printStatuses(w io.Writer, statuses []manager.InstanceStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tPID\tSTATUS\tCONTROLLER\tVERSION\tUPTIME\tMESSAGE")
	for _, s := range statuses {
		status := "healthy"
		switch {
		case !s.Alive:
			status = "dead"
		case !s.Healthy:
			status = "unhealthy"
		}
		uptime := "-"
		if s.Alive && !s.StartedAt.IsZero() {
			uptime = time.Since(s.StartedAt).Truncate(time.Second).String()
		}
		controller := s.Controller
		if controller == "" {
			controller = "-"
		}
		version := s.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			s.Name, s.ID.String()[:8], s.PID, status, controller, version, uptime, s.Result.Message)
	}
	tw.Flush()
}
