package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cuemby/proxyworld/pkg/lockfile"
	"github.com/cuemby/proxyworld/pkg/process"
	"github.com/cuemby/proxyworld/pkg/reconciler"
	"github.com/cuemby/proxyworld/pkg/state"
	"github.com/cuemby/proxyworld/pkg/workdir"
	"github.com/spf13/cobra"
)

var killAllCmd = &cobra.Command{
	Use:   "kill-all",
	Short: "Stop every engine recorded in the data directory",
	Long: `kill-all terminates the engines a previous daemon left running and
clears the runtime state. It refuses to run while a daemon holds the
data directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		engine, _ := cmd.Flags().GetString("engine-binary")

		lock, err := lockfile.Acquire(dataDir)
		if err != nil {
			if errors.Is(err, lockfile.ErrLocked) {
				return fmt.Errorf("%w: stop the daemon first", err)
			}
			return err
		}
		defer lock.Release()

		statePath := filepath.Join(dataDir, state.FileName)
		st, err := state.Load(statePath)
		if err != nil {
			return err
		}
		withDefaultExecutable(st, engine)

		wd, err := workdir.New(dataDir, "")
		if err != nil {
			return err
		}
		probe := process.NewProbe()
		live := reconciler.Recover(st, probe, engine)

		rec := reconciler.New(reconciler.Config{
			EngineBinary: engine,
			StatePath:    statePath,
		}, process.NewSupervisor(probe, process.DefaultGracePeriod), probe, wd, nil, nil)
		stopped := rec.KillAll(cmd.Context(), live)

		fmt.Printf("✓ Stopped %d of %d recorded engines\n", stopped, len(st))
		return nil
	},
}

func init() {
	killAllCmd.Flags().String("data-dir", defaultDataDir(), "Data directory of the daemon")
	killAllCmd.Flags().String("engine-binary", defaultEngineBinary, "Engine binary assumed for records without one")
}
