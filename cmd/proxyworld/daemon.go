package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/proxyworld/pkg/events"
	"github.com/cuemby/proxyworld/pkg/lockfile"
	"github.com/cuemby/proxyworld/pkg/log"
	"github.com/cuemby/proxyworld/pkg/manager"
	"github.com/cuemby/proxyworld/pkg/metrics"
	"github.com/cuemby/proxyworld/pkg/scheduler"
	"github.com/spf13/cobra"
)

const defaultRefreshInterval = 600 * time.Second

var daemonCmd = &cobra.Command{
	Use:   "daemon SPEC",
	Short: "Run and supervise one engine per instance of SPEC",
	Long: `The daemon keeps one engine process running per instance of SPEC.
Subscriptions are refreshed periodically; configuration changes are
applied by reloading the engine, or restarting it when its listeners
change. Engines keep running when the daemon exits and are adopted by
the next daemon started with the same data directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reloadInterval, _ := cmd.Flags().GetDuration("reload-interval")
		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")
		statusInterval, _ := cmd.Flags().GetDuration("status-interval")
		watch, _ := cmd.Flags().GetBool("watch")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		engine, _ := cmd.Flags().GetString("engine-binary")
		geoDB, _ := cmd.Flags().GetString("geodb")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		genOpts, err := generatorOptions(cmd)
		if err != nil {
			return err
		}
		fetchOpts, concurrency, err := fetchOptions(cmd)
		if err != nil {
			return err
		}

		specPath, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid spec path: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		lock, err := lockfile.Acquire(dataDir)
		if err != nil {
			return err
		}
		defer lock.Release()

		logger := log.WithComponent("daemon")

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()
		go logEvents(broker.Subscribe())

		mgr, err := manager.NewManager(manager.Config{
			SpecPath:         specPath,
			DataDir:          dataDir,
			EngineBinary:     engine,
			GeoDB:            geoDB,
			Generator:        genOpts,
			Fetch:            fetchOpts,
			FetchConcurrency: concurrency,
		}, broker)
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := mgr.Start(ctx); err != nil {
			mgr.Shutdown()
			return fmt.Errorf("failed to start: %w", err)
		}

		metrics.SetVersion(Version)
		collector := metrics.NewCollector(mgr)
		collector.Start()
		defer collector.Stop()

		errCh := make(chan error, 1)
		var server *http.Server
		if metricsAddr != "" {
			server = &http.Server{
				Addr:              metricsAddr,
				Handler:           metrics.NewMux(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("metrics server error: %w", err)
				}
			}()
			logger.Info().Str("addr", metricsAddr).Msg("Metrics server started")
		}

		schedCfg := scheduler.Config{
			ReloadInterval:  reloadInterval,
			RefreshInterval: refreshInterval,
			StatusInterval:  statusInterval,
			RefreshOnStart:  true,
		}
		if watch {
			schedCfg.WatchPath = specPath
		}
		sched := scheduler.NewScheduler(schedCfg, mgr)
		if err := sched.Start(ctx); err != nil {
			mgr.Shutdown()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		logger.Info().
			Str("spec", specPath).
			Str("data_dir", dataDir).
			Dur("refresh_interval", refreshInterval).
			Msg("Daemon running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	wait:
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					logger.Info().Msg("SIGHUP received, reloading spec")
					sched.TriggerReload()
					continue
				}
				logger.Info().Str("signal", sig.String()).Msg("Shutting down")
				break wait
			case err := <-errCh:
				logger.Error().Err(err).Msg("Shutting down")
				break wait
			}
		}

		sched.Stop()
		cancel()
		if server != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			server.Shutdown(shutdownCtx)
			done()
		}
		if err := mgr.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown: %w", err)
		}
		return nil
	},
}

func init() {
	daemonCmd.Flags().Duration("reload-interval", 0, "Re-read SPEC at this interval (0 disables)")
	daemonCmd.Flags().Duration("refresh-interval", defaultRefreshInterval, "Refresh subscriptions at this interval (0 disables)")
	daemonCmd.Flags().Duration("status-interval", 0, "Check engine health at this interval (0 disables)")
	daemonCmd.Flags().Bool("watch", false, "Reload SPEC whenever the file changes")
	daemonCmd.Flags().String("data-dir", defaultDataDir(), "Directory for state, caches and engine working directories")
	daemonCmd.Flags().String("engine-binary", defaultEngineBinary, "Engine binary to run")
	daemonCmd.Flags().String("geodb", "", "Country database linked into every engine working directory")
	daemonCmd.Flags().String("metrics-addr", "", "Serve metrics and health endpoints on this address")
	addNameFlags(daemonCmd)
	addNetworkFlags(daemonCmd)
}

func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		e := logger.Info().Str("type", string(ev.Type))
		for k, v := range ev.Metadata {
			e = e.Str(k, v)
		}
		e.Msg(ev.Message)
	}
}
