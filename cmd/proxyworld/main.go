package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/proxyworld/pkg/fetch"
	"github.com/cuemby/proxyworld/pkg/generator"
	"github.com/cuemby/proxyworld/pkg/log"
	"github.com/cuemby/proxyworld/pkg/manager"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const defaultEngineBinary = "clash"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "proxyworld",
	Short: "ProxyWorld - routing engine config generator and supervisor",
	Long: `ProxyWorld turns one JSON spec file into routing engine
configurations, one per instance, and can keep a set of engine
processes running and in sync with that file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		levelFlag, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")

		level, err := log.ParseLevel(levelFlag)
		if err != nil {
			return err
		}
		log.Init(log.Config{
			Level:      level,
			JSONOutput: jsonOutput,
		})
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ProxyWorld version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(killAllCmd)
	rootCmd.AddCommand(geoipCmd)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "proxy-world")
	}
	return filepath.Join(home, ".config", "proxy-world")
}

func addNameFlags(cmd *cobra.Command) {
	cmd.Flags().String("rule-group-name", generator.DefaultRuleGroupFormat, "Name template of per-collection rule groups")
	cmd.Flags().String("url-test-group-name", generator.DefaultURLTestGroupFormat, "Name template of url-test groups")
	cmd.Flags().String("fallback-group-name", generator.DefaultFallbackGroupFormat, "Name template of fallback groups")
	cmd.Flags().String("select-group-name", generator.DefaultSelectGroupFormat, "Name template of select groups")
}

func addNetworkFlags(cmd *cobra.Command) {
	cmd.Flags().Int("retry-limit", fetch.DefaultRetries, "Attempts per subscription download")
	cmd.Flags().Bool("try-direct", true, "Try a direct connection before the proxy from the environment")
	cmd.Flags().Duration("request-timeout", fetch.DefaultTimeout, "Timeout of one download attempt")
	cmd.Flags().Int("fetch-concurrency", manager.DefaultFetchConcurrency, "Subscriptions downloaded in parallel")
}

func generatorOptions(cmd *cobra.Command) (generator.Options, error) {
	ruleGroup, _ := cmd.Flags().GetString("rule-group-name")
	urlTestGroup, _ := cmd.Flags().GetString("url-test-group-name")
	fallbackGroup, _ := cmd.Flags().GetString("fallback-group-name")
	selectGroup, _ := cmd.Flags().GetString("select-group-name")
	return generator.NewOptions(ruleGroup, urlTestGroup, fallbackGroup, selectGroup)
}

func fetchOptions(cmd *cobra.Command) (fetch.Options, int, error) {
	retries, _ := cmd.Flags().GetInt("retry-limit")
	tryDirect, _ := cmd.Flags().GetBool("try-direct")
	timeout, _ := cmd.Flags().GetDuration("request-timeout")
	concurrency, _ := cmd.Flags().GetInt("fetch-concurrency")

	if retries < 1 {
		return fetch.Options{}, 0, fmt.Errorf("--retry-limit must be at least 1")
	}
	if timeout <= 0 {
		return fetch.Options{}, 0, fmt.Errorf("--request-timeout must be positive")
	}
	if concurrency < 1 {
		return fetch.Options{}, 0, fmt.Errorf("--fetch-concurrency must be at least 1")
	}

	opts := fetch.DefaultOptions()
	opts.Retries = retries
	opts.TryDirect = tryDirect
	opts.Timeout = timeout
	return opts, concurrency, nil
}
