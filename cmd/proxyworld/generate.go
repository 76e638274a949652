package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cuemby/proxyworld/pkg/cache"
	"github.com/cuemby/proxyworld/pkg/fetch"
	"github.com/cuemby/proxyworld/pkg/generator"
	"github.com/cuemby/proxyworld/pkg/health"
	"github.com/cuemby/proxyworld/pkg/log"
	"github.com/cuemby/proxyworld/pkg/manager"
	"github.com/cuemby/proxyworld/pkg/render"
	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate SPEC OUTDIR",
	Short: "Write one engine configuration per instance of SPEC into OUTDIR",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		test, _ := cmd.Flags().GetBool("test")
		engine, _ := cmd.Flags().GetString("engine-binary")
		cacheDir, _ := cmd.Flags().GetString("cache-dir")

		genOpts, err := generatorOptions(cmd)
		if err != nil {
			return err
		}
		fetchOpts, concurrency, err := fetchOptions(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var store cache.Store = cache.NewMemoryStore()
		if cacheDir != "" {
			bolt, err := cache.NewBoltStore(cacheDir)
			if err != nil {
				return fmt.Errorf("failed to open cache: %w", err)
			}
			store = bolt
		}
		defer store.Close()

		outputs, err := generateConfigs(ctx, generateConfig{
			SpecPath:    args[0],
			OutDir:      args[1],
			Overwrite:   overwrite,
			Generator:   genOpts,
			Fetcher:     fetch.New(fetchOpts),
			Store:       store,
			Concurrency: concurrency,
		})
		if err != nil {
			return err
		}

		failed := 0
		for _, out := range outputs {
			if out.Err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", out.Name, out.Err)
				continue
			}
			fmt.Printf("✓ %s -> %s\n", out.Name, out.Path)

			if test {
				res := health.NewConfigTestChecker(engine, out.Path).Check(ctx)
				if !res.Healthy {
					failed++
					fmt.Fprintf(os.Stderr, "✗ %s: %s\n", out.Name, res.Message)
					continue
				}
				fmt.Printf("  config test passed\n")
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d instances failed", failed, len(outputs))
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().Bool("overwrite", false, "Replace existing files in OUTDIR")
	generateCmd.Flags().Bool("test", false, "Check every written file with the engine's config test")
	generateCmd.Flags().String("engine-binary", defaultEngineBinary, "Engine binary used by --test")
	generateCmd.Flags().String("cache-dir", "", "Keep downloaded subscriptions in a cache under this directory")
	addNameFlags(generateCmd)
	addNetworkFlags(generateCmd)
}

type generateConfig struct {
	SpecPath    string
	OutDir      string
	Overwrite   bool
	Generator   generator.Options
	Fetcher     manager.Fetcher
	Store       cache.Store
	Concurrency int
}

// generateOutput is the outcome for one instance. Path is set when the file was written.
type generateOutput struct {
	Name string
	Path string
	Err  error
}

// generateConfigs fetches every subscription of the spec once, then renders
// and writes the config of each instance. Instance failures are reported per
// output; only spec and output directory problems fail the whole run.
func generateConfigs(ctx context.Context, cfg generateConfig) ([]generateOutput, error) {
	logger := log.WithComponent("generate")

	spec, err := types.LoadSpec(cfg.SpecPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	results := manager.FetchAll(ctx, cfg.Fetcher, &spec.Shared, cfg.Concurrency)
	manager.ApplyResults(cfg.Store, results)

	proxies, rules, err := cfg.Store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	generated := generator.Generate(spec, proxies, rules, cfg.Generator)
	outputs := make([]generateOutput, 0, len(generated))
	for _, res := range generated {
		name := res.Instance.DisplayName()
		for _, d := range res.Diagnostics {
			logger.Warn().Str("instance", name).Msg(d)
		}

		out := generateOutput{Name: name}
		if res.Err != nil {
			out.Err = res.Err
			outputs = append(outputs, out)
			continue
		}

		data, err := render.Render(res.Config)
		if err != nil {
			out.Err = err
			outputs = append(outputs, out)
			continue
		}

		path, err := outputPath(cfg.OutDir, name)
		if err == nil {
			err = writeOutput(path, data, cfg.Overwrite)
		}
		if err != nil {
			out.Err = err
		} else {
			out.Path = path
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func outputPath(dir, name string) (string, error) {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("instance name %q cannot be used as a file name", name)
	}
	return filepath.Join(dir, name+".yaml"), nil
}

// writeOutput creates path exclusively unless overwrite is set. A failed
// write leaves no partial file behind.
func writeOutput(path string, data []byte, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists, use --overwrite to replace it", path)
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
