package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"txcore/internal/archive"
	"txcore/internal/blob"
	"txcore/internal/config"
	"txcore/internal/core"
	"txcore/internal/infra/persistence"
	"txcore/internal/logging"
	"txcore/internal/metrics"
	"txcore/pkg/domain"
	"txcore/plugins/orders"
)

var (
	// Global flags
	jsonOut    bool
	configFile string
	noSeed     bool
)

var rootCmd = &cobra.Command{
	Use:   "txctl",
	Short: "Run and inspect client transactions over the order model",
	Long: `txctl opens the configured storage and blob backends, installs the
orders plugin and runs client transactions against them. Configuration comes
from TXCORE_* environment variables or the file named by --config.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (overrides "+config.EnvConfigFile+")")
	rootCmd.PersistentFlags().BoolVar(&noSeed, "no-seed", false, "Do not write the order fixtures into an empty store")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is everything a command needs, opened from configuration.
type env struct {
	cfg      config.Config
	log      *logging.Logger
	store    domain.Persistence
	archive  *archive.Archive
	svc      *core.Service
	registry *prometheus.Registry
	closeFn  persistence.CloseFunc
}

func openEnv(ctx context.Context) (*env, error) {
	if configFile != "" {
		if err := os.Setenv(config.EnvConfigFile, configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := persistence.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(reg, cfg.Metrics.Namespace)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	svc := core.NewService(store, core.WithServiceLogger(log), core.WithMetricsRecorder(recorder))
	if _, err := svc.InstallPlugin(orders.New()); err != nil {
		_ = closeStore()
		return nil, err
	}
	e := &env{
		cfg:      cfg,
		log:      log,
		store:    store,
		archive:  archive.New(blobs),
		svc:      svc,
		registry: reg,
		closeFn:  closeStore,
	}
	if !noSeed {
		if err := e.seed(ctx); err != nil {
			_ = e.close()
			return nil, err
		}
	}
	return e, nil
}

// seed writes the fixtures unless the store already holds them.
func (e *env) seed(ctx context.Context) error {
	_, err := e.store.Load(ctx, orders.Order1)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	if err := orders.Seed(ctx, e.store); err != nil {
		return fmt.Errorf("seed fixtures: %w", err)
	}
	e.log.Debug("seeded fixtures", "driver", e.cfg.Storage.Driver, "records", len(orders.Fixtures()))
	return nil
}

func (e *env) close() error {
	_ = e.log.Sync()
	return e.closeFn()
}

// withEnv opens the environment for the duration of fn.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = e.close() }()
	return fn(ctx, e)
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
