package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// app holds what every subcommand shares once flags and config are resolved.
type app struct {
	cfg      *Config
	logger   *zap.Logger
	clock    clockwork.Clock
	registry *prometheus.Registry
	metrics  *metrics
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: log level %q", ErrInvalidConfig, level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func (a *app) init(fs *pflag.FlagSet, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.applyFlags(fs); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	runID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("failed to generate run id: %w", err)
	}

	a.cfg = cfg
	a.logger = logger.With(zap.String("run_id", runID.String()))
	a.clock = clockwork.NewRealClock()
	a.registry = prometheus.NewRegistry()
	a.metrics = newMetrics(a.registry)
	return nil
}

// run executes work alongside the metrics server, if one is configured.
// Cancellation of ctx is a clean shutdown.
func (a *app) run(ctx context.Context, work func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, a.cfg.MetricsAddr, a.registry, a.logger)
		})
	}
	g.Go(func() error {
		defer cancel()
		return work(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		a.logger.Info("stopped", zap.Error(err))
		return nil
	}
	return err
}

func newRootCmd() *cobra.Command {
	a := &app{}
	defaults := defaultConfig()
	var configPath string

	root := &cobra.Command{
		Use:           "ipcsync",
		Short:         "Run reader/writer lock and sandwich rendezvous workloads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Flags(), configPath)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to .yaml config")
	pf.String("log-level", defaults.LogLevel, "log level: debug, info, warn, error")
	pf.String("metrics-addr", defaults.MetricsAddr, "address to serve /metrics on; empty disables")

	root.AddCommand(newSandwichCmd(a, defaults), newRWLockCmd(a, defaults))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ipcsync: %v\n", err)
		stop()
		os.Exit(1)
	}
}
