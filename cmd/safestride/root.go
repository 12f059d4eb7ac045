package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/safestride/internal/config"
	"github.com/hed1ad/safestride/internal/engine"
	"github.com/hed1ad/safestride/internal/logging"
	"github.com/hed1ad/safestride/internal/metrics"
	"github.com/hed1ad/safestride/internal/profile"
	"github.com/hed1ad/safestride/pkg/detectors/signal"
)

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "safestride",
		Short:         "Per-user behavioral anomaly scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts), newReplayCmd(opts), newGenerateCmd())
	return cmd
}

// app holds the components shared by subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	engine   *engine.Engine
}

func (o *rootOptions) build() (*app, error) {
	if o.envFile != "" {
		// A missing dotenv file is fine; variables may come from the process.
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	factory, err := signal.NewFactory(cfg.Detector)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	eng := engine.New(profile.NewStore(factory),
		engine.WithLogger(logger.Named("engine")),
		engine.WithMetrics(m))

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  m,
		engine:   eng,
	}, nil
}
