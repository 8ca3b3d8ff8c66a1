// Package main provides the aircraft feed aggregation application
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/micutio/airfuse/internal/aggregate"
	"github.com/micutio/airfuse/internal/config"
	"github.com/micutio/airfuse/internal/logging"
	"github.com/micutio/airfuse/internal/metrics"
	"github.com/micutio/airfuse/internal/observability"
	"github.com/micutio/airfuse/tickerapp"
	"github.com/micutio/airfuse/tuiapp"
)

const (
	// thisAppName is the name of this application as shown on notifications.
	thisAppName = "airfuse"
)

func main() {
	os.Exit(run())
}

func run() int {
	config.BindFlags(pflag.CommandLine)

	// Parse all arguments provided to the program on launch.
	pflag.Parse()

	cfg, err := config.Load(pflag.CommandLine)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", thisAppName, err)
		return 1
	}

	logParams, closeLog, err := logging.ParamsFor(cfg.Mode == config.ModeTUI, cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: unable to open log output: %v\n", thisAppName, err)
		return 1
	}
	defer func() { _ = closeLog() }()

	logger := logging.New(cfg.Log, logParams).With().Str("mode", cfg.Mode).Logger()
	if cfg.File != "" {
		logger.Info().Str("file", cfg.File).Msg("configuration loaded")
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled: cfg.Tracing.Enabled,
		Writer:  logParams.ErrorOut,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("unable to initialise tracing, exiting")
		return 1
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	agg, err := newAggregator(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("unable to create aggregator, exiting")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Mode {
	case config.ModeTicker:
		err = tickerapp.Run(ctx, thisAppName, cfg, agg, logParams.ConsoleOut, logger)
	case config.ModeServe:
		err = serve(ctx, cfg, agg, logger)
	default:
		err = tuiapp.Run(ctx, thisAppName, cfg, agg, logger)
	}
	if err != nil {
		logger.Error().Err(err).Msg("stopped with error")
		return 1
	}
	return 0
}

// newAggregator creates the aggregator over the configured feeds, recording into the default
// Prometheus registry.
func newAggregator(cfg *config.Config, logger zerolog.Logger) (*aggregate.Aggregator, error) {
	adapters, opts, err := cfg.BuildAdapters()
	if err != nil {
		return nil, err
	}

	recorder, err := metrics.NewAggregateRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	opts = append(opts,
		aggregate.WithLogger(logger.With().Str("component", "aggregate").Logger()),
		aggregate.WithRecorder(recorder),
	)

	agg, err := aggregate.New(adapters, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info().Strs("sources", agg.Sources()).Msg("aggregator ready")
	return agg, nil
}
