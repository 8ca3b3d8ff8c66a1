// Package observability sets up OpenTelemetry tracing.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const shutdownTimeout = 5 * time.Second

// TracingConfig governs how tracing is initialised.
type TracingConfig struct {
	Enabled bool
	// Writer receives the exported spans (default: stdout).
	Writer io.Writer
}

// InitTracing sets the global tracer provider. Without tracing a noop provider is installed,
// otherwise spans are written to cfg.Writer. It returns a shutdown function to flush spans.
func InitTracing(cfg TracingConfig, logger zerolog.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		logger.Debug().Msg("tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}

	out := cfg.Writer
	if out == nil {
		out = os.Stdout
	}

	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(out),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, fmt.Errorf("initTracing: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	logger.Info().Str("exporter", "stdout").Msg("tracing enabled")

	return tp.Shutdown, nil
}

// ShutdownWithTimeout invokes shutdown with a bounded timeout, logging errors.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, logger zerolog.Logger) {
	if shutdown == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("tracing shutdown failed")
	}
}
