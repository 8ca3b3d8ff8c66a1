// Package tickerapp launches the ticker application which writes out all updates to stdout and
// can be piped into other programs and processed further.
// This is in contrast to the TUI app, which works more like htop.
package tickerapp

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/micutio/airfuse/internal/config"
	"github.com/micutio/airfuse/internal/pipeline"
	"github.com/micutio/airfuse/internal/throttle"
)

// summaryInterval is how often the throttler statistics are printed.
const summaryInterval = 5 * time.Minute

// Run prints every update the throttler releases until ctx is done.
func Run(
	ctx context.Context,
	appName string,
	cfg *config.Config,
	agg pipeline.Aggregator,
	consoleOut io.Writer,
	logger zerolog.Logger,
) error {
	area := cfg.MonitoredArea()
	center := area.Center()
	fmt.Fprintf(consoleOut, "%s launching at Lat: %.3f, Lon: %.3f\n", appName, center.Latitude, center.Longitude)

	notify := NewNotify(appName, logger)
	ticker := NewTicker(consoleOut, center, notify)

	th := throttle.New(ticker, append(cfg.ThrottleOptions(), throttle.WithLogger(logger))...)
	poller := pipeline.New(agg, th, area, append(cfg.PollerOptions(),
		pipeline.WithLogger(logger),
		pipeline.WithResultFunc(ticker.ObserveResult),
	)...)

	// Print a summary in a given interval
	summaryTicker := time.NewTicker(summaryInterval)
	defer summaryTicker.Stop()
	go func() {
		for {
			select {
			case <-summaryTicker.C:
				ticker.PrintSummary(th.Metrics())
			case <-ctx.Done():
				return
			}
		}
	}()

	err := pipeline.Run(ctx, th, poller)
	ticker.PrintSummary(th.Metrics())
	logger.Info().Msg("Shutdown signal received, stopped")

	return err
}
