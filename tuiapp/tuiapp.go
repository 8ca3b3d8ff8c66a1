// Package tuiapp provides the TUI app which displays the aircraft released by the throttler,
// updates continuously and can be interacted with.
// Layout:
// +-------------------------------------------------+
// | last update time: 00:00:00                      |
// |                                                 |
// | Quality                                         |
// | Score: ... Coverage: ... Sources: ...           |
// | Throttle                                        |
// | Received: ... Processed: ... Dropped: ...       |
// | Highest Aircraft                                |
// | ALT: ... FNO: ... Type: ... REG: ...            |
// | Fastest Aircraft                                |
// | SPD: ... FNO: ... Type: ... REG: ...            |
// |  ________________________                       |
// | | current aircraft table |   (tab: queue table) |
// | | entry 0                |                      |
// | | ...                    |                      |
// | | entry N                |                      |
// |  ------------------------                       |
// +-------------------------------------------------+
// .
package tuiapp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/micutio/airfuse/internal/config"
	"github.com/micutio/airfuse/internal/pipeline"
	"github.com/micutio/airfuse/internal/throttle"
)

type Theme struct {
	Primary   lipgloss.AdaptiveColor
	Secondary lipgloss.AdaptiveColor
	Highlight lipgloss.AdaptiveColor
	Border    lipgloss.AdaptiveColor
	Green     lipgloss.AdaptiveColor
	Red       lipgloss.AdaptiveColor
}

var Color = Theme{
	Primary:   lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"},
	Secondary: lipgloss.AdaptiveColor{Light: "#969B86", Dark: "#696969"},
	Highlight: lipgloss.AdaptiveColor{Light: "#8b2def", Dark: "#8b2def"},
	Border:    lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"},
	Green:     lipgloss.AdaptiveColor{Light: "#00FF00", Dark: "#00FF00"},
	Red:       lipgloss.AdaptiveColor{Light: "#FF0000", Dark: "#FF0000"},
}

// Run shows the TUI until the user quits or ctx is done. The pipeline runs in the background and
// feeds the program through the throttler.
func Run(ctx context.Context, appName string, cfg *config.Config, agg pipeline.Aggregator, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	area := cfg.MonitoredArea()
	// The program only exists after the model, the consumer only after the program.
	var consumer programConsumer
	th := throttle.New(throttle.ConsumerFunc(func(class throttle.Class, entries []throttle.Entry) error {
		return consumer.OnBatch(class, entries)
	}), append(cfg.ThrottleOptions(), throttle.WithLogger(logger))...)

	m := newModel(area.Center(), cfg.ForgetAfter, th.Config, th.Metrics)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	consumer.program = program

	poller := pipeline.New(agg, th, area, append(cfg.PollerOptions(),
		pipeline.WithLogger(logger),
		pipeline.WithResultFunc(consumer.onResult),
	)...)

	var wg sync.WaitGroup
	var pipelineErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipeline.Run(ctx, th, poller); err != nil {
			pipelineErr = err
			logger.Error().Err(err).Msg("pipeline stopped")
			program.Quit()
		}
	}()

	logger.Info().Str("app", appName).Msg("starting TUI")
	_, err := program.Run()
	cancel()
	wg.Wait()

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tuiapp.Run: %w", err)
	}
	return pipelineErr
}
