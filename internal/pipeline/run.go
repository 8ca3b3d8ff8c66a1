package pipeline

import (
	"context"
	"fmt"
)

// Throttler is the sink the poller feeds, started before and stopped after polling.
// *throttle.Throttler satisfies it.
type Throttler interface {
	Sink
	Start(ctx context.Context) error
	FlushAll()
	Stop()
}

// Run starts the throttler, polls until ctx ends and then delivers whatever is still queued.
func Run(ctx context.Context, throttler Throttler, poller *Poller) error {
	if err := throttler.Start(ctx); err != nil {
		return fmt.Errorf("pipeline.Run: %w", err)
	}
	defer throttler.Stop()

	err := poller.Run(ctx)
	throttler.FlushAll()

	return err
}
