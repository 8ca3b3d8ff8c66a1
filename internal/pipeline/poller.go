// Package pipeline connects the aggregator to the throttler. It polls the aggregator periodically
// and re-emits every aircraft whose record changed since the last poll.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/micutio/airfuse/internal"
	"github.com/micutio/airfuse/internal/aggregate"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultForgetAfter  = 2 * time.Minute
)

// Aggregator is the query side of the poller, satisfied by *aggregate.Aggregator.
type Aggregator interface {
	Aggregate(ctx context.Context, area internal.Area, opts aggregate.Options) (*aggregate.Result, error)
}

// Sink receives changed records, satisfied by *throttle.Throttler.
type Sink interface {
	Enqueue(id string, payload internal.AircraftRecord) bool
}

// ResultFunc is called with every aggregation result.
type ResultFunc func(*aggregate.Result)

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithForgetAfter sets how long an aircraft is remembered after it was last seen. An aircraft that
// reappears after that is emitted again even if its record did not change.
func WithForgetAfter(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.forgetAfter = d
		}
	}
}

// WithSources restricts the polled sources.
func WithSources(sources ...string) Option {
	return func(p *Poller) {
		p.sources = sources
	}
}

// WithResultFunc registers a callback for every aggregation result.
func WithResultFunc(f ResultFunc) Option {
	return func(p *Poller) {
		p.onResult = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

type emitted struct {
	lastUpdate time.Time
	seenAt     time.Time
}

// Poller turns aggregation snapshots into a stream of per-aircraft updates.
type Poller struct {
	agg         Aggregator
	sink        Sink
	area        internal.Area
	interval    time.Duration
	forgetAfter time.Duration
	sources     []string
	onResult    ResultFunc
	logger      zerolog.Logger
	now         func() time.Time

	mu      sync.Mutex
	emitted map[string]emitted
	last    *aggregate.Result
}

// New creates a poller for area.
func New(agg Aggregator, sink Sink, area internal.Area, opts ...Option) *Poller {
	p := &Poller{
		agg:         agg,
		sink:        sink,
		area:        area,
		interval:    defaultPollInterval,
		forgetAfter: defaultForgetAfter,
		logger:      zerolog.Nop(),
		now:         time.Now,
		emitted:     make(map[string]emitted),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pipeline.Run: %w", err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one aggregation and hands every changed record to the sink. It returns the number of
// records handed over.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	result, err := p.agg.Aggregate(ctx, p.area, aggregate.Options{Sources: p.sources})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, fmt.Errorf("poll: %w", err)
	}

	p.logResult(result)

	now := p.now()
	changed := p.diff(result.Records, now)

	sent := 0
	for i := range changed {
		if p.sink.Enqueue(changed[i].ID, changed[i]) {
			sent++
		}
	}

	p.mu.Lock()
	p.last = result
	p.mu.Unlock()

	if p.onResult != nil {
		p.onResult(result)
	}

	return sent, nil
}

// diff returns the records whose last update differs from the one emitted before and forgets
// aircraft not seen for forgetAfter.
func (p *Poller) diff(records []internal.AircraftRecord, now time.Time) []internal.AircraftRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := make([]internal.AircraftRecord, 0, len(records))
	for i := range records {
		rec := &records[i]
		prev, ok := p.emitted[rec.ID]
		if !ok || rec.LastUpdate.After(prev.lastUpdate) {
			changed = append(changed, *rec)
			prev.lastUpdate = rec.LastUpdate
		}
		prev.seenAt = now
		p.emitted[rec.ID] = prev
	}

	for id, e := range p.emitted {
		if now.Sub(e.seenAt) > p.forgetAfter {
			delete(p.emitted, id)
		}
	}

	return changed
}

func (p *Poller) logResult(result *aggregate.Result) {
	event := p.logger.Debug()
	if result.Stale || result.Quality.Coverage == aggregate.CoveragePoor {
		event = p.logger.Warn()
	}
	event.Int("records", len(result.Records)).
		Int("quality", result.Quality.Score).
		Str("coverage", string(result.Quality.Coverage)).
		Bool("cached", result.Cached).
		Bool("stale", result.Stale).
		Dur("age", result.Age).
		Int("failures", len(result.Failures)).
		Msg("aggregated")
}

// LastResult returns the most recent aggregation result, or nil before the first poll.
func (p *Poller) LastResult() *aggregate.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Tracked returns the number of aircraft currently remembered.
func (p *Poller) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.emitted)
}
