// Package aggregate queries all enabled feed adapters concurrently and reconciles their reports
// into one record per aircraft.
package aggregate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/micutio/airfuse/internal"
	"github.com/micutio/airfuse/internal/feed"
)

const tracerName = "github.com/micutio/airfuse/internal/aggregate"

const (
	defaultTimeout     = 5 * time.Second
	defaultCacheTTL    = 5 * time.Second
	defaultStaleWindow = 60 * time.Second
)

var (
	ErrNoAdapters       = errors.New("no adapters configured")
	ErrDuplicateAdapter = errors.New("duplicate adapter name")
	ErrUnknownSource    = errors.New("unknown source")
	ErrAdapterPanic     = errors.New("adapter panicked")
)

// Adapter turns queries into normalized partial records for one feed.
type Adapter interface {
	Name() string
	// Priority is the static trust rank of the source, lower is more trusted.
	Priority() int
	Reliability() internal.Reliability
	Fetch(ctx context.Context, area internal.Area) ([]feed.RawResult, error)
	Normalize(raw feed.RawResult) []internal.PartialRecord
}

// AdapterConfig holds the per-adapter settings of the aggregator.
type AdapterConfig struct {
	Enabled bool
	Timeout time.Duration
}

// Options modify a single Aggregate call.
type Options struct {
	// SkipCache forces a refresh even if a fresh cache entry exists.
	SkipCache bool
	// Sources restricts the query to the named adapters. Empty means all enabled adapters.
	Sources []string
}

// FailureKind classifies why a source did not contribute to a result.
type FailureKind string

// Failure kinds.
const (
	FailureTimeout   FailureKind = "timeout"
	FailureError     FailureKind = "error"
	FailureMalformed FailureKind = "malformed"
)

// SourceFailure records a failed adapter call.
type SourceFailure struct {
	Source string
	Err    error
	Kind   FailureKind
}

// Result is the outcome of one aggregation. Results may be shared between callers and must be
// treated as read-only.
type Result struct {
	Records     []internal.AircraftRecord
	Quality     Quality
	SourcesUsed []string
	Failures    []SourceFailure
	Cached      bool
	Stale       bool
	FetchedAt   time.Time
	Age         time.Duration
}

// Recorder receives measurements of the aggregator.
type Recorder interface {
	ObserveFetch(source string, duration time.Duration, err error)
	ObserveAggregate(result *Result)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFetch(string, time.Duration, error) {}
func (nopRecorder) ObserveAggregate(*Result)                  {}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithAdapterConfig sets the configuration of the named adapter.
func WithAdapterConfig(name string, cfg AdapterConfig) Option {
	return func(a *Aggregator) {
		a.adapterConfigs[name] = cfg
	}
}

// WithCache sets the cache TTL and the window after it in which stale results may be served.
func WithCache(ttl, staleWindow time.Duration) Option {
	return func(a *Aggregator) {
		a.ttl = ttl
		a.staleWindow = staleWindow
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Aggregator) {
		if r != nil {
			a.recorder = r
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

type source struct {
	adapter Adapter
	name    string
	timeout time.Duration
}

// Aggregator fans out queries to its adapters and owns the result cache.
type Aggregator struct {
	sources        []source
	adapterConfigs map[string]AdapterConfig
	ttl            time.Duration
	staleWindow    time.Duration
	cache          *resultCache
	group          singleflight.Group
	logger         zerolog.Logger
	recorder       Recorder
	tracer         trace.Tracer
	now            func() time.Time
}

// New creates an aggregator over the given adapters. Adapters without a configuration are enabled
// with the default timeout.
func New(adapters []Adapter, opts ...Option) (*Aggregator, error) {
	a := &Aggregator{
		adapterConfigs: make(map[string]AdapterConfig),
		ttl:            defaultCacheTTL,
		staleWindow:    defaultStaleWindow,
		logger:         zerolog.Nop(),
		recorder:       nopRecorder{},
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	seen := make(map[string]struct{}, len(adapters))
	for _, adapter := range adapters {
		name := adapter.Name()
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("aggregate.New: %w: %s", ErrDuplicateAdapter, name)
		}
		seen[name] = struct{}{}

		cfg, ok := a.adapterConfigs[name]
		if !ok {
			cfg = AdapterConfig{Enabled: true, Timeout: defaultTimeout}
		}
		if !cfg.Enabled {
			a.logger.Info().Str("source", name).Msg("adapter disabled")
			continue
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = defaultTimeout
		}
		a.sources = append(a.sources, source{adapter: adapter, name: name, timeout: cfg.Timeout})
	}

	if len(a.sources) == 0 {
		return nil, fmt.Errorf("aggregate.New: %w", ErrNoAdapters)
	}

	a.cache = newResultCache(a.ttl, a.staleWindow)

	return a, nil
}

// Sources returns the names of the enabled adapters.
func (a *Aggregator) Sources() []string {
	names := make([]string, len(a.sources))
	for i, src := range a.sources {
		names[i] = src.name
	}
	return names
}

// Aggregate returns the reconciled aircraft within area. Source failures never surface as an
// error, they are reported in the result. An error is only returned for an unknown source in
// opts or when ctx ends before the result is available.
func (a *Aggregator) Aggregate(ctx context.Context, area internal.Area, opts Options) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "aggregate.Aggregate",
		trace.WithAttributes(attribute.String("area", area.Key())))
	defer span.End()

	selected, err := a.selectSources(opts.Sources)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	key := cacheKey(area, opts.Sources)
	span.SetAttributes(attribute.String("cache.key", key))

	if !opts.SkipCache {
		if entry, ok := a.cache.fresh(key, a.now()); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return a.finish(entry.result, true, false), nil
		}
	}

	// detached: the refresh is shared by every caller waiting on key
	refreshCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (any, error) {
		return a.refresh(refreshCtx, key, area, selected), nil
	})

	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "cancelled")
		return nil, fmt.Errorf("aggregate: %w", ctx.Err())
	case res := <-ch:
		r := res.Val.(*refreshResult) //nolint:forcetypeassert // refresh never returns anything else
		return a.finish(r.result, r.cached, r.stale), nil
	}
}

type refreshResult struct {
	result Result
	cached bool
	stale  bool
}

func (a *Aggregator) finish(r Result, cached, stale bool) *Result {
	r.Cached = cached
	r.Stale = stale
	r.Age = max(a.now().Sub(r.FetchedAt), 0)
	a.recorder.ObserveAggregate(&r)
	return &r
}

func (a *Aggregator) selectSources(names []string) ([]source, error) {
	if len(names) == 0 {
		return a.sources, nil
	}

	selected := make([]source, 0, len(names))
	for _, src := range a.sources {
		if slices.Contains(names, src.name) {
			selected = append(selected, src)
		}
	}
	for _, name := range names {
		if !slices.ContainsFunc(selected, func(s source) bool { return s.name == name }) {
			return nil, fmt.Errorf("aggregate: %w: %s", ErrUnknownSource, name)
		}
	}

	return selected, nil
}

type fetchOutcome struct {
	records []internal.PartialRecord
	err     error
}

func (a *Aggregator) refresh(ctx context.Context, key string, area internal.Area, sources []source) *refreshResult {
	outcomes := a.fanOut(ctx, area, sources)

	result := Result{FetchedAt: a.now()}
	var partials []internal.PartialRecord
	for i, out := range outcomes {
		name := sources[i].name
		if out.err != nil {
			failure := SourceFailure{Source: name, Err: out.err, Kind: classifyFailure(out.err)}
			result.Failures = append(result.Failures, failure)
			a.logger.Warn().Err(out.err).Str("source", name).Str("kind", string(failure.Kind)).
				Msg("source failed")
			continue
		}
		if len(out.records) > 0 {
			result.SourcesUsed = append(result.SourcesUsed, name)
		}
		partials = append(partials, out.records...)
	}
	slices.Sort(result.SourcesUsed)
	slices.SortFunc(result.Failures, func(x, y SourceFailure) int {
		return cmp.Compare(x.Source, y.Source)
	})

	if len(result.Failures) == len(sources) {
		if entry, ok := a.cache.usable(key, a.now()); ok {
			a.logger.Warn().Str("key", key).Time("fetched_at", entry.result.FetchedAt).
				Msg("all sources failed, serving stale result")
			stale := entry.result
			stale.Failures = result.Failures
			return &refreshResult{result: stale, cached: true, stale: true}
		}
	}

	result.Records = Merge(partials)
	result.Quality = ComputeQuality(result.Records, len(result.SourcesUsed), len(sources))

	if len(result.Failures) < len(sources) {
		a.cache.set(key, result, result.FetchedAt)
	}

	a.logger.Debug().Str("key", key).Int("records", len(result.Records)).
		Int("score", result.Quality.Score).Str("coverage", string(result.Quality.Coverage)).
		Msg("aggregated")

	return &refreshResult{result: result}
}

// fanOut queries all sources concurrently. Each source writes only its own slot.
func (a *Aggregator) fanOut(ctx context.Context, area internal.Area, sources []source) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			outcomes[i] = a.fetchSource(ctx, area, src)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// fetchSource runs fetch and normalize for one source, bounded by its timeout even if the adapter
// ignores the context.
func (a *Aggregator) fetchSource(ctx context.Context, area internal.Area, src source) fetchOutcome {
	ctx, cancel := context.WithTimeout(ctx, src.timeout)
	defer cancel()

	ctx, span := a.tracer.Start(ctx, "aggregate.fetch", trace.WithAttributes(
		attribute.String("source", src.name),
		attribute.Int("priority", src.adapter.Priority()),
	))
	defer span.End()

	start := time.Now()
	done := make(chan fetchOutcome, 1)
	go func() {
		done <- runAdapter(ctx, area, src.adapter)
	}()

	var out fetchOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = fetchOutcome{err: fmt.Errorf("%s: %w", src.name, ctx.Err())}
	}

	a.recorder.ObserveFetch(src.name, time.Since(start), out.err)
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, string(classifyFailure(out.err)))
	} else {
		span.SetAttributes(attribute.Int("records", len(out.records)))
	}

	return out
}

func runAdapter(ctx context.Context, area internal.Area, adapter Adapter) (out fetchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = fetchOutcome{err: fmt.Errorf("%s: %w: %v", adapter.Name(), ErrAdapterPanic, r)}
		}
	}()

	raws, err := adapter.Fetch(ctx, area)
	if err != nil {
		return fetchOutcome{err: err}
	}

	var records []internal.PartialRecord
	for _, raw := range raws {
		for _, p := range adapter.Normalize(raw) {
			if p.ID == "" || !p.Position.HasValidCoordinates() || !area.Contains(p.Position.Lat, p.Position.Lon) {
				continue
			}
			records = append(records, p)
		}
	}

	return fetchOutcome{records: records}
}

func classifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, feed.ErrMalformed):
		return FailureMalformed
	default:
		return FailureError
	}
}
