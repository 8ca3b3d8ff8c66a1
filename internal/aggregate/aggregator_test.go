package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/micutio/airfuse/internal"
	"github.com/micutio/airfuse/internal/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testArea = internal.NewArea(0, 0, 10, 10)

type fakeAdapter struct {
	name        string
	priority    int
	reliability internal.Reliability
	records     []internal.PartialRecord
	delay       time.Duration
	err         error
	panics      bool
	failing     atomic.Bool
	calls       atomic.Int32
}

func (f *fakeAdapter) Name() string                      { return f.name }
func (f *fakeAdapter) Priority() int                     { return f.priority }
func (f *fakeAdapter) Reliability() internal.Reliability { return f.reliability }

func (f *fakeAdapter) Fetch(ctx context.Context, _ internal.Area) ([]feed.RawResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.failing.Load() {
		return nil, errors.New("connection refused")
	}
	return []feed.RawResult{feed.ReadsbResult{}}, nil
}

func (f *fakeAdapter) Normalize(feed.RawResult) []internal.PartialRecord {
	out := make([]internal.PartialRecord, len(f.records))
	for i, r := range f.records {
		r.Source = f.name
		r.SourcePriority = f.priority
		r.Position.Source = f.name
		r.Position.Reliability = f.reliability
		out[i] = r
	}
	return out
}

func newFake(name string, priority int, records ...internal.PartialRecord) *fakeAdapter {
	return &fakeAdapter{
		name:        name,
		priority:    priority,
		reliability: internal.ReliabilityHigh,
		records:     records,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingRecorder struct {
	fetches    atomic.Int32
	fetchErrs  atomic.Int32
	aggregates atomic.Int32
}

func (r *countingRecorder) ObserveFetch(_ string, _ time.Duration, err error) {
	r.fetches.Add(1)
	if err != nil {
		r.fetchErrs.Add(1)
	}
}

func (r *countingRecorder) ObserveAggregate(*Result) { r.aggregates.Add(1) }

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		adapters []Adapter
		opts     []Option
		expected error
	}{
		{name: "no adapters", expected: ErrNoAdapters},
		{
			name:     "duplicates",
			adapters: []Adapter{newFake("a", 1), newFake("a", 2)},
			expected: ErrDuplicateAdapter,
		},
		{
			name:     "all disabled",
			adapters: []Adapter{newFake("a", 1)},
			opts:     []Option{WithAdapterConfig("a", AdapterConfig{Enabled: false})},
			expected: ErrNoAdapters,
		},
		{
			name:     "valid",
			adapters: []Adapter{newFake("a", 1), newFake("b", 2)},
			opts:     []Option{WithAdapterConfig("b", AdapterConfig{Enabled: true})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, err := New(tt.adapters, tt.opts...)
			if tt.expected != nil {
				require.ErrorIs(t, err, tt.expected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, agg.Sources())
		})
	}
}

func TestAggregateMergesSources(t *testing.T) {
	a := newFake("a", 1,
		partial("x", "", 0, baseTime, 1, 1),
		partial("y", "", 0, baseTime, 2, 2),
	)
	b := newFake("b", 2, partial("x", "", 0, baseTime.Add(time.Second), 1.1, 1.1))
	b.reliability = internal.ReliabilityMedium

	agg, err := New([]Adapter{a, b})
	require.NoError(t, err)

	result, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, "x", result.Records[0].ID)
	assert.Equal(t, "b", result.Records[0].Position.Source)
	assert.Equal(t, []string{"a", "b"}, result.Records[0].Sources)
	assert.Equal(t, []string{"a", "b"}, result.SourcesUsed)
	assert.Empty(t, result.Failures)
	assert.False(t, result.Cached)
	assert.False(t, result.Stale)
	assert.Equal(t, CoverageExcellent, result.Quality.Coverage)
	assert.Equal(t, 1, result.Quality.MultiSourceRecords)
	// 40*1 + 30*1/2 + 30*1/2
	assert.Equal(t, 70, result.Quality.Score)
}

func TestAggregateAllTimeoutWithoutCache(t *testing.T) {
	slowA := newFake("a", 1, partial("x", "", 0, baseTime, 1, 1))
	slowA.delay = time.Second
	slowB := newFake("b", 2)
	slowB.delay = time.Second

	agg, err := New([]Adapter{slowA, slowB},
		WithAdapterConfig("a", AdapterConfig{Enabled: true, Timeout: 20 * time.Millisecond}),
		WithAdapterConfig("b", AdapterConfig{Enabled: true, Timeout: 20 * time.Millisecond}),
	)
	require.NoError(t, err)

	start := time.Now()
	result, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.NotNil(t, result.Records)
	assert.Empty(t, result.Records)
	assert.Equal(t, CoveragePoor, result.Quality.Coverage)
	assert.False(t, result.Cached)
	assert.False(t, result.Stale)
	require.Len(t, result.Failures, 2)
	for _, f := range result.Failures {
		assert.Equal(t, FailureTimeout, f.Kind)
		assert.ErrorIs(t, f.Err, context.DeadlineExceeded)
	}
}

func TestAggregateIgnoresAdapterBlockingPastTimeout(t *testing.T) {
	stuck := &stuckAdapter{fakeAdapter: newFake("stuck", 1), release: make(chan struct{})}
	defer close(stuck.release)

	agg, err := New([]Adapter{stuck},
		WithAdapterConfig("stuck", AdapterConfig{Enabled: true, Timeout: 20 * time.Millisecond}))
	require.NoError(t, err)

	result, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, FailureTimeout, result.Failures[0].Kind)
}

// stuckAdapter ignores its context until released.
type stuckAdapter struct {
	*fakeAdapter
	release chan struct{}
}

func (s *stuckAdapter) Fetch(context.Context, internal.Area) ([]feed.RawResult, error) {
	<-s.release
	return nil, nil
}

func TestAggregateFailureKinds(t *testing.T) {
	ok := newFake("ok", 1, partial("x", "", 0, baseTime, 1, 1))
	malformed := newFake("malformed", 2)
	malformed.err = fmt.Errorf("decode: %w", feed.ErrMalformed)
	broken := newFake("broken", 3)
	broken.err = &feed.FetchError{Source: "broken", StatusCode: 503, Status: "503 Service Unavailable"}
	panicky := newFake("panicky", 4)
	panicky.panics = true

	recorder := &countingRecorder{}
	agg, err := New([]Adapter{ok, malformed, broken, panicky}, WithRecorder(recorder))
	require.NoError(t, err)

	result, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)

	assert.Len(t, result.Records, 1)
	assert.Equal(t, []string{"ok"}, result.SourcesUsed)
	assert.Equal(t, CoverageGood, result.Quality.Coverage)

	kinds := make(map[string]FailureKind)
	for _, f := range result.Failures {
		kinds[f.Source] = f.Kind
	}
	assert.Equal(t, map[string]FailureKind{
		"broken":    FailureError,
		"malformed": FailureMalformed,
		"panicky":   FailureError,
	}, kinds)
	assert.Equal(t, "broken", result.Failures[0].Source)
	assert.ErrorIs(t, result.Failures[0].Err, feed.ErrUnavailable)
	assert.ErrorIs(t, result.Failures[2].Err, ErrAdapterPanic)

	assert.Equal(t, int32(4), recorder.fetches.Load())
	assert.Equal(t, int32(3), recorder.fetchErrs.Load())
	assert.Equal(t, int32(1), recorder.aggregates.Load())
}

func TestAggregateDropsInvalidAndOutsidePositions(t *testing.T) {
	adapter := newFake("a", 1,
		partial("inside", "", 0, baseTime, 5, 5),
		partial("outside", "", 0, baseTime, 20, 5),
		partial("nan", "", 0, baseTime, math.NaN(), 5),
		partial("null-island", "", 0, baseTime, 0, 0),
	)

	agg, err := New([]Adapter{adapter})
	require.NoError(t, err)

	result, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "inside", result.Records[0].ID)
}

func TestAggregateCache(t *testing.T) {
	adapter := newFake("a", 1, partial("x", "", 0, baseTime, 1, 1))
	clock := &fakeClock{now: baseTime}

	agg, err := New([]Adapter{adapter}, WithCache(5*time.Second, time.Minute), WithClock(clock.Now))
	require.NoError(t, err)

	first, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	clock.Advance(2 * time.Second)
	second, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.False(t, second.Stale)
	assert.Equal(t, 2*time.Second, second.Age)
	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, int32(1), adapter.calls.Load())

	// a slightly different area rounds to the same key
	nearby := internal.NewArea(0.001, 0.001, 10.001, 10.001)
	third, err := agg.Aggregate(context.Background(), nearby, Options{})
	require.NoError(t, err)
	assert.True(t, third.Cached)

	skipped, err := agg.Aggregate(context.Background(), testArea, Options{SkipCache: true})
	require.NoError(t, err)
	assert.False(t, skipped.Cached)
	assert.Equal(t, int32(2), adapter.calls.Load())

	clock.Advance(6 * time.Second)
	expired, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)
	assert.False(t, expired.Cached)
	assert.Equal(t, int32(3), adapter.calls.Load())
}

func TestAggregateStaleOnError(t *testing.T) {
	adapter := newFake("a", 1, partial("x", "", 0, baseTime, 1, 1))
	clock := &fakeClock{now: baseTime}

	agg, err := New([]Adapter{adapter}, WithCache(5*time.Second, 30*time.Second), WithClock(clock.Now))
	require.NoError(t, err)

	fresh, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)
	require.Len(t, fresh.Records, 1)

	adapter.failing.Store(true)

	clock.Advance(10 * time.Second)
	stale, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.True(t, stale.Cached)
	assert.Equal(t, 10*time.Second, stale.Age)
	assert.Equal(t, fresh.Records, stale.Records)
	require.Len(t, stale.Failures, 1)
	assert.Equal(t, FailureError, stale.Failures[0].Kind)

	clock.Advance(30 * time.Second)
	gone, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)
	assert.False(t, gone.Stale)
	assert.False(t, gone.Cached)
	assert.Empty(t, gone.Records)
	assert.Equal(t, CoveragePoor, gone.Quality.Coverage)
}

func TestAggregateSourceSubset(t *testing.T) {
	a := newFake("a", 1, partial("x", "", 0, baseTime, 1, 1))
	b := newFake("b", 2, partial("y", "", 0, baseTime, 2, 2))

	agg, err := New([]Adapter{a, b})
	require.NoError(t, err)

	result, err := agg.Aggregate(context.Background(), testArea, Options{Sources: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, result.SourcesUsed)
	assert.Equal(t, int32(0), a.calls.Load())
	assert.Equal(t, 1, result.Quality.SourcesQueried)

	// the full query has its own cache entry
	full, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)
	assert.False(t, full.Cached)
	assert.Len(t, full.Records, 2)

	_, err = agg.Aggregate(context.Background(), testArea, Options{Sources: []string{"nope"}})
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestAggregateCollapsesConcurrentRefreshes(t *testing.T) {
	adapter := newFake("a", 1, partial("x", "", 0, baseTime, 1, 1))
	adapter.delay = 100 * time.Millisecond

	agg, err := New([]Adapter{adapter})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, aggErr := agg.Aggregate(context.Background(), testArea, Options{})
			assert.NoError(t, aggErr)
			assert.Len(t, result.Records, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), adapter.calls.Load())
}

func TestAggregateCallerCancellation(t *testing.T) {
	adapter := newFake("a", 1, partial("x", "", 0, baseTime, 1, 1))
	adapter.delay = 100 * time.Millisecond

	agg, err := New([]Adapter{adapter})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = agg.Aggregate(ctx, testArea, Options{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the refresh keeps running and fills the cache
	require.Eventually(t, func() bool {
		return agg.cache.len() == 1
	}, time.Second, 10*time.Millisecond)

	result, err := agg.Aggregate(context.Background(), testArea, Options{})
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Len(t, result.Records, 1)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, testArea.Key(), cacheKey(testArea, nil))
	assert.Equal(t, testArea.Key()+"|src=a,b", cacheKey(testArea, []string{"b", "a", "b"}))
}
