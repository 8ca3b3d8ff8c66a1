// Package metrics exposes airfuse measurements as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/micutio/airfuse/internal/aggregate"
)

const namespace = "airfuse"

// Aggregate results by how they were produced.
const (
	resultFresh  = "fresh"
	resultCached = "cached"
	resultStale  = "stale"
)

// AggregateRecorder records feed requests and aggregation results. It implements
// aggregate.Recorder.
type AggregateRecorder struct {
	FeedRequests  *prometheus.CounterVec
	FeedDurations *prometheus.HistogramVec

	Results        *prometheus.CounterVec
	SourceFailures *prometheus.CounterVec
	QualityScore   prometheus.Gauge
	Records        prometheus.Gauge
	ResultAge      prometheus.Gauge
}

var _ aggregate.Recorder = (*AggregateRecorder)(nil)

// NewAggregateRecorder registers the aggregation metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewAggregateRecorder(reg prometheus.Registerer) (*AggregateRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "requests_total",
		Help:      "Total number of feed requests, labeled by source and outcome.",
	}, []string{"source", "outcome"}))
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "request_duration_seconds",
		Help:      "Feed request latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
	}, []string{"source"}))
	if err != nil {
		return nil, err
	}

	results, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregate",
		Name:      "results_total",
		Help:      "Total number of aggregation results, labeled by fresh, cached or stale.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	failures, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregate",
		Name:      "source_failures_total",
		Help:      "Total number of failed source queries, labeled by source and failure kind.",
	}, []string{"source", "kind"}))
	if err != nil {
		return nil, err
	}

	score, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "aggregate",
		Name:      "quality_score",
		Help:      "Quality score of the latest aggregation result, 0 to 100.",
	}))
	if err != nil {
		return nil, err
	}

	records, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "aggregate",
		Name:      "records",
		Help:      "Number of aircraft in the latest aggregation result.",
	}))
	if err != nil {
		return nil, err
	}

	age, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "aggregate",
		Name:      "result_age_seconds",
		Help:      "Age of the latest aggregation result in seconds.",
	}))
	if err != nil {
		return nil, err
	}

	return &AggregateRecorder{
		FeedRequests:   requests,
		FeedDurations:  durations,
		Results:        results,
		SourceFailures: failures,
		QualityScore:   score,
		Records:        records,
		ResultAge:      age,
	}, nil
}

// ObserveFetch records one feed request.
func (r *AggregateRecorder) ObserveFetch(source string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.FeedRequests.WithLabelValues(source, outcome).Inc()
	r.FeedDurations.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveAggregate records an aggregation result. Failures are counted only when they happened
// during this call, not when a cached result is served again.
func (r *AggregateRecorder) ObserveAggregate(result *aggregate.Result) {
	if result == nil {
		return
	}

	label := resultFresh
	switch {
	case result.Stale:
		label = resultStale
	case result.Cached:
		label = resultCached
	}
	r.Results.WithLabelValues(label).Inc()

	if label != resultCached {
		for _, f := range result.Failures {
			r.SourceFailures.WithLabelValues(f.Source, string(f.Kind)).Inc()
		}
	}

	r.QualityScore.Set(float64(result.Quality.Score))
	r.Records.Set(float64(len(result.Records)))
	r.ResultAge.Set(result.Age.Seconds())
}

// register registers c, returning the already registered collector of the same type instead of
// failing.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("register: collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, fmt.Errorf("register: %w", err)
	}
	return c, nil
}
