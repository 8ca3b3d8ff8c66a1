package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/micutio/airfuse/internal/throttle"
)

// SnapshotSource provides throttler snapshots. *throttle.Throttler satisfies it.
type SnapshotSource interface {
	Metrics() throttle.Snapshot
}

// ThrottleCollector exports the counters of a throttler. Values are read on every scrape.
type ThrottleCollector struct {
	source SnapshotSource

	received       *prometheus.Desc
	processed      *prometheus.Desc
	dropped        *prometheus.Desc
	evicted        *prometheus.Desc
	superseded     *prometheus.Desc
	skippedTicks   *prometheus.Desc
	batches        *prometheus.Desc
	consumerErrors *prometheus.Desc
	avgBatchSize   *prometheus.Desc
	avgProcessing  *prometheus.Desc
	queueDepth     *prometheus.Desc
}

var _ prometheus.Collector = (*ThrottleCollector)(nil)

func throttleDesc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "throttle", name), help, labels, nil)
}

// NewThrottleCollector creates a collector reading source.
func NewThrottleCollector(source SnapshotSource) *ThrottleCollector {
	return &ThrottleCollector{
		source:         source,
		received:       throttleDesc("received_total", "Total number of enqueued updates."),
		processed:      throttleDesc("processed_total", "Total number of updates handed to the consumer."),
		dropped:        throttleDesc("dropped_total", "Total number of updates rejected by a full queue."),
		evicted:        throttleDesc("evicted_total", "Total number of queued updates evicted by higher scores."),
		superseded:     throttleDesc("superseded_total", "Total number of queued updates replaced by newer ones."),
		skippedTicks:   throttleDesc("skipped_ticks_total", "Total number of ticks skipped while a drain was running."),
		batches:        throttleDesc("batches_total", "Total number of delivered batches."),
		consumerErrors: throttleDesc("consumer_errors_total", "Total number of batches the consumer failed on."),
		avgBatchSize:   throttleDesc("avg_batch_size", "Average size of the recent batches."),
		avgProcessing:  throttleDesc("avg_processing_seconds", "Average consumer time of the recent batches."),
		queueDepth:     throttleDesc("queue_depth", "Number of queued updates per priority class.", "class"),
	}
}

// Register registers c with reg, defaulting to the global registry when nil.
func (c *ThrottleCollector) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	_, err := register(reg, prometheus.Collector(c))
	return err
}

// Describe implements prometheus.Collector.
func (c *ThrottleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.received
	ch <- c.processed
	ch <- c.dropped
	ch <- c.evicted
	ch <- c.superseded
	ch <- c.skippedTicks
	ch <- c.batches
	ch <- c.consumerErrors
	ch <- c.avgBatchSize
	ch <- c.avgProcessing
	ch <- c.queueDepth
}

// Collect implements prometheus.Collector.
func (c *ThrottleCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Metrics()

	counter := func(desc *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	counter(c.received, s.Received)
	counter(c.processed, s.Processed)
	counter(c.dropped, s.Dropped)
	counter(c.evicted, s.Evicted)
	counter(c.superseded, s.Superseded)
	counter(c.skippedTicks, s.SkippedTicks)
	counter(c.batches, s.Batches)
	counter(c.consumerErrors, s.ConsumerErrors)

	ch <- prometheus.MustNewConstMetric(c.avgBatchSize, prometheus.GaugeValue, s.AvgBatchSize)
	ch <- prometheus.MustNewConstMetric(c.avgProcessing, prometheus.GaugeValue, s.AvgProcessingTime.Seconds())
	for _, class := range throttle.Classes {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue,
			float64(s.QueueDepth[class]), class.String())
	}
}

// RegisterClientGauge exports the number of connected websocket clients as read from count.
func RegisterClientGauge(reg prometheus.Registerer, count func() int) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	_, err := register(reg, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "websocket_clients",
		Help:      "Number of connected websocket clients.",
	}, func() float64 { return float64(count()) }))
	return err
}
