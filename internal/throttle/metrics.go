package throttle

import (
	"sync"
	"sync/atomic"
	"time"
)

// rollingWindow is the number of recent batches the averages are computed over.
const rollingWindow = 64

// Snapshot is a point-in-time copy of the throttler counters.
type Snapshot struct {
	Received          uint64
	Processed         uint64
	Dropped           uint64
	Evicted           uint64
	Superseded        uint64
	SkippedTicks      uint64
	Batches           uint64
	ConsumerErrors    uint64
	AvgBatchSize      float64
	AvgProcessingTime time.Duration
	QueueDepth        map[Class]int
}

type counters struct {
	received       atomic.Uint64
	processed      atomic.Uint64
	dropped        atomic.Uint64
	evicted        atomic.Uint64
	superseded     atomic.Uint64
	skippedTicks   atomic.Uint64
	batches        atomic.Uint64
	consumerErrors atomic.Uint64

	mu        sync.Mutex
	sizes     [rollingWindow]int
	durations [rollingWindow]time.Duration
	next      int
	filled    int
}

func (c *counters) recordBatch(size int, took time.Duration) {
	c.batches.Add(1)
	c.processed.Add(uint64(size)) //nolint:gosec // size is never negative

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sizes[c.next] = size
	c.durations[c.next] = took
	c.next = (c.next + 1) % rollingWindow
	c.filled = min(c.filled+1, rollingWindow)
}

func (c *counters) snapshot() Snapshot {
	s := Snapshot{
		Received:       c.received.Load(),
		Processed:      c.processed.Load(),
		Dropped:        c.dropped.Load(),
		Evicted:        c.evicted.Load(),
		Superseded:     c.superseded.Load(),
		SkippedTicks:   c.skippedTicks.Load(),
		Batches:        c.batches.Load(),
		ConsumerErrors: c.consumerErrors.Load(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filled == 0 {
		return s
	}

	var totalSize int
	var totalTime time.Duration
	for i := range c.filled {
		totalSize += c.sizes[i]
		totalTime += c.durations[i]
	}
	s.AvgBatchSize = float64(totalSize) / float64(c.filled)
	s.AvgProcessingTime = totalTime / time.Duration(c.filled)

	return s
}
