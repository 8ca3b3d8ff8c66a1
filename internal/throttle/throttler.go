// Package throttle delivers a stream of per-aircraft updates to a consumer at a rate it can absorb.
//
// Every update is classified into a priority class. Each class has a bounded queue holding at most
// one entry per aircraft and its own drain cadence. On every tick of a class, the highest scoring
// entries are handed to the consumer as one batch.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/micutio/airfuse/internal"
)

const defaultHistoryTTL = 2 * time.Minute

var (
	ErrAlreadyStarted = errors.New("throttler already started")
	ErrStopped        = errors.New("throttler stopped")
	ErrConsumerPanic  = errors.New("consumer panicked")
)

// Consumer receives drained batches. Batches are never empty and sorted by descending score.
// OnBatch should return well within the tick interval of the class.
type Consumer interface {
	OnBatch(class Class, entries []Entry) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(class Class, entries []Entry) error

// OnBatch calls f.
func (f ConsumerFunc) OnBatch(class Class, entries []Entry) error {
	return f(class, entries)
}

// OverflowOutcome tells what happened on an enqueue into a full queue.
type OverflowOutcome string

// Overflow outcomes.
const (
	OverflowEvicted OverflowOutcome = "evicted"
	OverflowDropped OverflowOutcome = "dropped"
)

// OverflowEvent reports an entry that left a queue undelivered because it was full.
// For OverflowEvicted, ID and Score describe the evicted entry and By the entry that replaced it.
type OverflowEvent struct {
	Class   Class
	Outcome OverflowOutcome
	ID      string
	Score   float64
	By      string
}

// OverflowFunc is called for every overflow, outside of any queue lock.
type OverflowFunc func(OverflowEvent)

// ConsumerErrorFunc is called when the consumer returned an error or panicked.
type ConsumerErrorFunc func(class Class, err error)

// ClassConfig configures one priority class.
type ClassConfig struct {
	MaxQueueSize int           `mapstructure:"max_queue_size"`
	BatchSize    int           `mapstructure:"batch_size"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// DefaultClassConfig returns the defaults of a class.
func DefaultClassConfig(class Class) ClassConfig {
	switch class {
	case Critical:
		return ClassConfig{MaxQueueSize: 256, BatchSize: 32, TickInterval: 250 * time.Millisecond}
	case Low:
		return ClassConfig{MaxQueueSize: 1024, BatchSize: 64, TickInterval: 5 * time.Second}
	default:
		return ClassConfig{MaxQueueSize: 2048, BatchSize: 128, TickInterval: time.Second}
	}
}

// Option configures a Throttler.
type Option func(*Throttler)

// WithClassConfig overrides the configuration of one class. Non-positive values keep the default.
func WithClassConfig(class Class, cfg ClassConfig) Option {
	return func(t *Throttler) {
		if !class.valid() {
			return
		}
		def := t.classes[class].cfg
		if cfg.MaxQueueSize <= 0 {
			cfg.MaxQueueSize = def.MaxQueueSize
		}
		if cfg.BatchSize <= 0 {
			cfg.BatchSize = def.BatchSize
		}
		if cfg.TickInterval <= 0 {
			cfg.TickInterval = def.TickInterval
		}
		t.classes[class].cfg = cfg
	}
}

// WithThresholds sets the classification and scoring thresholds.
func WithThresholds(th Thresholds) Option {
	return func(t *Throttler) {
		t.thresholds = th
	}
}

// WithOverflowFunc sets the overflow callback.
func WithOverflowFunc(f OverflowFunc) Option {
	return func(t *Throttler) {
		t.onOverflow = f
	}
}

// WithConsumerErrorFunc sets the callback for consumer failures.
func WithConsumerErrorFunc(f ConsumerErrorFunc) Option {
	return func(t *Throttler) {
		t.onConsumerError = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Throttler) {
		t.logger = logger
	}
}

// WithHistoryTTL sets how long the last payload of an aircraft is kept as the baseline for
// scoring its next update.
func WithHistoryTTL(d time.Duration) Option {
	return func(t *Throttler) {
		if d > 0 {
			t.historyTTL = d
		}
	}
}

// WithClock replaces time.Now for enqueue timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Throttler) {
		t.now = now
	}
}

type classState struct {
	cfg     ClassConfig
	queue   *queue
	drainMu sync.Mutex // held while a drain of the class runs
}

// Throttler owns one queue per priority class and drains them on independent schedules.
type Throttler struct {
	consumer        Consumer
	classes         [classCount]*classState
	thresholds      Thresholds
	onOverflow      OverflowFunc
	onConsumerError ConsumerErrorFunc
	logger          zerolog.Logger
	now             func() time.Time
	metrics         counters
	historyTTL      time.Duration
	lastSeen        *cache.Cache // latest payload per ID

	// enqueueMu is held shared by Enqueue and exclusively by Stop while it marks the throttler
	// stopped, so no entry is pushed after the queues were cleared.
	enqueueMu sync.RWMutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a throttler delivering to consumer. It does not drain until started.
func New(consumer Consumer, opts ...Option) *Throttler {
	t := &Throttler{
		consumer:   consumer,
		thresholds: DefaultThresholds(),
		logger:     zerolog.Nop(),
		now:        time.Now,
		historyTTL: defaultHistoryTTL,
	}
	for _, c := range Classes {
		t.classes[c] = &classState{cfg: DefaultClassConfig(c)}
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, c := range Classes {
		t.classes[c].queue = newQueue(t.classes[c].cfg.MaxQueueSize)
	}
	t.lastSeen = cache.New(t.historyTTL, t.historyTTL/2) //nolint:mnd // purge twice per TTL

	return t
}

// Config returns the effective configuration of a class.
func (t *Throttler) Config(class Class) ClassConfig {
	return t.classes[class].cfg
}

// Start launches one scheduler per class. The schedulers stop when ctx is done or Stop is called.
func (t *Throttler) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return fmt.Errorf("throttle.Start: %w", ErrStopped)
	}
	if t.cancel != nil {
		return fmt.Errorf("throttle.Start: %w", ErrAlreadyStarted)
	}

	ctx, t.cancel = context.WithCancel(ctx)
	for _, c := range Classes {
		t.wg.Add(1)
		go t.schedule(ctx, c)
	}

	t.logger.Debug().Msg("throttler started")
	return nil
}

// schedule runs the drains of one class. Every drain runs in its own goroutine so that a tick
// arriving while the previous drain is still busy is skipped instead of piling up.
func (t *Throttler) schedule(ctx context.Context, class Class) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.classes[class].cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.DrainTick(class)
			}()
		}
	}
}

// Stop cancels all schedulers, waits for running drains and clears the queues. Pending entries are
// discarded; call FlushAll first to deliver them.
func (t *Throttler) Stop() {
	t.enqueueMu.Lock()
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		t.enqueueMu.Unlock()
		return
	}
	t.stopped = true
	cancel := t.cancel
	t.mu.Unlock()
	t.enqueueMu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	discarded := 0
	for _, c := range Classes {
		discarded += t.classes[c].queue.clear()
	}
	t.lastSeen.Flush()
	t.logger.Debug().Int("discarded", discarded).Msg("throttler stopped")
}

func (t *Throttler) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Enqueue classifies the update and queues it. It reports whether the update was admitted;
// replacing a queued entry for the same ID counts as admitted.
func (t *Throttler) Enqueue(id string, payload internal.AircraftRecord) bool {
	if id == "" {
		return false
	}
	class := Classify(payload, t.thresholds)
	result, ok := t.push(id, class, payload)
	if !ok {
		return false
	}

	switch result.outcome {
	case outcomeAdmitted:
		return true
	case outcomeSuperseded:
		t.metrics.superseded.Add(1)
		return true
	case outcomeEvicted:
		t.metrics.evicted.Add(1)
		t.logger.Debug().Str("class", class.String()).Str("evicted", result.evicted.ID).
			Str("by", id).Msg("queue full, entry evicted")
		t.overflow(OverflowEvent{
			Class:   class,
			Outcome: OverflowEvicted,
			ID:      result.evicted.ID,
			Score:   result.evicted.Score,
			By:      id,
		})
		return true
	default:
		t.metrics.dropped.Add(1)
		t.logger.Debug().Str("class", class.String()).Str("id", id).Float64("score", result.score).
			Msg("queue full, update dropped")
		t.overflow(OverflowEvent{Class: class, Outcome: OverflowDropped, ID: id, Score: result.score})
		return false
	}
}

// push queues the payload unless the throttler is stopped. The score of a new entry is based on the
// last payload enqueued for the same ID, even if that one was already delivered or went to
// another class.
func (t *Throttler) push(id string, class Class, payload internal.AircraftRecord) (pushResult, bool) {
	t.enqueueMu.RLock()
	defer t.enqueueMu.RUnlock()

	if t.isStopped() {
		return pushResult{}, false
	}
	t.metrics.received.Add(1)

	var lastSeen *internal.AircraftRecord
	if v, found := t.lastSeen.Get(id); found {
		previous := v.(internal.AircraftRecord) //nolint:forcetypeassert // only records are stored
		lastSeen = &previous
	}
	result := t.classes[class].queue.push(id, class, payload, lastSeen, t.thresholds, t.now())
	t.lastSeen.SetDefault(id, payload)

	return result, true
}

func (t *Throttler) overflow(event OverflowEvent) {
	if t.onOverflow != nil {
		t.onOverflow(event)
	}
}

// DrainTick delivers one batch of the class. It returns false without doing anything if a drain
// of the class is already running.
func (t *Throttler) DrainTick(class Class) bool {
	if !class.valid() {
		return false
	}

	state := t.classes[class]
	if !state.drainMu.TryLock() {
		t.metrics.skippedTicks.Add(1)
		return false
	}
	defer state.drainMu.Unlock()

	t.drain(class, state)
	return true
}

// FlushAll drains every class until its queue is empty, waiting for running drains.
func (t *Throttler) FlushAll() {
	for _, c := range Classes {
		state := t.classes[c]
		state.drainMu.Lock()
		for t.drain(c, state) > 0 {
		}
		state.drainMu.Unlock()
	}
}

// drain delivers one batch and returns its size. The caller holds state.drainMu.
func (t *Throttler) drain(class Class, state *classState) int {
	batch := state.queue.take(state.cfg.BatchSize)
	if len(batch) == 0 {
		return 0
	}

	start := time.Now()
	err := t.deliver(class, batch)
	t.metrics.recordBatch(len(batch), time.Since(start))

	if err != nil {
		t.metrics.consumerErrors.Add(1)
		t.logger.Warn().Err(err).Str("class", class.String()).Int("batch", len(batch)).
			Msg("consumer failed")
		if t.onConsumerError != nil {
			t.onConsumerError(class, err)
		}
	}

	return len(batch)
}

func (t *Throttler) deliver(class Class, batch []Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrConsumerPanic, r)
		}
	}()
	return t.consumer.OnBatch(class, batch)
}

// QueueLen returns the number of entries queued in a class.
func (t *Throttler) QueueLen(class Class) int {
	if !class.valid() {
		return 0
	}
	return t.classes[class].queue.len()
}

// MinScore returns the lowest score queued in a class.
func (t *Throttler) MinScore(class Class) (float64, bool) {
	if !class.valid() {
		return 0, false
	}
	return t.classes[class].queue.minScore()
}

// Metrics returns a snapshot of the counters and queue depths.
func (t *Throttler) Metrics() Snapshot {
	s := t.metrics.snapshot()
	s.QueueDepth = make(map[Class]int, classCount)
	for _, c := range Classes {
		s.QueueDepth[c] = t.classes[c].queue.len()
	}
	return s
}
