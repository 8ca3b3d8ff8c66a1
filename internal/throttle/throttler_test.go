package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/micutio/airfuse/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cruising builds a normal class payload scoring altitude/1000.
func cruising(altitude float64) internal.AircraftRecord {
	return internal.AircraftRecord{Position: internal.Position{Altitude: ptr(altitude)}}
}

type recordingConsumer struct {
	mu      sync.Mutex
	batches [][]Entry
	classes []Class
}

func (r *recordingConsumer) OnBatch(class Class, entries []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, entries)
	r.classes = append(r.classes, class)
	return nil
}

func (r *recordingConsumer) delivered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestOverflowAdmission(t *testing.T) {
	// capacity 2 holding scores 10 and 20
	var events []OverflowEvent
	consumer := &recordingConsumer{}
	th := New(consumer,
		WithClassConfig(Normal, ClassConfig{MaxQueueSize: 2, BatchSize: 2}),
		WithOverflowFunc(func(e OverflowEvent) { events = append(events, e) }),
	)

	require.True(t, th.Enqueue("ten", cruising(10000)))
	require.True(t, th.Enqueue("twenty", cruising(20000)))

	assert.True(t, th.Enqueue("twentyfive", cruising(25000)))
	// the minimum is now 20
	assert.False(t, th.Enqueue("fifteen", cruising(15000)))
	assert.False(t, th.Enqueue("another-twenty", cruising(20000)))
	assert.Equal(t, 2, th.QueueLen(Normal))

	require.Len(t, events, 3)
	assert.Equal(t, OverflowEvent{Class: Normal, Outcome: OverflowEvicted, ID: "ten", Score: 10, By: "twentyfive"},
		events[0])
	assert.Equal(t, OverflowEvent{Class: Normal, Outcome: OverflowDropped, ID: "fifteen", Score: 15}, events[1])

	require.True(t, th.DrainTick(Normal))
	require.Len(t, consumer.batches, 1)
	ids := []string{consumer.batches[0][0].ID, consumer.batches[0][1].ID}
	assert.Equal(t, []string{"twentyfive", "twenty"}, ids)

	m := th.Metrics()
	assert.Equal(t, uint64(5), m.Received)
	assert.Equal(t, uint64(2), m.Dropped)
	assert.Equal(t, uint64(1), m.Evicted)
	assert.Equal(t, uint64(2), m.Processed)
}

func TestQueueBoundedUnderLoad(t *testing.T) {
	const capacity = 8
	th := New(&recordingConsumer{}, WithClassConfig(Normal, ClassConfig{MaxQueueSize: capacity}))

	for i := range 200 {
		altitude := float64(1000 + (i*7919)%40000)
		score := Score(cruising(altitude), nil, DefaultThresholds())

		minScore, hasMin := th.MinScore(Normal)
		full := th.QueueLen(Normal) == capacity
		accepted := th.Enqueue(string(rune('a'+i%26))+string(rune('0'+i/26)), cruising(altitude))

		if full {
			require.True(t, hasMin)
			assert.Equal(t, score > minScore, accepted, "enqueue %d", i)
		} else {
			assert.True(t, accepted)
		}
		require.LessOrEqual(t, th.QueueLen(Normal), capacity)
	}
}

func TestDrainBatchOrder(t *testing.T) {
	consumer := &recordingConsumer{}
	th := New(consumer, WithClassConfig(Normal, ClassConfig{BatchSize: 3}))

	for i, alt := range []float64{5000, 30000, 12000, 30000, 8000, 41000, 1000} {
		require.True(t, th.Enqueue(string(rune('a'+i)), cruising(alt)))
	}

	require.True(t, th.DrainTick(Normal))
	require.Len(t, consumer.batches, 1)
	batch := consumer.batches[0]
	require.Len(t, batch, 3)
	for i := 1; i < len(batch); i++ {
		assert.GreaterOrEqual(t, batch[i-1].Score, batch[i].Score)
	}
	assert.Equal(t, "f", batch[0].ID)
	assert.Equal(t, 4, th.QueueLen(Normal))

	// nothing queued in another class, the consumer is not called
	require.True(t, th.DrainTick(Low))
	assert.Len(t, consumer.batches, 1)
}

func TestDrainTiesByEnqueueTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}

	consumer := &recordingConsumer{}
	th := New(consumer, WithClock(clock))
	require.True(t, th.Enqueue("z", cruising(10000)))
	require.True(t, th.Enqueue("a", cruising(10000)))

	require.True(t, th.DrainTick(Normal))
	require.Len(t, consumer.batches[0], 2)
	assert.Equal(t, "z", consumer.batches[0][0].ID)
	assert.Equal(t, "a", consumer.batches[0][1].ID)
}

func TestEnqueueSupersedes(t *testing.T) {
	consumer := &recordingConsumer{}
	th := New(consumer)

	first := internal.AircraftRecord{
		ID:       "x",
		Position: internal.Position{Altitude: ptr(10000), Heading: ptr(0), GroundSpeed: ptr(300)},
	}
	second := internal.AircraftRecord{
		ID:       "x",
		Callsign: "SECOND",
		Position: internal.Position{Altitude: ptr(10000), Heading: ptr(90), GroundSpeed: ptr(300)},
	}

	require.True(t, th.Enqueue("x", first))
	require.True(t, th.Enqueue("x", second))
	assert.Equal(t, 1, th.QueueLen(Normal))

	require.True(t, th.DrainTick(Normal))
	require.Len(t, consumer.batches, 1)
	require.Len(t, consumer.batches[0], 1)

	entry := consumer.batches[0][0]
	assert.Equal(t, "SECOND", entry.Payload.Callsign)
	require.NotNil(t, entry.Previous)
	assert.InDelta(t, 0, *entry.Previous.Position.Heading, 0)
	// 10 altitude + 15 speed + 10 callsign + 25 heading change
	assert.InDelta(t, 60, entry.Score, 1e-9)
	assert.Equal(t, uint64(1), th.Metrics().Superseded)
}

func TestClassMigration(t *testing.T) {
	consumer := &recordingConsumer{}
	th := New(consumer)

	require.True(t, th.Enqueue("x", cruising(20000)))
	emergency := cruising(20000)
	emergency.Squawk = "7700"
	require.True(t, th.Enqueue("x", emergency))

	assert.Equal(t, 1, th.QueueLen(Normal))
	assert.Equal(t, 1, th.QueueLen(Critical))

	require.True(t, th.DrainTick(Critical))
	require.Len(t, consumer.batches, 1)
	assert.Equal(t, Critical, consumer.classes[0])
	assert.Equal(t, Critical, consumer.batches[0][0].Class)
}

func TestScoreAgainstDeliveredPayload(t *testing.T) {
	turning := func(heading float64) internal.AircraftRecord {
		return internal.AircraftRecord{
			ID:       "x",
			Position: internal.Position{Altitude: ptr(10000), Heading: ptr(heading), GroundSpeed: ptr(300)},
		}
	}

	tests := []struct {
		name     string
		opts     []Option
		wait     time.Duration
		expected float64
	}{
		// 10 altitude + 15 speed + 25 heading change
		{name: "turn after delivery", expected: 50},
		{name: "history expired", opts: []Option{WithHistoryTTL(10 * time.Millisecond)}, wait: 30 * time.Millisecond, expected: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer := &recordingConsumer{}
			th := New(consumer, tt.opts...)

			require.True(t, th.Enqueue("x", turning(10)))
			require.True(t, th.DrainTick(Normal))
			time.Sleep(tt.wait)

			require.True(t, th.Enqueue("x", turning(100)))
			require.True(t, th.DrainTick(Normal))

			require.Len(t, consumer.batches, 2)
			assert.InDelta(t, 25, consumer.batches[0][0].Score, 1e-9)
			assert.InDelta(t, tt.expected, consumer.batches[1][0].Score, 1e-9)
			assert.Nil(t, consumer.batches[1][0].Previous)
		})
	}
}

func TestScoreAcrossClassMigration(t *testing.T) {
	consumer := &recordingConsumer{}
	th := New(consumer)

	slow := internal.AircraftRecord{Position: internal.Position{Altitude: ptr(300), GroundSpeed: ptr(40)}}
	fast := internal.AircraftRecord{Position: internal.Position{Altitude: ptr(3000), GroundSpeed: ptr(200)}}

	require.True(t, th.Enqueue("x", slow))
	require.Equal(t, 1, th.QueueLen(Low))
	require.True(t, th.Enqueue("x", fast))
	require.True(t, th.DrainTick(Normal))

	require.Len(t, consumer.batches, 1)
	// 3 altitude + 10 speed + 25 speed change
	assert.InDelta(t, 38, consumer.batches[0][0].Score, 1e-9)
}

func TestEnqueueRacingStop(t *testing.T) {
	th := New(&recordingConsumer{})
	require.NoError(t, th.Start(context.Background()))

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				if !th.Enqueue(string(rune('a'+w))+string(rune('0'+i%10)), cruising(10000)) {
					return
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	th.Stop()
	wg.Wait()

	for _, c := range Classes {
		assert.Equal(t, 0, th.QueueLen(c), "class %s", c)
	}
}

func TestConsumerFailuresAreIsolated(t *testing.T) {
	var calls atomic.Int32
	var reported []error
	consumer := ConsumerFunc(func(Class, []Entry) error {
		switch calls.Add(1) {
		case 1:
			panic("renderer exploded")
		case 2:
			return errors.New("socket closed")
		}
		return nil
	})

	th := New(consumer,
		WithClassConfig(Normal, ClassConfig{BatchSize: 1}),
		WithConsumerErrorFunc(func(_ Class, err error) { reported = append(reported, err) }),
	)
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, th.Enqueue(id, cruising(10000)))
	}

	for range 3 {
		assert.True(t, th.DrainTick(Normal))
	}

	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, reported, 2)
	assert.ErrorIs(t, reported[0], ErrConsumerPanic)
	assert.EqualError(t, reported[1], "socket closed")

	m := th.Metrics()
	assert.Equal(t, uint64(2), m.ConsumerErrors)
	assert.Equal(t, uint64(3), m.Processed)
	assert.Equal(t, uint64(3), m.Batches)
	assert.Equal(t, 0, th.QueueLen(Normal))
}

func TestDrainTickSingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	consumer := ConsumerFunc(func(Class, []Entry) error {
		close(entered)
		<-release
		return nil
	})

	th := New(consumer, WithClassConfig(Normal, ClassConfig{BatchSize: 1}))
	require.True(t, th.Enqueue("a", cruising(10000)))
	require.True(t, th.Enqueue("b", cruising(10000)))

	done := make(chan bool)
	go func() { done <- th.DrainTick(Normal) }()
	<-entered

	assert.False(t, th.DrainTick(Normal))
	// other classes are not blocked
	assert.True(t, th.DrainTick(Low))

	close(release)
	assert.True(t, <-done)
	assert.Equal(t, uint64(1), th.Metrics().SkippedTicks)
	assert.Equal(t, 1, th.QueueLen(Normal))
}

func TestFlushAll(t *testing.T) {
	consumer := &recordingConsumer{}
	th := New(consumer,
		WithClassConfig(Critical, ClassConfig{BatchSize: 2}),
		WithClassConfig(Normal, ClassConfig{BatchSize: 2}),
		WithClassConfig(Low, ClassConfig{BatchSize: 2}),
	)

	for i := range 5 {
		require.True(t, th.Enqueue(string(rune('n'+i)), cruising(10000+float64(i)*1000)))
	}
	for i := range 3 {
		payload := internal.AircraftRecord{Position: internal.Position{OnGround: true}}
		require.True(t, th.Enqueue(string(rune('a'+i)), payload))
	}
	require.True(t, th.Enqueue("sos", internal.AircraftRecord{Squawk: "7500"}))

	th.FlushAll()

	assert.Equal(t, 9, consumer.delivered())
	assert.Equal(t, []Class{Critical, Normal, Normal, Normal, Low, Low}, consumer.classes)
	for _, c := range Classes {
		assert.Equal(t, 0, th.QueueLen(c))
	}
	assert.InDelta(t, 1.5, th.Metrics().AvgBatchSize, 1e-9)
}

func TestStopClearsWithoutDelivering(t *testing.T) {
	consumer := &recordingConsumer{}
	th := New(consumer)
	require.NoError(t, th.Start(context.Background()))

	require.True(t, th.Enqueue("a", cruising(10000)))
	th.Stop()
	th.Stop()

	assert.Equal(t, 0, th.QueueLen(Normal))
	assert.Equal(t, 0, consumer.delivered())
	assert.False(t, th.Enqueue("b", cruising(10000)))
	assert.ErrorIs(t, th.Start(context.Background()), ErrStopped)
}

func TestSchedulerDrains(t *testing.T) {
	consumer := &recordingConsumer{}
	th := New(consumer, WithClassConfig(Critical, ClassConfig{TickInterval: 10 * time.Millisecond}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, th.Start(ctx))
	defer th.Stop()
	assert.ErrorIs(t, th.Start(ctx), ErrAlreadyStarted)

	require.True(t, th.Enqueue("sos", internal.AircraftRecord{Emergency: "general"}))

	require.Eventually(t, func() bool {
		return consumer.delivered() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEnqueueRejectsEmptyID(t *testing.T) {
	th := New(&recordingConsumer{})
	assert.False(t, th.Enqueue("", cruising(10000)))
	assert.Equal(t, uint64(0), th.Metrics().Received)
}

func TestMetricsRollingAverage(t *testing.T) {
	th := New(&recordingConsumer{}, WithClassConfig(Normal, ClassConfig{BatchSize: 4}))

	for i := range 2 {
		require.True(t, th.Enqueue(string(rune('a'+i)), cruising(10000)))
	}
	require.True(t, th.DrainTick(Normal))
	for i := range 4 {
		require.True(t, th.Enqueue(string(rune('k'+i)), cruising(10000)))
	}
	require.True(t, th.DrainTick(Normal))

	m := th.Metrics()
	assert.InDelta(t, 3, m.AvgBatchSize, 1e-9)
	assert.Equal(t, uint64(2), m.Batches)
	assert.Equal(t, map[Class]int{Critical: 0, Normal: 0, Low: 0}, m.QueueDepth)
}
