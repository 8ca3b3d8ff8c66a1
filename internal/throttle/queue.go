package throttle

import (
	"cmp"
	"container/heap"
	"slices"
	"sync"
	"time"

	"github.com/micutio/airfuse/internal"
)

// Entry is a queued update for one aircraft.
type Entry struct {
	ID         string                   `json:"id"`
	Payload    internal.AircraftRecord  `json:"payload"`
	Previous   *internal.AircraftRecord `json:"-"` // payload superseded while queued
	Score      float64                  `json:"score"`
	Class      Class                    `json:"class"`
	EnqueuedAt time.Time                `json:"enqueued_at"`

	index int // position in the eviction heap
}

// drainOrder sorts entries the way batches are delivered: highest score first, then oldest,
// then by ID.
func drainOrder(a, b *Entry) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// evictionHeap keeps the entry that would be drained last on top.
type evictionHeap []*Entry

func (h evictionHeap) Len() int           { return len(h) }
func (h evictionHeap) Less(i, j int) bool { return drainOrder(h[i], h[j]) > 0 }
func (h evictionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *evictionHeap) Push(x any) {
	e := x.(*Entry) //nolint:forcetypeassert // heap only holds entries
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *evictionHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

type pushOutcome int

const (
	outcomeAdmitted pushOutcome = iota
	outcomeSuperseded
	outcomeEvicted
	outcomeDropped
)

type pushResult struct {
	outcome pushOutcome
	score   float64
	evicted *Entry
}

// queue is the bounded queue of one priority class. It holds at most one entry per ID.
type queue struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*Entry
	heap     evictionHeap
}

func newQueue(capacity int) *queue {
	return &queue{
		capacity: capacity,
		entries:  make(map[string]*Entry, capacity),
		heap:     make(evictionHeap, 0, capacity),
	}
}

// push inserts or replaces the entry for id. The score is computed against the entry currently
// queued for id, or against lastSeen when nothing is queued.
func (q *queue) push(
	id string, class Class, payload internal.AircraftRecord, lastSeen *internal.AircraftRecord, th Thresholds, now time.Time,
) pushResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.entries[id]; ok {
		previous := existing.Payload
		existing.Previous = &previous
		existing.Payload = payload
		existing.Score = Score(payload, &previous, th)
		existing.EnqueuedAt = now
		heap.Fix(&q.heap, existing.index)
		return pushResult{outcome: outcomeSuperseded, score: existing.Score}
	}

	entry := &Entry{
		ID:         id,
		Payload:    payload,
		Score:      Score(payload, lastSeen, th),
		Class:      class,
		EnqueuedAt: now,
	}

	result := pushResult{outcome: outcomeAdmitted, score: entry.Score}
	if len(q.heap) >= q.capacity {
		lowest := q.heap[0]
		if entry.Score <= lowest.Score {
			return pushResult{outcome: outcomeDropped, score: entry.Score}
		}
		heap.Pop(&q.heap)
		delete(q.entries, lowest.ID)
		result = pushResult{outcome: outcomeEvicted, score: entry.Score, evicted: lowest}
	}

	q.entries[id] = entry
	heap.Push(&q.heap, entry)

	return result
}

// take removes up to n entries in drain order.
func (q *queue) take(n int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 || n <= 0 {
		return nil
	}

	ordered := slices.Clone(q.heap)
	slices.SortFunc(ordered, drainOrder)
	if len(ordered) > n {
		ordered = ordered[:n]
	}

	batch := make([]Entry, len(ordered))
	for i, e := range ordered {
		heap.Remove(&q.heap, e.index)
		delete(q.entries, e.ID)
		batch[i] = *e
		batch[i].index = -1
	}

	return batch
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *queue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.heap)
	clear(q.entries)
	q.heap = q.heap[:0]
	return n
}

// minScore returns the lowest queued score.
func (q *queue) minScore() (float64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return 0, false
	}
	return q.heap[0].Score, true
}
