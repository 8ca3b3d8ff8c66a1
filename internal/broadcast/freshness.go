package broadcast

import (
	"sync"
	"time"

	"github.com/micutio/airfuse/internal/throttle"
)

const (
	// freshnessRetention is how long the last update of an aircraft is remembered.
	freshnessRetention = 10 * time.Minute
	// freshnessPruneSize is the number of remembered aircraft above which old ones are pruned.
	freshnessPruneSize = 4096
)

// freshness remembers the newest update sent per aircraft. The same aircraft may be queued in two
// classes at once, so a slower class can deliver an update older than one already sent.
type freshness struct {
	mu     sync.Mutex
	latest map[string]time.Time
	newest time.Time
}

func newFreshness() *freshness {
	return &freshness{latest: make(map[string]time.Time)}
}

// filter returns the entries that are not older than what was sent before for the same aircraft.
func (f *freshness) filter(entries []throttle.Entry) []throttle.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	fresh := make([]throttle.Entry, 0, len(entries))
	for i := range entries {
		lastUpdate := entries[i].Payload.LastUpdate
		if prev, ok := f.latest[entries[i].ID]; ok && lastUpdate.Before(prev) {
			continue
		}
		f.latest[entries[i].ID] = lastUpdate
		if lastUpdate.After(f.newest) {
			f.newest = lastUpdate
		}
		fresh = append(fresh, entries[i])
	}

	if len(f.latest) > freshnessPruneSize {
		cutoff := f.newest.Add(-freshnessRetention)
		for id, t := range f.latest {
			if t.Before(cutoff) {
				delete(f.latest, id)
			}
		}
	}

	return fresh
}
