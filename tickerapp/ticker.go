package tickerapp

import (
	"fmt"
	"io"
	"log" //nolint:depguard // Don't feel like using slog
	"sync"

	"github.com/micutio/airfuse/internal"
	"github.com/micutio/airfuse/internal/aggregate"
	"github.com/micutio/airfuse/internal/throttle"
)

// Ticker is the throttler consumer of the ticker app. It writes one line per released update.
type Ticker struct {
	Stdout *log.Logger
	center internal.Coordinates
	notify *Notify

	mu         sync.Mutex
	lastResult *aggregate.Result
}

// NewTicker creates a ticker writing to consoleOut. Distances are measured from center.
func NewTicker(consoleOut io.Writer, center internal.Coordinates, notify *Notify) *Ticker {
	return &Ticker{
		Stdout: log.New(consoleOut, "", 0),
		center: center,
		notify: notify,
	}
}

// OnBatch prints the released updates and notifies about emergencies.
func (t *Ticker) OnBatch(class throttle.Class, entries []throttle.Entry) error {
	for i := range entries {
		aircraft := &entries[i].Payload
		t.Stdout.Printf("%-8s %s\n", class, aircraftToString(aircraft, t.center))
		if t.notify != nil && aircraft.IsEmergency() {
			pos := internal.NewCoordinates(aircraft.Position.Lat, aircraft.Position.Lon)
			t.notify.Emergency(aircraft, internal.Direction(t.center, pos))
		}
	}
	return nil
}

// ObserveResult remembers the latest aggregation result for the summary.
func (t *Ticker) ObserveResult(result *aggregate.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastResult = result
}

// PrintSummary prints the quality of the latest aggregation and the throttler counters.
func (t *Ticker) PrintSummary(metrics throttle.Snapshot) {
	t.mu.Lock()
	result := t.lastResult
	t.mu.Unlock()

	t.Stdout.Println("=== Summary ===")
	if result != nil {
		t.Stdout.Printf("Aircraft: %d  Quality: %d (%s)  Sources: %v\n",
			len(result.Records), result.Quality.Score, result.Quality.Coverage, result.SourcesUsed)
		for _, f := range result.Failures {
			t.Stdout.Printf("Failed source %s (%s): %v\n", f.Source, f.Kind, f.Err)
		}
		t.listByCount("aircraft per source", internal.CountSources(result.Records))
	}
	t.Stdout.Printf("Received: %d  Processed: %d  Dropped: %d  Evicted: %d  Superseded: %d\n",
		metrics.Received, metrics.Processed, metrics.Dropped, metrics.Evicted, metrics.Superseded)
	t.Stdout.Printf("Batches: %d  Avg batch size: %.1f  Avg processing time: %s\n",
		metrics.Batches, metrics.AvgBatchSize, metrics.AvgProcessingTime)
	for _, class := range throttle.Classes {
		t.Stdout.Printf("%6d queued - %s\n", metrics.QueueDepth[class], class)
	}
	t.Stdout.Println("=== End Summary ===")
}

func (t *Ticker) listByCount(propertyName string, propertyCountMap map[string]int) {
	propertyCounts := internal.GetSortedCountsForProperty(propertyCountMap)

	t.Stdout.Printf("Most to least common %s\n", propertyName)
	for j := range propertyCounts {
		t.Stdout.Printf("%6d - %s\n", propertyCounts[j].Count, propertyCounts[j].Property)
	}
}

// aircraftToString generates a one-liner consisting of the most relevant information about the
// given aircraft.
func aircraftToString(aircraft *internal.AircraftRecord, center internal.Coordinates) string {
	pos := aircraft.Position
	dist := internal.Distance(center, internal.NewCoordinates(pos.Lat, pos.Lon)).Kilometers()

	aType := aircraft.AircraftType
	if aType == "" {
		aType = "n/a"
	}

	return fmt.Sprintf("FNO %s DST %4.0f km ALT %s SPD %3.0f HDG %3.0f TID %s (%s)",
		aircraft.GetFlightNoAsStr(),
		dist,
		aircraft.GetAltitudeAsStr(),
		pos.GroundSpeedOr(0),
		pos.HeadingOr(0),
		aType,
		aircraft.Registration)
}
