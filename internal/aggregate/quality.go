package aggregate

import (
	"math"

	"github.com/micutio/airfuse/internal"
)

// Coverage is a coarse label for how many sources contributed to a result.
type Coverage string

// Coverage labels.
const (
	CoveragePoor      Coverage = "poor"
	CoverageGood      Coverage = "good"
	CoverageExcellent Coverage = "excellent"
)

// weights of the quality score components, summing up to 100
const (
	weightAvailable       = 40
	weightCorroborated    = 30
	weightHighReliability = 30
)

// Quality describes how trustworthy an aggregation result is.
type Quality struct {
	Score                  int      `json:"score"` // 0-100
	Coverage               Coverage `json:"coverage"`
	SourceCount            int      `json:"source_count"`
	SourcesQueried         int      `json:"sources_queried"`
	RecordCount            int      `json:"record_count"`
	MultiSourceRecords     int      `json:"multi_source_records"`
	HighReliabilityRecords int      `json:"high_reliability_records"`
}

// CoverageFor derives the coverage label from the number of sources that returned data.
func CoverageFor(sourceCount int) Coverage {
	switch {
	case sourceCount <= 0:
		return CoveragePoor
	case sourceCount == 1:
		return CoverageGood
	default:
		return CoverageExcellent
	}
}

// ComputeQuality scores merged records. sourceCount is the number of sources that returned data,
// queried the number of adapters that were asked.
func ComputeQuality(records []internal.AircraftRecord, sourceCount, queried int) Quality {
	q := Quality{
		Coverage:       CoverageFor(sourceCount),
		SourceCount:    sourceCount,
		SourcesQueried: queried,
		RecordCount:    len(records),
	}

	for i := range records {
		if len(records[i].Sources) > 1 {
			q.MultiSourceRecords++
		}
		if records[i].Position.Reliability == internal.ReliabilityHigh {
			q.HighReliabilityRecords++
		}
	}

	available := fraction(sourceCount, queried)
	corroborated := fraction(q.MultiSourceRecords, q.RecordCount)
	highReliability := fraction(q.HighReliabilityRecords, q.RecordCount)

	q.Score = int(math.Round(
		weightAvailable*available + weightCorroborated*corroborated + weightHighReliability*highReliability,
	))

	return q
}

func fraction(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(float64(n)/float64(total), 1)
}
