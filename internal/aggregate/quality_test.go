package aggregate

import (
	"testing"

	"github.com/micutio/airfuse/internal"
	"github.com/stretchr/testify/assert"
)

func TestCoverageFor(t *testing.T) {
	tests := []struct {
		sources  int
		expected Coverage
	}{
		{sources: -1, expected: CoveragePoor},
		{sources: 0, expected: CoveragePoor},
		{sources: 1, expected: CoverageGood},
		{sources: 2, expected: CoverageExcellent},
		{sources: 5, expected: CoverageExcellent},
	}

	for _, tt := range tests {
		t.Run(string(tt.expected), func(t *testing.T) {
			assert.Equal(t, tt.expected, CoverageFor(tt.sources))
		})
	}
}

func TestComputeQuality(t *testing.T) {
	corroborated := internal.AircraftRecord{
		ID:       "a",
		Sources:  []string{"x", "y"},
		Position: internal.Position{Reliability: internal.ReliabilityHigh},
	}
	single := internal.AircraftRecord{
		ID:       "b",
		Sources:  []string{"y"},
		Position: internal.Position{Reliability: internal.ReliabilityMedium},
	}

	tests := []struct {
		name     string
		records  []internal.AircraftRecord
		sources  int
		queried  int
		expected Quality
	}{
		{
			name:     "nothing",
			sources:  0,
			queried:  3,
			expected: Quality{Score: 0, Coverage: CoveragePoor, SourcesQueried: 3},
		},
		{
			name:    "mixed",
			records: []internal.AircraftRecord{corroborated, single},
			sources: 2,
			queried: 3,
			// 40*2/3 + 30*1/2 + 30*1/2
			expected: Quality{
				Score:                  57,
				Coverage:               CoverageExcellent,
				SourceCount:            2,
				SourcesQueried:         3,
				RecordCount:            2,
				MultiSourceRecords:     1,
				HighReliabilityRecords: 1,
			},
		},
		{
			name:    "perfect",
			records: []internal.AircraftRecord{corroborated},
			sources: 2,
			queried: 2,
			expected: Quality{
				Score:                  100,
				Coverage:               CoverageExcellent,
				SourceCount:            2,
				SourcesQueried:         2,
				RecordCount:            1,
				MultiSourceRecords:     1,
				HighReliabilityRecords: 1,
			},
		},
		{
			name:    "single source, no records",
			sources: 1,
			queried: 1,
			expected: Quality{
				Score:          40,
				Coverage:       CoverageGood,
				SourceCount:    1,
				SourcesQueried: 1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeQuality(tt.records, tt.sources, tt.queried))
		})
	}
}
