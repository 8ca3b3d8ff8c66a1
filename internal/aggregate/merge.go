package aggregate

import (
	"cmp"
	"slices"

	"github.com/micutio/airfuse/internal"
)

// Merge groups partial records by aircraft ID and reconciles every group into one record.
//
// The partial record with the most recent position wins and supplies position and timing.
// Equal timestamps are resolved by source priority (lower rank first) and then by source name,
// so the outcome never depends on the order in which adapters completed. Optional fields the
// winner lacks are backfilled in the same order without overwriting what is already present.
// The result is sorted by ID.
func Merge(partials []internal.PartialRecord) []internal.AircraftRecord {
	groups := make(map[string][]internal.PartialRecord)
	for _, p := range partials {
		if p.ID == "" {
			continue
		}
		groups[p.ID] = append(groups[p.ID], p)
	}

	records := make([]internal.AircraftRecord, 0, len(groups))
	for id, group := range groups {
		records = append(records, mergeGroup(id, group))
	}

	slices.SortFunc(records, func(a, b internal.AircraftRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return records
}

func mergeGroup(id string, group []internal.PartialRecord) internal.AircraftRecord {
	slices.SortFunc(group, comparePartials)

	winner := group[0]
	record := internal.AircraftRecord{
		ID:         id,
		Position:   winner.Position,
		LastUpdate: winner.Position.Timestamp,
	}

	sources := make([]string, 0, len(group))
	for i := range group {
		p := &group[i]
		backfill(&record.Callsign, p.Callsign)
		backfill(&record.Registration, p.Registration)
		backfill(&record.AircraftType, p.AircraftType)
		backfill(&record.Squawk, p.Squawk)
		backfill(&record.Emergency, p.Emergency)
		if p.Source != "" {
			sources = append(sources, p.Source)
		}
	}

	slices.Sort(sources)
	record.Sources = slices.Compact(sources)

	return record
}

// comparePartials orders partial records from most to least authoritative. The trailing keys
// only matter for duplicate reports of one source and keep the order total.
func comparePartials(a, b internal.PartialRecord) int {
	if c := b.Position.Timestamp.Compare(a.Position.Timestamp); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SourcePriority, b.SourcePriority); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Position.Lat, b.Position.Lat); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Position.Lon, b.Position.Lon); c != 0 {
		return c
	}
	for _, pair := range [...][2]string{
		{a.Callsign, b.Callsign},
		{a.Registration, b.Registration},
		{a.AircraftType, b.AircraftType},
		{a.Squawk, b.Squawk},
		{a.Emergency, b.Emergency},
	} {
		if c := cmp.Compare(pair[0], pair[1]); c != 0 {
			return c
		}
	}
	for _, pair := range [...][2]*float64{
		{a.Position.Altitude, b.Position.Altitude},
		{a.Position.GroundSpeed, b.Position.GroundSpeed},
		{a.Position.Heading, b.Position.Heading},
		{a.Position.VerticalRate, b.Position.VerticalRate},
	} {
		if c := compareOptional(pair[0], pair[1]); c != 0 {
			return c
		}
	}
	return compareBool(a.Position.OnGround, b.Position.OnGround)
}

// compareOptional orders missing values last.
func compareOptional(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp.Compare(*a, *b)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	}
	return -1
}

func backfill(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}
