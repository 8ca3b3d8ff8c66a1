package internal

import "sort"

// PropertyCountTuple pairs a property, e.g. a source name, with how often it was seen.
type PropertyCountTuple struct {
	Property string
	Count    int
}

// ByCount sorts tuples by descending count, ties broken alphabetically.
type ByCount []PropertyCountTuple

func (a ByCount) Len() int { return len(a) }
func (a ByCount) Less(i, j int) bool {
	if a[i].Count != a[j].Count {
		return a[i].Count > a[j].Count
	}
	return a[i].Property < a[j].Property
}
func (a ByCount) Swap(i, j int) { a[i], a[j] = a[j], a[i] }

// GetSortedCountsForProperty turns a property count map into a list, most common first.
func GetSortedCountsForProperty(propertyCountMap map[string]int) []PropertyCountTuple {
	propertyCounts := make([]PropertyCountTuple, 0, len(propertyCountMap))
	for key, value := range propertyCountMap {
		propertyCounts = append(propertyCounts, PropertyCountTuple{Property: key, Count: value})
	}

	sort.Sort(ByCount(propertyCounts))
	return propertyCounts
}

// CountSources counts how many records each source contributed to.
func CountSources(records []AircraftRecord) map[string]int {
	counts := make(map[string]int)
	for i := range records {
		for _, src := range records[i].Sources {
			counts[src]++
		}
	}
	return counts
}
