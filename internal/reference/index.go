package reference

import "sort"

// index is the immutable lookup structure published by a successful load.
type index struct {
	byName       map[string][]*MetricRecord
	byIdentifier map[string][]*MetricRecord
	names        []string
	runes        map[string][]rune
	ordered      []*MetricRecord
}

func buildIndex(rows []MetricRecord) *index {
	idx := &index{
		byName:       make(map[string][]*MetricRecord),
		byIdentifier: make(map[string][]*MetricRecord),
		runes:        make(map[string][]rune),
		ordered:      make([]*MetricRecord, 0, len(rows)),
	}

	for i := range rows {
		record := &rows[i]
		if record.NormalizedName == "" {
			continue
		}

		idx.ordered = append(idx.ordered, record)

		if _, exists := idx.byName[record.NormalizedName]; !exists {
			idx.names = append(idx.names, record.NormalizedName)
			idx.runes[record.NormalizedName] = []rune(record.NormalizedName)
		}
		idx.byName[record.NormalizedName] = append(idx.byName[record.NormalizedName], record)

		// NewRecord already dropped repeated identifiers, so a record whose
		// print and electronic ISSN coincide is registered once.
		for _, id := range record.Identifiers {
			idx.byIdentifier[id] = append(idx.byIdentifier[id], record)
		}
	}

	sort.Strings(idx.names)
	return idx
}

func (idx *index) size() int {
	return len(idx.ordered)
}

// closestName scans every known name within the edit-distance threshold of
// query. Names are visited in sorted order and only a strictly smaller
// distance replaces the current best, so ties resolve lexicographically.
func (idx *index) closestName(query string) (string, int, bool) {
	q := []rune(query)
	threshold := fuzzyThreshold(len(q))

	best := ""
	bestDist := threshold + 1
	for _, name := range idx.names {
		candidate := idx.runes[name]
		if abs(len(candidate)-len(q)) > threshold {
			continue
		}

		dist := levenshteinDistance(q, candidate)
		if dist < bestDist {
			best = name
			bestDist = dist
		}
	}

	if best == "" {
		return "", 0, false
	}
	return best, bestDist, true
}
