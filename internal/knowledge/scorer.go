package knowledge

import (
	"sort"
	"strings"
)

const (
	weightDocumentTitle = 3
	weightSectionTitle  = 2
	weightBody          = 1
	weightTag           = 2
)

var priorityBoost = map[Priority]float64{
	PriorityCritical: 1.5,
	PriorityHigh:     1.2,
}

type Scored struct {
	Entry Entry
	Score float64
}

// Tokenize lower-cases the query and keeps whitespace-separated words longer
// than two characters.
func Tokenize(query string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(w)) > 2 {
			words = append(words, w)
		}
	}
	return words
}

// ScoreEntry applies the keyword weights and the priority multiplier.
func ScoreEntry(words []string, e Entry) float64 {
	documentTitle := strings.ToLower(e.DocumentTitle)
	sectionTitle := strings.ToLower(e.SectionTitle)
	body := strings.ToLower(e.Body)
	tags := make([]string, len(e.Tags))
	for i, tag := range e.Tags {
		tags[i] = strings.ToLower(tag)
	}

	score := 0.0
	for _, w := range words {
		if strings.Contains(documentTitle, w) {
			score += weightDocumentTitle
		}
		if strings.Contains(sectionTitle, w) {
			score += weightSectionTitle
		}
		if strings.Contains(body, w) {
			score += weightBody
		}
		for _, tag := range tags {
			if strings.Contains(tag, w) {
				score += weightTag
			}
		}
	}

	if boost, ok := priorityBoost[e.Priority]; ok {
		score *= boost
	}
	return score
}

// Rank scores entries against query, drops zero scores and returns at most
// limit entries, highest first. Equal scores keep their input order.
func Rank(query string, entries []Entry, limit int) []Scored {
	words := Tokenize(query)
	if len(words) == 0 || limit <= 0 {
		return nil
	}

	scored := make([]Scored, 0, len(entries))
	for _, e := range entries {
		if s := ScoreEntry(words, e); s > 0 {
			scored = append(scored, Scored{Entry: e, Score: s})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
