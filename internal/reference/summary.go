package reference

import "sort"

const quartileNotApplicable = "N/A"

var quartileRank = map[string]int{
	"Q1": 1,
	"Q2": 2,
	"Q3": 3,
	"Q4": 4,
}

const unrankedQuartile = 99

// CategoryFact is one category row folded into a period summary.
type CategoryFact struct {
	Category string   `json:"category"`
	Edition  string   `json:"edition,omitempty"`
	Quartile string   `json:"quartile,omitempty"`
	Metric   *float64 `json:"metric"`
}

// PeriodSummary reduces every row sharing one period to a single entry.
type PeriodSummary struct {
	Period       int                 `json:"period"`
	Metric       *float64            `json:"metric"`
	BestQuartile *string             `json:"bestQuartile"`
	Metrics      map[string]*float64 `json:"metrics,omitempty"`
	Categories   []CategoryFact      `json:"categories,omitempty"`
}

// Summarize groups records by period in ascending order. For every period it
// keeps the best-ranked quartile (N/A loses to any real quartile) and the first
// non-nil value of each metric, primary being the one reported as Metric.
// When periods is non-empty only those periods are kept.
func Summarize(records []*MetricRecord, primary string, periods []int) []PeriodSummary {
	wanted := make(map[int]bool, len(periods))
	for _, p := range periods {
		wanted[p] = true
	}

	byPeriod := make(map[int][]*MetricRecord)
	for _, r := range records {
		if len(wanted) > 0 && !wanted[r.Period] {
			continue
		}
		byPeriod[r.Period] = append(byPeriod[r.Period], r)
	}

	keys := make([]int, 0, len(byPeriod))
	for p := range byPeriod {
		keys = append(keys, p)
	}
	sort.Ints(keys)

	summaries := make([]PeriodSummary, 0, len(keys))
	for _, period := range keys {
		summaries = append(summaries, summarizePeriod(period, byPeriod[period], primary))
	}
	return summaries
}

func summarizePeriod(period int, rows []*MetricRecord, primary string) PeriodSummary {
	summary := PeriodSummary{
		Period:  period,
		Metrics: make(map[string]*float64),
	}

	bestRank := unrankedQuartile
	bestQuartile := ""
	for _, r := range rows {
		q := r.Fact(FactQuartile)
		if rank := rankOf(q); rank < bestRank {
			bestRank = rank
			bestQuartile = q
		}

		for key, value := range r.Metrics {
			if value == nil {
				continue
			}
			if _, seen := summary.Metrics[key]; !seen {
				summary.Metrics[key] = value
			}
		}

		if category := r.Fact(FactCategory); category != "" {
			summary.Categories = append(summary.Categories, CategoryFact{
				Category: category,
				Edition:  r.Fact(FactEdition),
				Quartile: q,
				Metric:   r.Metric(primary),
			})
		}
	}

	if bestRank != unrankedQuartile {
		summary.BestQuartile = &bestQuartile
	}
	summary.Metric = summary.Metrics[primary]

	return summary
}

func rankOf(quartile string) int {
	if rank, ok := quartileRank[quartile]; ok {
		return rank
	}
	return unrankedQuartile
}
