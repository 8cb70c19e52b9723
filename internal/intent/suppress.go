package intent

import "fmt"

// Tools that can answer data queries from the reference tables.
const (
	ToolJournalMetric      = "jcr_journal_metric"
	ToolInstitutionRanking = "nature_index_lookup"
)

var dataTools = map[string]bool{
	ToolJournalMetric:      true,
	ToolInstitutionRanking: true,
}

// ShouldSuppressKnowledge reports whether authored knowledge snippets should
// be left out of the prompt. Only high-confidence data queries with a data
// tool available are answered from tools alone.
func ShouldSuppressKnowledge(result Result, availableTools []string) (bool, string) {
	if result.Intent == Data && result.Confidence == High {
		for _, tool := range availableTools {
			if dataTools[tool] {
				return true, "High-confidence data query with relevant tools available"
			}
		}
		return false, "Data query but no relevant tools available"
	}

	return false, fmt.Sprintf("Intent: %s, confidence: %s", result.Intent, result.Confidence)
}

// ShouldOfferTools reports whether reference tools should be exposed to the
// generator. Policy and other explanation queries are answered from prose.
func ShouldOfferTools(result Result) bool {
	return !(result.Intent == Explanation && result.Confidence == High)
}
