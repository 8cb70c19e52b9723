// Package intent routes a question toward tool-backed data answers or
// prose answers using an ordered table of regular-expression rules.
package intent

import (
	"fmt"
	"regexp"
	"strings"
)

type Intent string

const (
	Data        Intent = "data"
	Explanation Intent = "explanation"
	General     Intent = "general"
)

type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

// Result is recomputed for every query and never stored.
type Result struct {
	Intent       Intent     `json:"intent"`
	Confidence   Confidence `json:"confidence"`
	MatchedRules []string   `json:"matchedRules"`
	Rationale    string     `json:"rationale"`
}

// Rule matches when Pattern matches and Exclude (if set) does not.
type Rule struct {
	ID      string
	Pattern *regexp.Regexp
	Exclude *regexp.Regexp
}

func (r Rule) matches(query string) bool {
	if !r.Pattern.MatchString(query) {
		return false
	}
	return r.Exclude == nil || !r.Exclude.MatchString(query)
}

// Family is a named group of rules leaning toward one intent.
type Family struct {
	Name  string
	Lean  Intent
	Rules []Rule
}

// Tier is evaluated in order. A short-circuit tier that matches decides the
// result on its own and later tiers are not consulted.
type Tier struct {
	Name         string
	ShortCircuit bool
	Families     []Family
}

func rule(id, pattern string) Rule {
	return Rule{ID: id, Pattern: regexp.MustCompile(pattern)}
}

// Tiers is the rule cascade: policy exemption, then data families, then the
// explanation family. The exemption tier comes first so that authored policy
// content is never suppressed by the looser data patterns.
var Tiers = []Tier{
	{
		Name:         "exemption",
		ShortCircuit: true,
		Families: []Family{
			{
				Name: "policy",
				Lean: Explanation,
				Rules: []Rule{
					rule("policy", `\bpolic(y|ies)\b`),
					rule("guideline", `\bguidelines?\b`),
					rule("eligibility", `\beligib(le|ility)\b`),
					rule("form", `\bforms?\b`),
					rule("score-table", `\bscor(e|ing)\s+(table|sheet|rubric)s?\b`),
					rule("tiered-structure", `\btier(s|ed)?\b`),
					rule("promotion-criteria", `\bpromotion\s+(criteria|requirements?|exercise)\b`),
					rule("named-program", `\b(sabbatical|study\s+leave|research\s+leave|utarrf|frgs|fundamental\s+research\s+grant\s+scheme)\b`),
				},
			},
		},
	},
	{
		Name: "data",
		Families: []Family{
			{
				Name: "ranking",
				Lean: Data,
				Rules: []Rule{
					rule("top-n", `\btop\s+\d+`),
					rule("rank", `\brank(s|ing|ings|ed)?\b`),
					rule("list", `\blist\s+(all|the)\b`),
					rule("show-me", `\bshow\s+me\s+(all|the|top)\b`),
				},
			},
			{
				Name: "comparison",
				Lean: Data,
				Rules: []Rule{
					rule("compare", `\bcompare\b`),
					rule("versus", `\b(vs|versus)\b`),
					rule("difference-between", `\bdifference\s+between\b`),
					rule("which-better", `\bwhich\s+is\s+(better|higher)\b`),
				},
			},
			{
				Name: "interrogative-data",
				Lean: Data,
				Rules: []Rule{
					rule("which-in", `\bwhich\s+.*\s+(are|is)\s+(in|the)\b`),
					rule("how-many", `\bhow\s+many\b`),
					rule("who-heads", `\bwho\s+is\s+the\s+(dean|head|chair)`),
					rule("what-position", `\bwhat\s+is\s+.*\s+(ranking|position|score)\b`),
				},
			},
			{
				Name: "journal-lookup",
				Lean: Data,
				Rules: []Rule{
					rule("impact-factor", `\b(impact\s+factor|jif|quartile|q[1-4])\b`),
					rule("issn", `\be?issn\b`),
					rule("nature-index", `\bnature\s+index\b`),
					rule("journal-rank", `\bjournal\s+(metrics?|rank|ranking)\b`),
				},
			},
		},
	},
	{
		Name: "explanation",
		Families: []Family{
			{
				Name: "explanation",
				Lean: Explanation,
				Rules: []Rule{
					rule("definition", `\bwhat\s+is\s+(the\s+)?(definition|meaning)\b`),
					{
						ID:      "what-is",
						Pattern: regexp.MustCompile(`\bwhat\s+(is|are)\s+`),
						Exclude: regexp.MustCompile(`\bwhat\s+(is|are)\s+.*\s+(ranking|position)`),
					},
					rule("how-does", `\bhow\s+does\b`),
					rule("why", `\bwhy\s+(is|are|does|do)\b`),
					rule("explain", `\bexplain\b`),
					rule("tell-me-about", `\btell\s+me\s+about\b`),
					rule("can-you-describe", `\b(can|could)\s+you\s+(explain|describe)\b`),
				},
			},
		},
	},
}

// Classify maps a raw query to an intent. It is pure: no state, no I/O.
func Classify(query string) Result {
	q := strings.ToLower(strings.TrimSpace(query))

	var matched []string
	counts := make(map[Intent]int)

	for _, tier := range Tiers {
		var tierMatched []string
		for _, family := range tier.Families {
			for _, r := range family.Rules {
				if r.matches(q) {
					tierMatched = append(tierMatched, family.Name+":"+r.ID)
					counts[family.Lean]++
				}
			}
		}

		if tier.ShortCircuit && len(tierMatched) > 0 {
			return Result{
				Intent:       Explanation,
				Confidence:   High,
				MatchedRules: tierMatched,
				Rationale:    fmt.Sprintf("Matched %d %s rule(s); authored content takes precedence", len(tierMatched), tier.Name),
			}
		}
		matched = append(matched, tierMatched...)
	}

	dataMatches := counts[Data]
	explanationMatches := counts[Explanation]

	switch {
	case dataMatches > 0 && explanationMatches == 0:
		return Result{
			Intent:       Data,
			Confidence:   High,
			MatchedRules: matched,
			Rationale:    fmt.Sprintf("Matched %d data pattern(s), no explanation patterns", dataMatches),
		}
	case explanationMatches > 0 && dataMatches == 0:
		return Result{
			Intent:       Explanation,
			Confidence:   High,
			MatchedRules: matched,
			Rationale:    fmt.Sprintf("Matched %d explanation pattern(s), no data patterns", explanationMatches),
		}
	case dataMatches > 0 && explanationMatches > 0:
		return Result{
			Intent:       General,
			Confidence:   Medium,
			MatchedRules: matched,
			Rationale:    fmt.Sprintf("Mixed signals: %d data + %d explanation patterns", dataMatches, explanationMatches),
		}
	default:
		return Result{
			Intent:       General,
			Confidence:   Low,
			MatchedRules: []string{},
			Rationale:    "No clear pattern matched, defaulting to general",
		}
	}
}
