package reference

import (
	"context"
	"sort"

	"github.com/rc-assistant/backend/pkg/retry"
)

const (
	SourceComplete   = "JCR_complete"
	SourceIncomplete = "JCR_incomplete"
)

// journalAliases maps Nature Index journal titles to the Clarivate spelling.
var journalAliases = map[string]string{
	"angewandte chemie international edition":                          "angewandte chemie-international edition",
	"british journal of surgery":                                       "bjs-british journal of surgery",
	"environmental science and technology":                             "environmental science & technology",
	"jama: the journal of the american medical association":            "jama-journal of the american medical association",
	"journal of bone and joint surgery american volume":                "journal of bone and joint surgery-american volume",
	"journal of geophysical research: atmospheres":                     "journal of geophysical research-atmospheres",
	"journal of geophysical research: solid earth":                     "journal of geophysical research-solid earth",
	"journal of physiology":                                            "journal of physiology london",
	"journal of the national cancer institute":                         "jnci-journal of the national cancer institute",
	"monthly notices of the royal astronomical society: letters":       "monthly notices of the royal astronomical society",
	"proceedings of the royal society b":                               "proceedings of the royal society b-biological sciences",
	"the astrophysical journal letters":                                "astrophysical journal letters",
	"the embo journal":                                                 "embo journal",
	"the isme journal: multidisciplinary journal of microbial ecology": "isme journal",
	"the journal of allergy and clinical immunology":                   "journal of allergy and clinical immunology",
	"the journal of physical chemistry letters":                        "journal of physical chemistry letters",
	"the lancet":                          "lancet",
	"the lancet diabetes & endocrinology": "lancet diabetes & endocrinology",
	"the lancet global health":            "lancet global health",
	"the lancet neurology":                "lancet neurology",
	"the lancet oncology":                 "lancet oncology",
	"the lancet psychiatry":               "lancet psychiatry",
	"the new england journal of medicine": "new england journal of medicine",
	"the plant cell":                      "plant cell",
}

// Journals is the journal-impact instance: ISSN identifiers, exact title
// matching only.
type Journals struct {
	*Cache
}

func NewJournals(source Source, retryConfig retry.Config) *Journals {
	return &Journals{
		Cache: New(source, Options{
			Name:          "journal",
			PrimaryMetric: MetricJIF,
			Aliases:       journalAliases,
			Prepare:       preferCompleteEdition,
			Retry:         retryConfig,
		}),
	}
}

// Lookup tries the ISSN first and falls back to the title.
func (j *Journals) Lookup(ctx context.Context, issn, title string, years []int) (*MatchResult, error) {
	if issn != "" {
		result, err := j.LookupByIdentifier(ctx, issn, years...)
		if err != nil {
			return nil, err
		}
		if result.Found {
			return result, nil
		}
	}

	if title != "" {
		result, err := j.LookupByName(ctx, title, years...)
		if err != nil {
			return nil, err
		}
		if result.Found {
			return result, nil
		}
	}

	return &MatchResult{Reason: "No matching journal found"}, nil
}

// preferCompleteEdition orders complete-source rows first and drops
// incomplete rows for any title and year already covered by a complete one.
func preferCompleteEdition(rows []MetricRecord) []MetricRecord {
	sort.SliceStable(rows, func(i, k int) bool {
		ci := rows[i].Fact(FactSource) == SourceComplete
		ck := rows[k].Fact(FactSource) == SourceComplete
		if ci != ck {
			return ci
		}
		return rows[i].Period < rows[k].Period
	})

	type key struct {
		name   string
		period int
	}
	complete := make(map[key]bool)

	kept := rows[:0]
	for _, r := range rows {
		k := key{r.NormalizedName, r.Period}
		switch r.Fact(FactSource) {
		case SourceComplete:
			complete[k] = true
		case SourceIncomplete:
			if complete[k] {
				continue
			}
		}
		if r.Facts[FactQuartile] == "" {
			r.Facts[FactQuartile] = quartileNotApplicable
		}
		kept = append(kept, r)
	}

	return kept
}
