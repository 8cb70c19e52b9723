package reference

import "strings"

const (
	FactCategory = "category"
	FactEdition  = "edition"
	FactQuartile = "quartile"
	FactCountry  = "country"
	FactSource   = "source"
)

const (
	MetricJIF      = "jif"
	MetricPosition = "position"
	MetricCount    = "count"
	MetricShare    = "share"
)

// MetricRecord is one reference-table row scoped to a reporting period.
// Records are built once during cache population and never mutated.
type MetricRecord struct {
	DisplayName    string
	NormalizedName string
	Identifiers    []string
	Period         int
	Facts          map[string]string
	Metrics        map[string]*float64
}

// NewRecord derives the normalized name and identifiers from the raw row values.
// Empty and repeated identifiers are dropped.
func NewRecord(displayName string, period int, identifiers ...string) MetricRecord {
	record := MetricRecord{
		DisplayName:    strings.TrimSpace(displayName),
		NormalizedName: NormalizeName(displayName),
		Period:         period,
		Facts:          make(map[string]string),
		Metrics:        make(map[string]*float64),
	}

	seen := make(map[string]bool, len(identifiers))
	for _, raw := range identifiers {
		id := NormalizeIdentifier(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		record.Identifiers = append(record.Identifiers, id)
	}

	return record
}

func (r *MetricRecord) Fact(key string) string {
	return r.Facts[key]
}

func (r *MetricRecord) Metric(key string) *float64 {
	return r.Metrics[key]
}

// NormalizeName folds case and collapses runs of whitespace.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// NormalizeIdentifier trims and upper-cases an identifier such as an ISSN.
func NormalizeIdentifier(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func Float(v float64) *float64 {
	return &v
}
