package reference

import (
	"context"
	"strings"

	"github.com/rc-assistant/backend/pkg/retry"
)

// Institutions is the institution-ranking instance. Name misses fall back to
// the bounded edit-distance search.
type Institutions struct {
	*Cache
}

func NewInstitutions(source Source, retryConfig retry.Config) *Institutions {
	return &Institutions{
		Cache: New(source, Options{
			Name:           "institution",
			PrimaryMetric:  MetricShare,
			Fuzzy:          true,
			MinFuzzyLength: 3,
			Retry:          retryConfig,
		}),
	}
}

// ByCountry lists institutions of one country in source (rank) order.
func (i *Institutions) ByCountry(ctx context.Context, country string, limit int) ([]*MetricRecord, error) {
	country = strings.TrimSpace(country)
	if country == "" {
		return nil, nil
	}

	records, err := i.Records(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*MetricRecord
	for _, r := range records {
		if !strings.EqualFold(r.Fact(FactCountry), country) {
			continue
		}
		matched = append(matched, r)
		if limit > 0 && len(matched) == limit {
			break
		}
	}

	return matched, nil
}

// Top returns the first limit institutions in source (rank) order.
func (i *Institutions) Top(ctx context.Context, limit int) ([]*MetricRecord, error) {
	records, err := i.Records(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 10
	}
	if limit > len(records) {
		limit = len(records)
	}

	return records[:limit:limit], nil
}
