package reference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rc-assistant/backend/pkg/retry"
)

var noRetry = retry.Config{MaxAttempts: 1}

func journalRow(title string, year int, quartile string, jif *float64, category string, issns ...string) MetricRecord {
	r := NewRecord(title, year, issns...)
	r.Facts[FactQuartile] = quartile
	r.Facts[FactCategory] = category
	r.Facts[FactSource] = SourceComplete
	r.Metrics[MetricJIF] = jif
	return r
}

func institutionRow(name, country string, year int, position, share float64) MetricRecord {
	r := NewRecord(name, year)
	r.Facts[FactCountry] = country
	r.Metrics[MetricPosition] = Float(position)
	r.Metrics[MetricShare] = Float(share)
	return r
}

func journalFixture() []MetricRecord {
	return []MetricRecord{
		journalRow("Nature  Medicine", 2023, "Q2", nil, "Biochemistry", "1078-8956", "1546-170x"),
		journalRow("Nature Medicine", 2023, "Q1", Float(82.9), "Medicine, Research", "1078-8956", "1546-170X"),
		journalRow("Nature Medicine", 2022, "N/A", Float(87.2), "Medicine", "1078-8956"),
		journalRow("Lancet", 2023, "Q1", Float(168.9), "Medicine, General", "0140-6736", "0140-6736"),
	}
}

func institutionFixture() []MetricRecord {
	return []MetricRecord{
		institutionRow("Chinese Academy of Sciences", "China", 2024, 1, 2776.8),
		institutionRow("Harvard University", "United States", 2024, 2, 1053.5),
		institutionRow("University of Malaya", "Malaysia", 2024, 300, 55.1),
		institutionRow("Universiti Sains Malaysia", "Malaysia", 2024, 410, 31.2),
	}
}

type countingSource struct {
	calls atomic.Int32
	delay time.Duration
	rows  func() []MetricRecord
	fail  func(call int32) error
}

func (s *countingSource) LoadRows(ctx context.Context) ([]MetricRecord, error) {
	call := s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail != nil {
		if err := s.fail(call); err != nil {
			return nil, err
		}
	}
	return s.rows(), nil
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "nature medicine", NormalizeName("  Nature \t MEDICINE "))
	assert.Equal(t, "1546-170X", NormalizeIdentifier(" 1546-170x "))

	r := NewRecord("Lancet", 2023, "0140-6736", " 0140-6736", "")
	assert.Equal(t, []string{"0140-6736"}, r.Identifiers)
}

func TestLookupByIdentifier(t *testing.T) {
	ctx := context.Background()
	journals := NewJournals(&countingSource{rows: journalFixture}, noRetry)

	result, err := journals.LookupByIdentifier(ctx, "1546-170x")
	require.NoError(t, err)
	require.True(t, result.Found)
	assert.Equal(t, MatchIdentifier, result.MatchType)
	assert.Equal(t, "Nature  Medicine", result.Record.DisplayName)
	assert.Len(t, result.Periods, 1)

	result, err = journals.LookupByIdentifier(ctx, "1078-8956", 2022)
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Len(t, result.Periods, 1)
	assert.Equal(t, 2022, result.Periods[0].Period)

	// Identical print and electronic ISSN registers the record once.
	result, err = journals.LookupByIdentifier(ctx, "0140-6736")
	require.NoError(t, err)
	require.Len(t, result.Periods, 1)
	assert.Len(t, result.Periods[0].Categories, 1)

	// A near-miss identifier is not fuzzily resolved.
	result, err = journals.LookupByIdentifier(ctx, "0140-6737")
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Equal(t, "Identifier not found", result.Reason)
}

func TestEveryIndexedIdentifierResolves(t *testing.T) {
	ctx := context.Background()
	journals := NewJournals(&countingSource{rows: journalFixture}, noRetry)

	records, err := journals.Records(ctx)
	require.NoError(t, err)

	for _, r := range records {
		for _, id := range r.Identifiers {
			result, err := journals.LookupByIdentifier(ctx, id)
			require.NoError(t, err)
			assert.True(t, result.Found, id)

			byName, err := journals.LookupByName(ctx, r.DisplayName)
			require.NoError(t, err)
			assert.True(t, byName.Found, r.DisplayName)
		}
	}
}

func TestJournalNameLookupIsExact(t *testing.T) {
	ctx := context.Background()
	journals := NewJournals(&countingSource{rows: journalFixture}, noRetry)

	result, err := journals.LookupByName(ctx, "NATURE   medicine")
	require.NoError(t, err)
	require.True(t, result.Found)
	assert.Equal(t, MatchExact, result.MatchType)

	result, err = journals.LookupByName(ctx, "Nature Medicin")
	require.NoError(t, err)
	assert.False(t, result.Found)

	result, err = journals.LookupByName(ctx, "The Lancet")
	require.NoError(t, err)
	require.True(t, result.Found)
	assert.Equal(t, MatchMapped, result.MatchType)
}

func TestJournalLookupFallsBackToTitle(t *testing.T) {
	journals := NewJournals(&countingSource{rows: journalFixture}, noRetry)

	result, err := journals.Lookup(context.Background(), "9999-9999", "lancet", nil)
	require.NoError(t, err)
	require.True(t, result.Found)
	assert.Equal(t, MatchExact, result.MatchType)

	result, err = journals.Lookup(context.Background(), "", "", nil)
	require.NoError(t, err)
	assert.False(t, result.Found)
}

func TestInstitutionFuzzyLookup(t *testing.T) {
	ctx := context.Background()
	institutions := NewInstitutions(&countingSource{rows: institutionFixture}, noRetry)

	tests := []struct {
		name      string
		query     string
		found     bool
		matchType MatchType
		display   string
	}{
		{"exact", "university of malaya", true, MatchExact, "University of Malaya"},
		{"case and spacing", "  Harvard   UNIVERSITY", true, MatchExact, "Harvard University"},
		{"one typo", "Universiti of Malaya", true, MatchFuzzy, "University of Malaya"},
		{"within threshold", "Univrsity of Malya", true, MatchFuzzy, "University of Malaya"},
		{"beyond threshold", "Massachusetts Institute of Technology", false, "", ""},
		{"short query skips fuzzy", "cas", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := institutions.LookupByName(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.found, result.Found)
			if tt.found {
				assert.Equal(t, tt.matchType, result.MatchType)
				assert.Equal(t, tt.display, result.Record.DisplayName)
			}
		})
	}
}

func TestFuzzyTieBreakIsLexicographic(t *testing.T) {
	rows := func() []MetricRecord {
		return []MetricRecord{
			institutionRow("abcdefgy", "X", 2024, 1, 1),
			institutionRow("abcdefgx", "X", 2024, 2, 1),
		}
	}
	institutions := NewInstitutions(&countingSource{rows: rows}, noRetry)

	result, err := institutions.LookupByName(context.Background(), "abcdefgz")
	require.NoError(t, err)
	require.True(t, result.Found)
	assert.Equal(t, "abcdefgx", result.Record.NormalizedName)
	assert.Equal(t, 1, result.Distance)
}

func TestFuzzyThreshold(t *testing.T) {
	assert.Equal(t, 3, fuzzyThreshold(4))
	assert.Equal(t, 3, fuzzyThreshold(19))
	assert.Equal(t, 4, fuzzyThreshold(20))
	assert.Equal(t, 7, fuzzyThreshold(39))
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"", "abc", 3},
		{"abc", "", 3},
		{"same", "same", 0},
		{"université", "universite", 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshteinDistance([]rune(tt.a), []rune(tt.b)), tt.a+"/"+tt.b)
	}
}

func TestSummarize(t *testing.T) {
	rows := journalFixture()
	records := []*MetricRecord{&rows[0], &rows[1], &rows[2]}

	summaries := Summarize(records, MetricJIF, nil)
	require.Len(t, summaries, 2)

	assert.Equal(t, 2022, summaries[0].Period)
	assert.Nil(t, summaries[0].BestQuartile, "N/A is not reported as a quartile")
	require.NotNil(t, summaries[0].Metric)
	assert.Equal(t, 87.2, *summaries[0].Metric)

	assert.Equal(t, 2023, summaries[1].Period)
	require.NotNil(t, summaries[1].BestQuartile)
	assert.Equal(t, "Q1", *summaries[1].BestQuartile)
	require.NotNil(t, summaries[1].Metric, "first non-nil metric is kept")
	assert.Equal(t, 82.9, *summaries[1].Metric)
	assert.Len(t, summaries[1].Categories, 2)

	filtered := Summarize(records, MetricJIF, []int{2023})
	require.Len(t, filtered, 1)
	assert.Equal(t, 2023, filtered[0].Period)
}

func TestPreferCompleteEdition(t *testing.T) {
	incomplete := journalRow("Lancet", 2023, "", Float(1), "Medicine", "0140-6736")
	incomplete.Facts[FactSource] = SourceIncomplete
	onlyIncomplete := journalRow("Lancet", 2025, "", nil, "Medicine", "0140-6736")
	onlyIncomplete.Facts[FactSource] = SourceIncomplete
	complete := journalRow("Lancet", 2023, "Q1", Float(168.9), "Medicine", "0140-6736")

	kept := preferCompleteEdition([]MetricRecord{incomplete, onlyIncomplete, complete})
	require.Len(t, kept, 2)
	assert.Equal(t, SourceComplete, kept[0].Fact(FactSource))
	assert.Equal(t, 2025, kept[1].Period)
	assert.Equal(t, quartileNotApplicable, kept[1].Fact(FactQuartile))
}

func TestEnsureLoadedSingleFlight(t *testing.T) {
	source := &countingSource{rows: institutionFixture, delay: 50 * time.Millisecond}
	institutions := NewInstitutions(source, noRetry)

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- institutions.EnsureLoaded(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), source.calls.Load())
	assert.True(t, institutions.Loaded())
	assert.Equal(t, 4, institutions.Len())

	require.NoError(t, institutions.EnsureLoaded(context.Background()))
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestFailedLoadResetsForRetry(t *testing.T) {
	boom := errors.New("connection refused")
	source := &countingSource{
		rows: institutionFixture,
		fail: func(call int32) error {
			if call == 1 {
				return boom
			}
			return nil
		},
	}
	institutions := NewInstitutions(source, noRetry)

	_, err := institutions.LookupByName(context.Background(), "harvard university")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, institutions.Loaded())

	result, err := institutions.LookupByName(context.Background(), "harvard university")
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestLookupOnUnloadedCacheTriggersLoad(t *testing.T) {
	source := &countingSource{rows: journalFixture}
	journals := NewJournals(source, noRetry)
	require.False(t, journals.Loaded())

	result, err := journals.LookupByIdentifier(context.Background(), "0140-6736")
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestEnsureLoadedHonoursCallerContext(t *testing.T) {
	source := &countingSource{rows: journalFixture, delay: 200 * time.Millisecond}
	journals := NewJournals(source, noRetry)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := journals.EnsureLoaded(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The detached load still completes for later callers.
	require.NoError(t, journals.EnsureLoaded(context.Background()))
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestInstitutionListings(t *testing.T) {
	ctx := context.Background()
	institutions := NewInstitutions(&countingSource{rows: institutionFixture}, noRetry)

	malaysian, err := institutions.ByCountry(ctx, "malaysia", 0)
	require.NoError(t, err)
	require.Len(t, malaysian, 2)
	assert.Equal(t, "University of Malaya", malaysian[0].DisplayName)

	limited, err := institutions.ByCountry(ctx, "Malaysia", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	top, err := institutions.Top(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Chinese Academy of Sciences", top[0].DisplayName)
}

func TestListingsDoNotShareIndexStorage(t *testing.T) {
	ctx := context.Background()
	institutions := NewInstitutions(&countingSource{rows: institutionFixture}, noRetry)

	top, err := institutions.Top(ctx, 2)
	require.NoError(t, err)
	_ = append(top, &MetricRecord{DisplayName: "Injected"})

	again, err := institutions.Top(ctx, 3)
	require.NoError(t, err)
	require.Len(t, again, 3)
	assert.Equal(t, "University of Malaya", again[2].DisplayName)

	all, err := institutions.Records(ctx)
	require.NoError(t, err)
	all[0] = &MetricRecord{DisplayName: "Overwritten"}

	result, err := institutions.LookupByName(ctx, "Chinese Academy of Sciences")
	require.NoError(t, err)
	require.True(t, result.Found)
	first, err := institutions.Top(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Chinese Academy of Sciences", first[0].DisplayName)
}
