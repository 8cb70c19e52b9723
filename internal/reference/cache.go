package reference

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rc-assistant/backend/internal/metrics"
	"github.com/rc-assistant/backend/pkg/logger"
	"github.com/rc-assistant/backend/pkg/retry"
)

const loadKey = "load"

type MatchType string

const (
	MatchIdentifier MatchType = "identifier"
	MatchExact      MatchType = "exact"
	MatchMapped     MatchType = "mapped"
	MatchFuzzy      MatchType = "fuzzy"
)

// Source supplies every row of one reference table in a single bulk read.
type Source interface {
	LoadRows(ctx context.Context) ([]MetricRecord, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]MetricRecord, error)

func (f SourceFunc) LoadRows(ctx context.Context) ([]MetricRecord, error) {
	return f(ctx)
}

type Options struct {
	// Name labels logs and metrics, e.g. "journal".
	Name string
	// PrimaryMetric is reported as PeriodSummary.Metric.
	PrimaryMetric string
	// Fuzzy enables the bounded edit-distance fallback on name misses.
	Fuzzy bool
	// MinFuzzyLength skips the fallback for queries of this many runes or fewer.
	MinFuzzyLength int
	// Aliases maps a normalized query name to a normalized canonical name.
	Aliases map[string]string
	// Prepare may reorder or drop rows before indexing.
	Prepare func([]MetricRecord) []MetricRecord
	Retry   retry.Config
}

// MatchResult is the answer to one lookup.
type MatchResult struct {
	Found     bool            `json:"found"`
	Record    *MetricRecord   `json:"-"`
	Periods   []PeriodSummary `json:"metrics,omitempty"`
	MatchType MatchType       `json:"matchType,omitempty"`
	Distance  int             `json:"distance,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Cache is a lazily built, read-mostly index over one reference table.
// The first EnsureLoaded call performs the bulk read; concurrent callers wait
// on the same load. After publication the index is never mutated, so lookups
// read it without locking.
type Cache struct {
	source Source
	opts   Options

	group singleflight.Group
	idx   atomic.Pointer[index]
	loads atomic.Int64
}

func New(source Source, opts Options) *Cache {
	if opts.Name == "" {
		opts.Name = "reference"
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = logger.GetLogger()
	}
	if opts.Retry.Name == "" {
		opts.Retry.Name = opts.Name + " load"
	}

	return &Cache{
		source: source,
		opts:   opts,
	}
}

func (c *Cache) Name() string {
	return c.opts.Name
}

// Loaded reports whether an index has been published.
func (c *Cache) Loaded() bool {
	return c.idx.Load() != nil
}

// Len is the number of indexed records, zero before the first load.
func (c *Cache) Len() int {
	idx := c.idx.Load()
	if idx == nil {
		return 0
	}
	return idx.size()
}

// Loads counts bulk reads issued against the source.
func (c *Cache) Loads() int64 {
	return c.loads.Load()
}

// EnsureLoaded populates the index once. A failed load is reported to every
// waiter and leaves the cache unloaded so the next call retries. The load
// itself is detached from the caller's cancellation so that one caller giving
// up does not fail the others; each caller still stops waiting when its own
// context ends.
func (c *Cache) EnsureLoaded(ctx context.Context) error {
	if c.Loaded() {
		return nil
	}

	ch := c.group.DoChan(loadKey, func() (interface{}, error) {
		if c.Loaded() {
			return nil, nil
		}
		return nil, c.load(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) load(ctx context.Context) error {
	start := time.Now()
	logger.Info("Loading reference cache", zap.String("cache", c.opts.Name))

	rows, err := retry.DoWithResult(ctx, c.opts.Retry, func() ([]MetricRecord, error) {
		c.loads.Add(1)
		return c.source.LoadRows(ctx)
	})
	if err != nil {
		metrics.ReferenceLoads.WithLabelValues(c.opts.Name, "error").Inc()
		logger.Error("Failed to load reference cache",
			zap.String("cache", c.opts.Name),
			zap.Error(err),
		)
		return fmt.Errorf("failed to load %s cache: %w", c.opts.Name, err)
	}

	if c.opts.Prepare != nil {
		rows = c.opts.Prepare(rows)
	}

	idx := buildIndex(rows)
	c.idx.Store(idx)

	metrics.ReferenceLoads.WithLabelValues(c.opts.Name, "ok").Inc()
	metrics.ReferenceRecords.WithLabelValues(c.opts.Name).Set(float64(idx.size()))
	logger.Info("Reference cache loaded",
		zap.String("cache", c.opts.Name),
		zap.Int("records", idx.size()),
		zap.Int("names", len(idx.names)),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}

func (c *Cache) index(ctx context.Context) (*index, error) {
	if err := c.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	return c.idx.Load(), nil
}

// LookupByIdentifier resolves an authoritative identifier. Misses never fall
// back to fuzzy matching.
func (c *Cache) LookupByIdentifier(ctx context.Context, id string, periods ...int) (*MatchResult, error) {
	key := NormalizeIdentifier(id)
	if key == "" {
		return &MatchResult{Reason: "No identifier provided"}, nil
	}

	idx, err := c.index(ctx)
	if err != nil {
		return nil, err
	}

	records, ok := idx.byIdentifier[key]
	if !ok {
		c.observe("miss")
		return &MatchResult{Reason: "Identifier not found"}, nil
	}

	return c.wrap(records, periods, MatchIdentifier, 0, ""), nil
}

// LookupByName resolves a display name: exact normalized match, then the
// alias table, then (when enabled) the closest name within the edit-distance
// threshold. The fallback scan only runs on a miss.
func (c *Cache) LookupByName(ctx context.Context, name string, periods ...int) (*MatchResult, error) {
	key := NormalizeName(name)
	if key == "" {
		return &MatchResult{Reason: "No name provided"}, nil
	}

	idx, err := c.index(ctx)
	if err != nil {
		return nil, err
	}

	if records, ok := idx.byName[key]; ok {
		return c.wrap(records, periods, MatchExact, 0, ""), nil
	}

	if mapped, ok := c.opts.Aliases[key]; ok {
		if records, ok := idx.byName[mapped]; ok {
			logger.Debug("Reference alias match",
				zap.String("cache", c.opts.Name),
				zap.String("query", name),
				zap.String("match", mapped),
			)
			return c.wrap(records, periods, MatchMapped, 0, fmt.Sprintf("Mapped from %q", name)), nil
		}
	}

	if c.opts.Fuzzy && len([]rune(key)) > c.opts.MinFuzzyLength {
		if best, dist, ok := idx.closestName(key); ok {
			logger.Debug("Reference fuzzy match",
				zap.String("cache", c.opts.Name),
				zap.String("query", name),
				zap.String("match", best),
				zap.Int("distance", dist),
			)
			return c.wrap(idx.byName[best], periods, MatchFuzzy, dist, fmt.Sprintf("Fuzzy matched from %q", name)), nil
		}
	}

	c.observe("miss")
	return &MatchResult{Reason: "Name not found"}, nil
}

// Records returns every indexed record in source order. The slice is a copy;
// callers may append to or reorder it without touching the index.
func (c *Cache) Records(ctx context.Context) ([]*MetricRecord, error) {
	idx, err := c.index(ctx)
	if err != nil {
		return nil, err
	}
	return append([]*MetricRecord(nil), idx.ordered...), nil
}

func (c *Cache) wrap(records []*MetricRecord, periods []int, matchType MatchType, dist int, reason string) *MatchResult {
	c.observe(string(matchType))
	return &MatchResult{
		Found:     true,
		Record:    records[0],
		Periods:   Summarize(records, c.opts.PrimaryMetric, periods),
		MatchType: matchType,
		Distance:  dist,
		Reason:    reason,
	}
}

func (c *Cache) observe(outcome string) {
	metrics.ReferenceLookups.WithLabelValues(c.opts.Name, outcome).Inc()
}
