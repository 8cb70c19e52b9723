package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/storage/models"
	"github.com/rc-assistant/backend/pkg/logger"
)

var (
	journalColumns     = []string{"title", "issn_print", "issn_electronic", "category", "edition", "year", "jif", "quartile", "source"}
	institutionColumns = []string{"position", "institution", "country", "count", "share", "year"}
)

// csvRows reads a headed CSV and yields each row keyed by column name.
// Columns may appear in any order; every required column must be present.
func csvRows(r io.Reader, required []string, fn func(line int, row map[string]string) error) (int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := index[name]; !ok {
			return 0, fmt.Errorf("missing column %q", name)
		}
	}

	count := 0
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		line++
		if err != nil {
			return count, fmt.Errorf("failed to read line %d: %w", line, err)
		}

		row := make(map[string]string, len(index))
		for name, i := range index {
			if i < len(record) {
				row[name] = strings.TrimSpace(record[i])
			}
		}
		if err := fn(line, row); err != nil {
			return count, err
		}
		count++
	}
}

// ImportJournals loads journal impact rows. Empty issn, edition and jif
// cells are stored as NULL.
func (p *Processor) ImportJournals(ctx context.Context, r io.Reader) (int, error) {
	n, err := csvRows(r, journalColumns, func(line int, row map[string]string) error {
		year, err := strconv.Atoi(row["year"])
		if err != nil {
			return fmt.Errorf("line %d: invalid year %q", line, row["year"])
		}

		var jif *float64
		if v := row["jif"]; v != "" && !strings.EqualFold(v, "n/a") {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("line %d: invalid jif %q", line, v)
			}
			jif = &f
		}

		quartile := strings.ToUpper(row["quartile"])
		if quartile == "" {
			quartile = "N/A"
		}

		metric := &models.JournalMetricRow{
			FullTitle:      row["title"],
			ISSNPrint:      optional(row["issn_print"]),
			ISSNElectronic: optional(row["issn_electronic"]),
			Category:       row["category"],
			Edition:        optional(row["edition"]),
			JIFYear:        year,
			JIFValue:       jif,
			JIFQuartile:    quartile,
			Source:         row["source"],
		}
		if metric.FullTitle == "" {
			return fmt.Errorf("line %d: title is required", line)
		}
		return p.store.InsertJournalMetric(ctx, metric)
	})
	if err != nil {
		return n, fmt.Errorf("failed to import journals: %w", err)
	}

	logger.Info("Imported journal metrics", zap.Int("rows", n))
	return n, nil
}

func (p *Processor) ImportInstitutions(ctx context.Context, r io.Reader) (int, error) {
	n, err := csvRows(r, institutionColumns, func(line int, row map[string]string) error {
		position, err := strconv.Atoi(row["position"])
		if err != nil {
			return fmt.Errorf("line %d: invalid position %q", line, row["position"])
		}
		year, err := strconv.Atoi(row["year"])
		if err != nil {
			return fmt.Errorf("line %d: invalid year %q", line, row["year"])
		}
		count, err := strconv.ParseFloat(row["count"], 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid count %q", line, row["count"])
		}
		share, err := strconv.ParseFloat(row["share"], 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid share %q", line, row["share"])
		}
		if row["institution"] == "" {
			return fmt.Errorf("line %d: institution is required", line)
		}

		return p.store.InsertInstitution(ctx, &models.InstitutionRow{
			Position:    position,
			Institution: row["institution"],
			Country:     row["country"],
			Count:       count,
			Share:       share,
			Year:        year,
		})
	})
	if err != nil {
		return n, fmt.Errorf("failed to import institutions: %w", err)
	}

	logger.Info("Imported institutions", zap.Int("rows", n))
	return n, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
