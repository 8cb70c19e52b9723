package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rc-assistant/backend/internal/reference"
	"github.com/rc-assistant/backend/internal/storage/models"
)

func (c *Client) InsertJournalMetric(ctx context.Context, row *models.JournalMetricRow) error {
	query := `
		INSERT INTO jcr_journal_metrics (full_title, normalized_title, issn_print, issn_electronic,
			category, edition, jif_year, jif_value, jif_quartile, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	normalized := row.NormalizedTitle
	if normalized == "" {
		normalized = reference.NormalizeName(row.FullTitle)
	}

	_, err := c.db.ExecContext(ctx, query,
		row.FullTitle,
		normalized,
		row.ISSNPrint,
		row.ISSNElectronic,
		row.Category,
		row.Edition,
		row.JIFYear,
		row.JIFValue,
		row.JIFQuartile,
		row.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert journal metric: %w", err)
	}

	return nil
}

func (c *Client) InsertInstitution(ctx context.Context, row *models.InstitutionRow) error {
	query := `
		INSERT INTO nature_index_institutions (position, institution, normalized_name, country, count, share, year)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	normalized := row.NormalizedName
	if normalized == "" {
		normalized = reference.NormalizeName(row.Institution)
	}

	_, err := c.db.ExecContext(ctx, query,
		row.Position,
		row.Institution,
		normalized,
		row.Country,
		row.Count,
		row.Share,
		row.Year,
	)
	if err != nil {
		return fmt.Errorf("failed to insert institution: %w", err)
	}

	return nil
}

// JournalSource reads the whole journal-impact table for the reference cache.
func (c *Client) JournalSource() reference.Source {
	return reference.SourceFunc(c.loadJournalRecords)
}

// InstitutionSource reads the whole institution-ranking table in rank order.
func (c *Client) InstitutionSource() reference.Source {
	return reference.SourceFunc(c.loadInstitutionRecords)
}

func (c *Client) loadJournalRecords(ctx context.Context) ([]reference.MetricRecord, error) {
	query := `
		SELECT full_title, issn_print, issn_electronic, category, edition,
			jif_year, jif_value, jif_quartile, source
		FROM jcr_journal_metrics
		ORDER BY id
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load journal metrics: %w", err)
	}
	defer rows.Close()

	var records []reference.MetricRecord
	for rows.Next() {
		var title string
		var year int
		var issn, eissn, category, edition, quartile, source sql.NullString
		var jif sql.NullFloat64

		err := rows.Scan(&title, &issn, &eissn, &category, &edition, &year, &jif, &quartile, &source)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r := reference.NewRecord(title, year, issn.String, eissn.String)
		r.Facts[reference.FactCategory] = category.String
		r.Facts[reference.FactEdition] = edition.String
		r.Facts[reference.FactQuartile] = strings.TrimSpace(quartile.String)
		r.Facts[reference.FactSource] = source.String
		if jif.Valid {
			r.Metrics[reference.MetricJIF] = reference.Float(jif.Float64)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal metrics: %w", err)
	}

	return records, nil
}

func (c *Client) loadInstitutionRecords(ctx context.Context) ([]reference.MetricRecord, error) {
	query := `
		SELECT position, institution, country, count, share, year
		FROM nature_index_institutions
		ORDER BY year DESC, position ASC
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load institutions: %w", err)
	}
	defer rows.Close()

	var records []reference.MetricRecord
	for rows.Next() {
		var position, year int
		var name string
		var country sql.NullString
		var count, share sql.NullFloat64

		err := rows.Scan(&position, &name, &country, &count, &share, &year)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r := reference.NewRecord(name, year)
		r.Facts[reference.FactCountry] = country.String
		r.Metrics[reference.MetricPosition] = reference.Float(float64(position))
		if count.Valid {
			r.Metrics[reference.MetricCount] = reference.Float(count.Float64)
		}
		if share.Valid {
			r.Metrics[reference.MetricShare] = reference.Float(share.Float64)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read institutions: %w", err)
	}

	return records, nil
}
