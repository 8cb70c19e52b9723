package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rc-assistant/backend/internal/storage/models"
)

func (c *Client) UpsertKnowledgeEntry(ctx context.Context, entry *models.KnowledgeEntry) error {
	tagsJSON, _ := json.Marshal(entry.Tags)
	accessJSON, _ := json.Marshal(entry.AccessLevels)

	query := `
		INSERT INTO knowledge_entries (id, document_title, section_title, content, tags, department,
			category, priority, access_levels, format_type, is_active, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_title = excluded.document_title,
			section_title = excluded.section_title,
			content = excluded.content,
			tags = excluded.tags,
			department = excluded.department,
			category = excluded.category,
			priority = excluded.priority,
			access_levels = excluded.access_levels,
			format_type = excluded.format_type,
			is_active = excluded.is_active,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	isActive := 0
	if entry.IsActive {
		isActive = 1
	}

	_, err := c.db.ExecContext(ctx, query,
		entry.ID,
		entry.DocumentTitle,
		entry.SectionTitle,
		entry.Content,
		string(tagsJSON),
		entry.Department,
		entry.Category,
		entry.Priority,
		string(accessJSON),
		entry.FormatType,
		isActive,
		entry.Status,
		entry.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge entry: %w", err)
	}

	return nil
}

// ListKnowledgeEntries returns a snapshot of every entry. Visibility and
// status filtering is left to the caller.
func (c *Client) ListKnowledgeEntries(ctx context.Context) ([]models.KnowledgeEntry, error) {
	query := `
		SELECT id, document_title, section_title, content, tags, department, category,
			priority, access_levels, format_type, is_active, status, updated_at
		FROM knowledge_entries
		ORDER BY updated_at DESC, id
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge entries: %w", err)
	}
	defer rows.Close()

	var entries []models.KnowledgeEntry
	for rows.Next() {
		var e models.KnowledgeEntry
		var section, tagsJSON, department, category, priority, accessJSON, formatType, status sql.NullString
		var isActive int
		var updatedAt int64

		err := rows.Scan(&e.ID, &e.DocumentTitle, &section, &e.Content, &tagsJSON, &department, &category,
			&priority, &accessJSON, &formatType, &isActive, &status, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		e.SectionTitle = section.String
		e.Department = department.String
		e.Category = category.String
		e.Priority = priority.String
		e.FormatType = formatType.String
		e.Status = status.String
		e.IsActive = isActive == 1
		e.UpdatedAt = time.Unix(updatedAt, 0)
		json.Unmarshal([]byte(tagsJSON.String), &e.Tags)
		json.Unmarshal([]byte(accessJSON.String), &e.AccessLevels)

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read knowledge entries: %w", err)
	}

	return entries, nil
}
