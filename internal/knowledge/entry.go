package knowledge

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rc-assistant/backend/internal/storage/models"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityStandard Priority = "standard"
)

// Entry is an authored knowledge block. The scorer reads entries and never
// modifies them.
type Entry struct {
	ID            string
	DocumentTitle string
	SectionTitle  string
	Body          string
	Tags          []string
	Department    string
	Category      string
	Priority      Priority
	AccessLevels  []string
	Active        bool
	FormatType    string
}

// FromModel converts a stored row, flattening HTML bodies to plain text.
func FromModel(m models.KnowledgeEntry) Entry {
	return Entry{
		ID:            m.ID,
		DocumentTitle: m.DocumentTitle,
		SectionTitle:  m.SectionTitle,
		Body:          PlainText(m.Content, m.FormatType),
		Tags:          m.Tags,
		Department:    m.Department,
		Category:      m.Category,
		Priority:      Priority(m.Priority),
		AccessLevels:  m.AccessLevels,
		Active:        m.IsActive && m.Status == models.KnowledgeStatusActive,
		FormatType:    m.FormatType,
	}
}

// PlainText strips markup from rich-text bodies produced by the admin editor.
func PlainText(content, formatType string) string {
	if formatType != "html" && !strings.Contains(content, "</") {
		return content
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}

	var parts []string
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, strings.Join(strings.Fields(text), " "))
		}
	})
	return strings.Join(parts, "\n")
}

// AccessLevelsForRole lists the access levels visible to a role.
func AccessLevelsForRole(role string) []string {
	switch role {
	case "student":
		return []string{"public", "student"}
	case "member":
		return []string{"public", "student", "member"}
	case "chairperson":
		return []string{"public", "student", "member", "chairperson"}
	default:
		return []string{"public"}
	}
}

// Filter keeps active entries visible to at least one of the caller's levels.
func Filter(entries []Entry, accessLevels []string) []Entry {
	allowed := make(map[string]bool, len(accessLevels))
	for _, level := range accessLevels {
		allowed[level] = true
	}

	visible := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Active {
			continue
		}
		for _, level := range e.AccessLevels {
			if allowed[level] {
				visible = append(visible, e)
				break
			}
		}
	}
	return visible
}
