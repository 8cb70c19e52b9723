// Package ingestion loads knowledge documents and reference tables into the
// store.
package ingestion

import (
	"context"
	"crypto/md5"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/storage/models"
	"github.com/rc-assistant/backend/pkg/logger"
)

type Store interface {
	UpsertKnowledgeEntry(ctx context.Context, entry *models.KnowledgeEntry) error
	InsertJournalMetric(ctx context.Context, row *models.JournalMetricRow) error
	InsertInstitution(ctx context.Context, row *models.InstitutionRow) error
}

// DocumentMeta is applied to every section of an imported document.
type DocumentMeta struct {
	Department   string
	Category     string
	Priority     string
	AccessLevels []string
	Tags         []string
}

type Processor struct {
	store Store
	now   func() time.Time
}

func NewProcessor(store Store) *Processor {
	return &Processor{
		store: store,
		now:   time.Now,
	}
}

// Section is one h2-delimited part of a knowledge document.
type Section struct {
	Title   string
	Content string
}

// ProcessDocument splits an HTML document into one knowledge entry per
// section and upserts them. Re-importing the same document replaces its
// entries.
func (p *Processor) ProcessDocument(ctx context.Context, htmlContent string, meta DocumentMeta) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return 0, fmt.Errorf("failed to parse document: %w", err)
	}

	title := extractTitle(doc)
	sections := splitSections(doc, title)
	if len(sections) == 0 {
		return 0, fmt.Errorf("no content extracted from document %q", title)
	}

	logger.Info("Processing knowledge document",
		zap.String("title", title),
		zap.Int("sections", len(sections)),
	)

	priority := meta.Priority
	if priority == "" {
		priority = "standard"
	}
	accessLevels := meta.AccessLevels
	if len(accessLevels) == 0 {
		accessLevels = []string{"public"}
	}

	for _, section := range sections {
		entry := &models.KnowledgeEntry{
			ID:            generateID(title + "/" + section.Title),
			DocumentTitle: title,
			SectionTitle:  section.Title,
			Content:       section.Content,
			Tags:          meta.Tags,
			Department:    meta.Department,
			Category:      meta.Category,
			Priority:      priority,
			AccessLevels:  accessLevels,
			FormatType:    "html",
			IsActive:      true,
			Status:        models.KnowledgeStatusActive,
			UpdatedAt:     p.now(),
		}
		if err := p.store.UpsertKnowledgeEntry(ctx, entry); err != nil {
			return 0, fmt.Errorf("failed to store section %q: %w", section.Title, err)
		}
	}

	return len(sections), nil
}

func extractTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = "Untitled"
	}
	return title
}

func splitSections(doc *goquery.Document, title string) []Section {
	doc.Find("script, style, nav, footer, header, aside").Remove()

	headings := doc.Find("body h2")
	if headings.Length() == 0 {
		body := doc.Find("body")
		body.Find("h1").Remove()
		content, _ := body.Html()
		if strings.TrimSpace(body.Text()) == "" {
			return nil
		}
		return []Section{{Title: title, Content: strings.TrimSpace(content)}}
	}

	var sections []Section
	headings.Each(func(_ int, h *goquery.Selection) {
		var b strings.Builder
		h.NextUntil("h2").Each(func(_ int, s *goquery.Selection) {
			if html, err := goquery.OuterHtml(s); err == nil {
				b.WriteString(html)
			}
		})

		content := strings.TrimSpace(b.String())
		name := strings.Join(strings.Fields(h.Text()), " ")
		if content == "" || name == "" {
			return
		}
		sections = append(sections, Section{Title: name, Content: content})
	})
	return sections
}

func generateID(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}
