package knowledge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/storage/models"
	"github.com/rc-assistant/backend/pkg/logger"
)

// Store reads the current knowledge entries.
type Store interface {
	ListKnowledgeEntries(ctx context.Context) ([]models.KnowledgeEntry, error)
}

type Retriever struct {
	store Store
	limit int
}

func NewRetriever(store Store, limit int) *Retriever {
	if limit <= 0 {
		limit = 3
	}
	return &Retriever{
		store: store,
		limit: limit,
	}
}

// Search loads a fresh snapshot, keeps the entries visible to accessLevels
// and returns the best matches. limit <= 0 uses the configured default.
func (r *Retriever) Search(ctx context.Context, query string, accessLevels []string, limit int) ([]Scored, error) {
	if limit <= 0 {
		limit = r.limit
	}

	rows, err := r.store.ListKnowledgeEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge entries: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, FromModel(row))
	}

	visible := Filter(entries, accessLevels)
	results := Rank(query, visible, limit)

	logger.Debug("Knowledge entries scored",
		zap.Int("candidates", len(visible)),
		zap.Int("results", len(results)),
	)

	return results, nil
}
