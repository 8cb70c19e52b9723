package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const KnowledgeStatusActive = "active"

type ChatSession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Messages  []*Message `json:"messages,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Source is one citation attached to an answer.
type Source struct {
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	DocumentID     string  `json:"documentId,omitempty"`
	Category       string  `json:"category,omitempty"`
	Department     string  `json:"department,omitempty"`
	AccessLevel    string  `json:"accessLevel,omitempty"`
	RelevanceScore float64 `json:"relevanceScore,omitempty"`
}

type JournalMetricRow struct {
	ID              int64
	FullTitle       string
	NormalizedTitle string
	ISSNPrint       *string
	ISSNElectronic  *string
	Category        string
	Edition         *string
	JIFYear         int
	JIFValue        *float64
	JIFQuartile     string
	Source          string
}

type InstitutionRow struct {
	ID             int64
	Position       int
	Institution    string
	NormalizedName string
	Country        string
	Count          float64
	Share          float64
	Year           int
}

type KnowledgeEntry struct {
	ID            string
	DocumentTitle string
	SectionTitle  string
	Content       string
	Tags          []string
	Department    string
	Category      string
	Priority      string
	AccessLevels  []string
	FormatType    string
	IsActive      bool
	Status        string
	UpdatedAt     time.Time
}
