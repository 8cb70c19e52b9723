package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rc-assistant/backend/internal/storage/models"
)

// MetadataDelimiter separates the streamed answer text from the trailing
// metadata JSON object.
const MetadataDelimiter = "___METADATA_JSON___"

var (
	ErrEmptyMessage     = errors.New("message is required")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrGenerationFailed = errors.New("generation failed")
	ErrStreamAborted    = errors.New("stream aborted")
	ErrSessionNotFound  = errors.New("chat session not found")
	ErrForbidden        = errors.New("not allowed to modify this chat session")
)

// Request is what the generation backend receives for one user message.
type Request struct {
	Query     string
	Role      string
	UserID    string
	SessionID string
}

// Result is produced by the generation backend once the answer is complete.
type Result struct {
	Answer      string
	Sources     []models.Source
	Suggestions []string
	Logs        []string
}

// Generator produces an answer. When onChunk is non-nil every piece of answer
// text is passed to it as soon as it is available; an error returned by
// onChunk must abort generation.
type Generator interface {
	Generate(ctx context.Context, req Request, onChunk func(chunk string) error) (*Result, error)
}

// Store is the durable chat-session and message store. GetSession returns
// nil, nil for an unknown or deleted id. Deletes are soft: DeleteSession
// reports false when no live session matched.
type Store interface {
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	CreateSession(ctx context.Context, session *models.ChatSession) error
	AppendMessage(ctx context.Context, message *models.Message) error
	ListMessages(ctx context.Context, sessionID, userID string) ([]*models.Message, error)
	ListSessions(ctx context.Context, userID string) ([]*models.ChatSession, error)
	DeleteSession(ctx context.Context, id, deletedBy string, at time.Time) (bool, error)
	ClearSessions(ctx context.Context, userID, deletedBy string, at time.Time) (int64, error)
}

// QuestionRecorder counts inbound questions. Failures are never fatal.
type QuestionRecorder interface {
	RecordQuestion(ctx context.Context, question string) error
}

// Inbound is one user message as received at the HTTP boundary.
type Inbound struct {
	UserID    string
	Role      string
	Message   string
	SessionID string
}

// Sink receives one streamed answer: every chunk in order, then the metadata
// once the answer is complete. An error from Chunk aborts generation.
type Sink interface {
	Chunk(text string) error
	Complete(meta Metadata) error
}

// Metadata is the trailing frame of a streamed answer.
type Metadata struct {
	SessionID   string          `json:"sessionId"`
	Sources     []models.Source `json:"sources"`
	Suggestions []string        `json:"suggestions"`
	Logs        []string        `json:"logs"`
}

// Reply is the non-streaming response body.
type Reply struct {
	Success     bool            `json:"success"`
	SessionID   string          `json:"sessionId"`
	Answer      string          `json:"answer"`
	Sources     []models.Source `json:"sources"`
	Suggestions []string        `json:"suggestions"`
	Logs        []string        `json:"logs"`
}
