package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rc-assistant/backend/internal/storage/models"
)

// streamSession is the per-response state. It is discarded once the trailing
// metadata frame has been written.
type streamSession struct {
	sessionID   string
	buffer      strings.Builder
	chunks      int
	sources     []models.Source
	suggestions []string
	logs        []string
}

func newStreamSession(sessionID string) *streamSession {
	return &streamSession{sessionID: sessionID}
}

func (s *streamSession) append(chunk string) {
	s.buffer.WriteString(chunk)
	s.chunks++
}

func (s *streamSession) started() bool {
	return s.chunks > 0
}

// finish takes the final answer from the result, falling back to the text
// that was forwarded.
func (s *streamSession) finish(result *Result) string {
	s.sources = nonNil(result.Sources)
	s.suggestions = nonNil(result.Suggestions)
	s.logs = nonNil(result.Logs)

	if result.Answer != "" {
		return result.Answer
	}
	return s.buffer.String()
}

func (s *streamSession) metadata() Metadata {
	return Metadata{
		SessionID:   s.sessionID,
		Sources:     s.sources,
		Suggestions: s.suggestions,
		Logs:        s.logs,
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// textSink writes the plain-text wire format: raw chunks, then the delimiter
// and the metadata JSON.
type textSink struct {
	w     io.Writer
	flush func() error
}

func (s *textSink) Chunk(text string) error {
	if _, err := io.WriteString(s.w, text); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	return s.doFlush()
}

func (s *textSink) Complete(meta Metadata) error {
	frame, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if _, err := io.WriteString(s.w, MetadataDelimiter); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return s.doFlush()
}

func (s *textSink) doFlush() error {
	if s.flush == nil {
		return nil
	}
	if err := s.flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}
