package chat

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/metrics"
	"github.com/rc-assistant/backend/internal/storage/models"
	"github.com/rc-assistant/backend/pkg/logger"
	"github.com/rc-assistant/backend/pkg/utils"
)

type Config struct {
	TitleLength     int
	MaxMessageChars int
	// ModeratorRoles may delete sessions they do not own.
	ModeratorRoles []string
}

// Assembler turns one user message into an answer while keeping the
// conversation history in the store.
type Assembler struct {
	store     Store
	generator Generator
	recorder  QuestionRecorder
	cfg       Config
	now       func() time.Time
}

func NewAssembler(store Store, generator Generator, recorder QuestionRecorder, cfg Config) *Assembler {
	if cfg.TitleLength <= 0 {
		cfg.TitleLength = 100
	}
	if cfg.ModeratorRoles == nil {
		cfg.ModeratorRoles = []string{"chairperson"}
	}

	return &Assembler{
		store:     store,
		generator: generator,
		recorder:  recorder,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Stream forwards answer chunks to w as they are produced, calling flush after
// each one, and ends with MetadataDelimiter followed by the metadata JSON.
//
// Errors wrapping ErrGenerationFailed mean nothing was written and the caller
// may still send an ordinary error response. Errors wrapping ErrStreamAborted
// mean partial text was written; no metadata frame follows.
func (a *Assembler) Stream(ctx context.Context, in Inbound, w io.Writer, flush func() error) error {
	return a.StreamTo(ctx, in, &textSink{w: w, flush: flush})
}

// StreamTo is Stream for transports with their own framing.
func (a *Assembler) StreamTo(ctx context.Context, in Inbound, sink Sink) error {
	start := a.now()

	session, err := a.prepare(ctx, in)
	if err != nil {
		return err
	}

	ss := newStreamSession(session.ID)
	req := Request{Query: in.Message, Role: in.Role, UserID: in.UserID, SessionID: session.ID}

	result, err := a.generator.Generate(ctx, req, func(chunk string) error {
		if chunk == "" {
			return nil
		}
		if err := sink.Chunk(chunk); err != nil {
			return err
		}
		ss.append(chunk)
		metrics.StreamedChunks.Inc()
		return nil
	})
	if err != nil {
		logger.Error("Generation failed",
			zap.String("session_id", session.ID),
			zap.Int("chunks_sent", ss.chunks),
			zap.Error(err),
		)
		if ss.started() {
			metrics.ChatTotal.WithLabelValues("stream", "aborted").Inc()
			return fmt.Errorf("%w: %w", ErrStreamAborted, err)
		}
		metrics.ChatTotal.WithLabelValues("stream", "error").Inc()
		return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	answer := ss.finish(result)
	a.persistAnswer(ctx, session.ID, in.UserID, answer, ss.sources)

	if err := sink.Complete(ss.metadata()); err != nil {
		metrics.ChatTotal.WithLabelValues("stream", "aborted").Inc()
		return fmt.Errorf("%w: %w", ErrStreamAborted, err)
	}

	metrics.ChatTotal.WithLabelValues("stream", "ok").Inc()
	metrics.ChatDuration.WithLabelValues("stream").Observe(a.now().Sub(start).Seconds())
	logger.Info("Streamed answer",
		zap.String("session_id", session.ID),
		zap.Int("chunks", ss.chunks),
		zap.Int("answer_length", len(answer)),
		zap.Int("sources", len(ss.sources)),
	)

	return nil
}

// Answer is the non-streaming variant: generate fully, persist, reply once.
func (a *Assembler) Answer(ctx context.Context, in Inbound) (*Reply, error) {
	start := a.now()

	session, err := a.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	req := Request{Query: in.Message, Role: in.Role, UserID: in.UserID, SessionID: session.ID}
	result, err := a.generator.Generate(ctx, req, nil)
	if err != nil {
		metrics.ChatTotal.WithLabelValues("json", "error").Inc()
		logger.Error("Generation failed", zap.String("session_id", session.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	ss := newStreamSession(session.ID)
	answer := ss.finish(result)
	a.persistAnswer(ctx, session.ID, in.UserID, answer, ss.sources)

	metrics.ChatTotal.WithLabelValues("json", "ok").Inc()
	metrics.ChatDuration.WithLabelValues("json").Observe(a.now().Sub(start).Seconds())

	return &Reply{
		Success:     true,
		SessionID:   session.ID,
		Answer:      answer,
		Sources:     ss.sources,
		Suggestions: ss.suggestions,
		Logs:        ss.logs,
	}, nil
}

// History lists the caller's messages of one session, oldest first.
func (a *Assembler) History(ctx context.Context, userID, sessionID string) ([]*models.Message, error) {
	messages, err := a.store.ListMessages(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return nonNil(messages), nil
}

// Sessions lists the caller's sessions, most recently updated first, each
// with at most its latest message as a preview.
func (a *Assembler) Sessions(ctx context.Context, userID string) ([]*models.ChatSession, error) {
	sessions, err := a.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return nonNil(sessions), nil
}

// DeleteSession soft deletes one session on behalf of userID. Owners may
// delete their own sessions, moderators any session.
func (a *Assembler) DeleteSession(ctx context.Context, userID, role, sessionID string) error {
	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if session.UserID != userID && !slices.Contains(a.cfg.ModeratorRoles, role) {
		return ErrForbidden
	}

	deleted, err := a.store.DeleteSession(ctx, sessionID, userID, a.now())
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !deleted {
		return ErrSessionNotFound
	}

	logger.Info("Chat session deleted",
		zap.String("session_id", sessionID),
		zap.String("owner_id", session.UserID),
		zap.String("deleted_by", userID),
	)
	return nil
}

// ClearSessions soft deletes every session the caller owns and returns how
// many were removed.
func (a *Assembler) ClearSessions(ctx context.Context, userID string) (int64, error) {
	n, err := a.store.ClearSessions(ctx, userID, userID, a.now())
	if err != nil {
		return 0, fmt.Errorf("failed to clear sessions: %w", err)
	}
	return n, nil
}

// prepare validates the message, resolves the session and stores the user's
// message so it survives a later generation failure.
func (a *Assembler) prepare(ctx context.Context, in Inbound) (*models.ChatSession, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if a.cfg.MaxMessageChars > 0 && len([]rune(in.Message)) > a.cfg.MaxMessageChars {
		return nil, ErrMessageTooLong
	}

	session, err := a.resolveSession(ctx, in)
	if err != nil {
		return nil, err
	}

	err = a.store.AppendMessage(ctx, &models.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		UserID:    in.UserID,
		Role:      models.RoleUser,
		Content:   in.Message,
		CreatedAt: a.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	if a.recorder != nil {
		if err := a.recorder.RecordQuestion(ctx, in.Message); err != nil {
			logger.Warn("Failed to record question", zap.Error(err))
		}
	}

	return session, nil
}

func (a *Assembler) resolveSession(ctx context.Context, in Inbound) (*models.ChatSession, error) {
	if in.SessionID != "" {
		session, err := a.store.GetSession(ctx, in.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		if session != nil && session.UserID == in.UserID {
			return session, nil
		}
		logger.Debug("Session not reusable, creating a new one", zap.String("session_id", in.SessionID))
	}

	now := a.now()
	session := &models.ChatSession{
		ID:        uuid.New().String(),
		UserID:    in.UserID,
		Title:     utils.TruncateRunes(strings.TrimSpace(in.Message), a.cfg.TitleLength),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.Info("Chat session created", zap.String("session_id", session.ID), zap.String("user_id", in.UserID))
	return session, nil
}

// persistAnswer stores the assistant message. The answer has already been
// delivered, so a failure is logged and counted but not returned.
func (a *Assembler) persistAnswer(ctx context.Context, sessionID, userID, answer string, sources []models.Source) {
	err := a.store.AppendMessage(context.WithoutCancel(ctx), &models.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      models.RoleAssistant,
		Content:   answer,
		Sources:   sources,
		CreatedAt: a.now(),
	})
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues(models.RoleAssistant).Inc()
		logger.Error("Failed to save assistant message",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}
