package handlers

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/chat"
	"github.com/rc-assistant/backend/internal/middleware/auth"
	"github.com/rc-assistant/backend/internal/middleware/validation"
	"github.com/rc-assistant/backend/pkg/logger"
)

type ChatHandler struct {
	assembler *chat.Assembler
}

func NewChatHandler(assembler *chat.Assembler) *ChatHandler {
	return &ChatHandler{
		assembler: assembler,
	}
}

// HandleChat answers one message, either as a plain-text stream or as a
// single JSON reply.
func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	req := validation.Chat(c)
	if req == nil {
		req = &validation.ChatRequest{}
		if err := c.BodyParser(req); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	in := chat.Inbound{
		UserID:    auth.UserID(c),
		Role:      auth.Role(c),
		Message:   req.Message,
		SessionID: req.SessionID,
	}

	if !req.Stream {
		reply, err := h.assembler.Answer(c.UserContext(), in)
		if err != nil {
			return chatError(c, err)
		}
		return c.JSON(reply)
	}

	return h.stream(c, in)
}

// stream starts generation and waits for the first write. A failure before
// that is answered with an ordinary error status; afterwards the remaining
// output is relayed through the response body stream.
func (h *ChatHandler) stream(c *fiber.Ctx, in chat.Inbound) error {
	ctx, cancel := context.WithCancel(c.UserContext())

	pr, pw := io.Pipe()
	w := &firstWriteSignal{w: pw, started: make(chan struct{})}
	done := make(chan error, 1)

	go func() {
		err := h.assembler.Stream(ctx, in, w, nil)
		pw.CloseWithError(err)
		done <- err
	}()

	select {
	case <-w.started:
	case err := <-done:
		if err != nil {
			cancel()
			return chatError(c, err)
		}
	}

	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(bw *bufio.Writer) {
		defer cancel()

		buf := make([]byte, 4096)
		for {
			n, err := pr.Read(buf)
			if n > 0 {
				if _, werr := bw.Write(buf[:n]); werr != nil {
					pr.CloseWithError(werr)
					return
				}
				if ferr := bw.Flush(); ferr != nil {
					logger.Warn("Client disconnected during stream", zap.Error(ferr))
					pr.CloseWithError(ferr)
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("Stream ended early", zap.Error(err))
				}
				return
			}
		}
	})

	return nil
}

// GetChat returns the messages of one session when sessionId is given,
// otherwise the caller's sessions.
func (h *ChatHandler) GetChat(c *fiber.Ctx) error {
	userID := auth.UserID(c)

	if sessionID := strings.TrimSpace(c.Query("sessionId")); sessionID != "" {
		messages, err := h.assembler.History(c.UserContext(), userID, sessionID)
		if err != nil {
			logger.Error("Failed to load chat history", zap.String("session_id", sessionID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load chat history",
			})
		}
		return c.JSON(fiber.Map{
			"messages": messages,
		})
	}

	sessions, err := h.assembler.Sessions(c.UserContext(), userID)
	if err != nil {
		logger.Error("Failed to list chat sessions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load chat sessions",
		})
	}

	return c.JSON(fiber.Map{
		"sessions": sessions,
	})
}

// DeleteSession soft deletes one session. Owners and chairpersons may delete.
func (h *ChatHandler) DeleteSession(c *fiber.Ctx) error {
	sessionID := strings.TrimSpace(c.Params("id"))

	err := h.assembler.DeleteSession(c.UserContext(), auth.UserID(c), auth.Role(c), sessionID)
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Chat session not found"})
	case errors.Is(err, chat.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case err != nil:
		logger.Error("Failed to delete chat session", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete chat session",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}

// ClearSessions soft deletes every session of the caller.
func (h *ChatHandler) ClearSessions(c *fiber.Ctx) error {
	n, err := h.assembler.ClearSessions(c.UserContext(), auth.UserID(c))
	if err != nil {
		logger.Error("Failed to clear chat sessions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to clear chat sessions",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"cleared": n,
	})
}

func chatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Message is required"})
	case errors.Is(err, chat.ErrMessageTooLong):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Message exceeds maximum length"})
	case errors.Is(err, chat.ErrGenerationFailed):
		logger.Error("Failed to generate answer", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to generate answer"})
	default:
		logger.Error("Failed to process message", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process message"})
	}
}

type firstWriteSignal struct {
	w       io.Writer
	started chan struct{}
	once    sync.Once
}

func (s *firstWriteSignal) Write(p []byte) (int, error) {
	s.once.Do(func() { close(s.started) })
	return s.w.Write(p)
}
