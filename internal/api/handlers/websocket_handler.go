package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/chat"
	"github.com/rc-assistant/backend/internal/middleware/auth"
	"github.com/rc-assistant/backend/pkg/logger"
)

type WebSocketHandler struct {
	assembler *chat.Assembler
}

func NewWebSocketHandler(assembler *chat.Assembler) *WebSocketHandler {
	return &WebSocketHandler{
		assembler: assembler,
	}
}

type wsInbound struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	userID, _ := c.Locals(auth.LocalUserID).(string)
	role, _ := c.Locals(auth.LocalRole).(string)

	logger.Info("WebSocket connection established", zap.String("user_id", userID))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("user_id", userID))
	}()

	for {
		var msg wsInbound
		err := c.ReadJSON(&msg)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "chat" {
			continue
		}

		in := chat.Inbound{
			UserID:    userID,
			Role:      role,
			Message:   msg.Message,
			SessionID: msg.SessionID,
		}

		err = h.assembler.StreamTo(context.Background(), in, &wsSink{conn: c})
		if err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			if !h.sendError(c, wsErrorMessage(err)) {
				break
			}
		}
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) bool {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	return c.WriteJSON(msg) == nil
}

func wsErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return "Message is required"
	case errors.Is(err, chat.ErrMessageTooLong):
		return "Message exceeds maximum length"
	case errors.Is(err, chat.ErrStreamAborted):
		return "Answer interrupted"
	default:
		return "Failed to generate answer"
	}
}

// wsSink frames a streamed answer as chunk messages followed by one complete
// message carrying the metadata.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Chunk(text string) error {
	return s.conn.WriteJSON(map[string]interface{}{
		"type":    "chunk",
		"content": text,
	})
}

func (s *wsSink) Complete(meta chat.Metadata) error {
	return s.conn.WriteJSON(map[string]interface{}{
		"type":        "complete",
		"sessionId":   meta.SessionID,
		"sources":     meta.Sources,
		"suggestions": meta.Suggestions,
		"logs":        meta.Logs,
	})
}
