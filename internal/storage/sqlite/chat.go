package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/storage/models"
	"github.com/rc-assistant/backend/pkg/logger"
)

// GetSession returns nil, nil when no live session has the given id; soft
// deleted sessions are treated as absent.
func (c *Client) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	query := `SELECT id, user_id, title, created_at, updated_at FROM chat_sessions WHERE id = ? AND deleted_at IS NULL`

	var s models.ChatSession
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.UserID, &s.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.CreatedAt = time.UnixMilli(createdAt)
	s.UpdatedAt = time.UnixMilli(updatedAt)

	return &s, nil
}

func (c *Client) CreateSession(ctx context.Context, session *models.ChatSession) error {
	query := `INSERT INTO chat_sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Title,
		session.CreatedAt.UnixMilli(),
		session.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// DeleteSession soft deletes one session. Its messages stay in place but the
// session no longer appears in listings or lookups. It returns false when no
// live session has the id.
func (c *Client) DeleteSession(ctx context.Context, id, deletedBy string, at time.Time) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE chat_sessions SET deleted_at = ?, deleted_by = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UnixMilli(), deletedBy, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return n > 0, nil
}

// ClearSessions soft deletes every live session owned by userID and reports
// how many were affected.
func (c *Client) ClearSessions(ctx context.Context, userID, deletedBy string, at time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE chat_sessions SET deleted_at = ?, deleted_by = ? WHERE user_id = ? AND deleted_at IS NULL`,
		at.UnixMilli(), deletedBy, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clear sessions: %w", err)
	}

	logger.Info("Chat sessions cleared", zap.String("user_id", userID), zap.Int64("count", n))
	return n, nil
}

// AppendMessage stores the message and bumps the session's updated_at in one
// transaction.
func (c *Client) AppendMessage(ctx context.Context, message *models.Message) error {
	sourcesJSON, err := json.Marshal(message.Sources)
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, user_id, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.ID,
		message.SessionID,
		message.UserID,
		message.Role,
		message.Content,
		string(sourcesJSON),
		message.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		message.CreatedAt.UnixMilli(),
		message.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	logger.Debug("Message stored",
		zap.String("message_id", message.ID),
		zap.String("session_id", message.SessionID),
		zap.String("role", message.Role),
	)
	return nil
}

// ListMessages returns the messages of one live session that belong to
// userID, oldest first.
func (c *Client) ListMessages(ctx context.Context, sessionID, userID string) ([]*models.Message, error) {
	query := `
		SELECT m.id, m.session_id, m.user_id, m.role, m.content, m.sources, m.created_at
		FROM messages m
		JOIN chat_sessions s ON s.id = m.session_id
		WHERE m.session_id = ? AND m.user_id = ? AND s.deleted_at IS NULL
		ORDER BY m.created_at ASC, m.rowid ASC
	`

	rows, err := c.db.QueryContext(ctx, query, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var m models.Message
		var sourcesJSON sql.NullString
		var createdAt int64

		err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &sourcesJSON, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		m.Sources = decodeSources(sourcesJSON)
		m.CreatedAt = time.UnixMilli(createdAt)
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return messages, nil
}

// ListSessions returns the user's sessions, most recently updated first, each
// carrying its latest message as a preview.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]*models.ChatSession, error) {
	query := `
		SELECT s.id, s.user_id, s.title, s.created_at, s.updated_at,
			m.id, m.role, m.content, m.created_at
		FROM chat_sessions s
		LEFT JOIN messages m ON m.id = (
			SELECT id FROM messages
			WHERE session_id = s.id
			ORDER BY created_at DESC, rowid DESC
			LIMIT 1
		)
		WHERE s.user_id = ? AND s.deleted_at IS NULL
		ORDER BY s.updated_at DESC
	`

	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.ChatSession
	for rows.Next() {
		var s models.ChatSession
		var createdAt, updatedAt int64
		var msgID, msgRole, msgContent sql.NullString
		var msgCreatedAt sql.NullInt64

		err := rows.Scan(&s.ID, &s.UserID, &s.Title, &createdAt, &updatedAt,
			&msgID, &msgRole, &msgContent, &msgCreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		s.CreatedAt = time.UnixMilli(createdAt)
		s.UpdatedAt = time.UnixMilli(updatedAt)
		s.Messages = []*models.Message{}
		if msgID.Valid {
			s.Messages = append(s.Messages, &models.Message{
				ID:        msgID.String,
				SessionID: s.ID,
				UserID:    s.UserID,
				Role:      msgRole.String,
				Content:   msgContent.String,
				CreatedAt: time.UnixMilli(msgCreatedAt.Int64),
			})
		}

		sessions = append(sessions, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	return sessions, nil
}

func decodeSources(raw sql.NullString) []models.Source {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}

	var sources []models.Source
	if err := json.Unmarshal([]byte(raw.String), &sources); err != nil {
		logger.Warn("Ignoring malformed message sources", zap.Error(err))
		return nil
	}
	return sources
}
