package repository

import (
	"ChatRelay/entity"
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertChatMessage appends msg to its session and refreshes the session's
// last_message_at in the same transaction. ID and CreatedAt are filled in.
func (s *SQLDB) InsertChatMessage(ctx context.Context, msg *entity.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ContentType == "" {
		msg.ContentType = entity.ContentText
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE chat_sessions SET last_message_at = ?, updated_at = ? WHERE id = ?",
		msg.CreatedAt, msg.CreatedAt, msg.SessionID)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", msg.SessionID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("touch session %s: %w", msg.SessionID, err)
	} else if n == 0 {
		return ErrNotFound
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, direction, sender_type, content, content_type,
			media_url, tool_calls, usage_meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID,
		msg.Direction,
		msg.SenderType,
		msg.Content,
		msg.ContentType,
		nullString(msg.MediaURL),
		nullJSON(msg.ToolCalls),
		nullJSON(msg.Usage),
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert message id: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit insert message: %w", err)
	}
	return nil
}

// GetChatMessages returns up to limit most recent messages of a session,
// oldest first.
func (s *SQLDB) GetChatMessages(ctx context.Context, sessionID string, limit int) ([]entity.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, direction, sender_type, content, content_type,
			media_url, tool_calls, usage_meta, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []entity.ChatMessage
	for rows.Next() {
		var (
			msg                        entity.ChatMessage
			mediaURL, toolCalls, usage sql.NullString
		)
		err = rows.Scan(&msg.ID, &msg.SessionID, &msg.Direction, &msg.SenderType, &msg.Content,
			&msg.ContentType, &mediaURL, &toolCalls, &usage, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.MediaURL = mediaURL.String
		msg.ToolCalls = rawJSON(toolCalls)
		msg.Usage = rawJSON(usage)
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
