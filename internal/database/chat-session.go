package repository

import (
	"ChatRelay/entity"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sessionColumns = `s.id, s.external_session_id, s.channel, s.sender_id, s.sender_name, s.context,
	s.customer_id, s.status, s.assigned_to, s.last_message_at, s.created_at, s.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// UpsertChatSession creates the session for an unseen external id or refreshes
// the stored one, returning the durable id either way.
func (s *SQLDB) UpsertChatSession(ctx context.Context, in entity.SessionUpsert) (string, error) {
	now := time.Now().UTC()
	channel := in.Channel
	if channel == "" {
		channel = entity.ChannelUnknown
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin upsert session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.dialect.upsertSession,
		uuid.NewString(),
		in.ExternalID,
		string(channel),
		in.SenderID,
		nullString(in.SenderName),
		nullJSON(in.Context),
		nullString(in.CustomerID),
		string(entity.StatusActive),
		now, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("upsert session %s: %w", in.ExternalID, err)
	}

	var id string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM chat_sessions WHERE external_session_id = ?", in.ExternalID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("read session id %s: %w", in.ExternalID, err)
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit upsert session: %w", err)
	}
	return id, nil
}

func (s *SQLDB) GetChatSession(ctx context.Context, id string) (*entity.ChatSession, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM chat_sessions s WHERE s.id = ?", id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return session, nil
}

func (s *SQLDB) GetChatSessionByExternalID(ctx context.Context, externalID string) (*entity.ChatSession, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM chat_sessions s WHERE s.external_session_id = ?", externalID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session by external id %s: %w", externalID, err)
	}
	return session, nil
}

// ListChatSessions returns sessions ordered by latest activity with a message preview.
func (s *SQLDB) ListChatSessions(ctx context.Context, filter entity.SessionFilter) ([]entity.ChatSessionPreview, error) {
	var where []string
	var args []interface{}
	if filter.Status != "" {
		where = append(where, "s.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Channel != "" {
		where = append(where, "s.channel = ?")
		args = append(args, string(filter.Channel))
	}

	query := "SELECT " + sessionColumns + `,
		(SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = s.id),
		COALESCE((SELECT m.content FROM chat_messages m WHERE m.session_id = s.id
			ORDER BY m.created_at DESC, m.id DESC LIMIT 1), '')
		FROM chat_sessions s`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.last_message_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var previews []entity.ChatSessionPreview
	for rows.Next() {
		var p entity.ChatSessionPreview
		session, err := scanSession(rows, &p.MessageCount, &p.LastMessage)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		p.ChatSession = *session
		previews = append(previews, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return previews, nil
}

// UpdateChatSessionStatus sets status and, when assignedTo is non-nil, the assignee.
// An empty assignee clears the assignment.
func (s *SQLDB) UpdateChatSessionStatus(ctx context.Context, id string, status entity.SessionStatus, assignedTo *string) error {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	if assignedTo != nil {
		res, err = s.db.ExecContext(ctx,
			"UPDATE chat_sessions SET status = ?, assigned_to = ?, updated_at = ? WHERE id = ?",
			string(status), nullString(*assignedTo), now, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE chat_sessions SET status = ?, updated_at = ? WHERE id = ?",
			string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("update session %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s status: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DashboardStats aggregates session and message counts; since bounds the recent windows.
func (s *SQLDB) DashboardStats(ctx context.Context, since time.Time) (*entity.DashboardStats, error) {
	stats := &entity.DashboardStats{
		ByStatus:  make(map[string]int),
		ByChannel: make(map[string]int),
	}

	if err := s.countGrouped(ctx, "SELECT status, COUNT(*) FROM chat_sessions GROUP BY status", stats.ByStatus); err != nil {
		return nil, err
	}
	if err := s.countGrouped(ctx, "SELECT channel, COUNT(*) FROM chat_sessions GROUP BY channel", stats.ByChannel); err != nil {
		return nil, err
	}
	for _, n := range stats.ByStatus {
		stats.TotalSessions += n
	}

	since = since.UTC()
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chat_sessions WHERE last_message_at >= ?", since,
	).Scan(&stats.ActiveLast24h)
	if err != nil {
		return nil, fmt.Errorf("count recent sessions: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chat_messages WHERE created_at >= ?", since,
	).Scan(&stats.MessagesLast24h)
	if err != nil {
		return nil, fmt.Errorf("count recent messages: %w", err)
	}
	return stats, nil
}

func (s *SQLDB) countGrouped(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("dashboard query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err = rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("dashboard scan: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}

func scanSession(row rowScanner, extra ...interface{}) (*entity.ChatSession, error) {
	var (
		session                                     entity.ChatSession
		channel, status                             string
		senderName, ctxBlob, customerID, assignedTo sql.NullString
	)
	dest := []interface{}{
		&session.ID, &session.ExternalID, &channel, &session.SenderID, &senderName, &ctxBlob,
		&customerID, &status, &assignedTo, &session.LastMessageAt, &session.CreatedAt, &session.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	session.Channel = entity.Channel(channel)
	session.Status = entity.SessionStatus(status)
	session.SenderName = senderName.String
	session.Context = rawJSON(ctxBlob)
	session.CustomerID = customerID.String
	session.AssignedTo = assignedTo.String
	return &session, nil
}
