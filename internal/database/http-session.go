package repository

import (
	"ChatRelay/entity"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const defaultSessionTable = "http_sessions"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// SetSessionTable points session lookups at a table owned by the web
// application. The table must have sid, sess and expire columns.
func (s *SQLDB) SetSessionTable(table string) error {
	if table == "" {
		table = defaultSessionTable
	}
	if !tableName.MatchString(table) {
		return fmt.Errorf("invalid session table name %q", table)
	}
	s.sessionTable = table
	return nil
}

// LookupSession reads a stored HTTP session row. Expiry is left to the caller.
func (s *SQLDB) LookupSession(ctx context.Context, sid string) (*entity.HttpSession, error) {
	var (
		sess   string
		expire time.Time
	)
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT sess, expire FROM %s WHERE sid = ?", s.sessionTable), sid,
	).Scan(&sess, &expire)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup http session: %w", err)
	}
	return &entity.HttpSession{
		SID:     sid,
		Data:    []byte(sess),
		Expires: expire,
	}, nil
}

// SaveSession writes or replaces an HTTP session row.
func (s *SQLDB) SaveSession(ctx context.Context, session entity.HttpSession) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE sid = ?", s.sessionTable), session.SID)
	if err != nil {
		return fmt.Errorf("save http session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (sid, sess, expire) VALUES (?, ?, ?)", s.sessionTable),
		session.SID, string(session.Data), session.Expires.UTC())
	if err != nil {
		return fmt.Errorf("save http session: %w", err)
	}
	return nil
}
