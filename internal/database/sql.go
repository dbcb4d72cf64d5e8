package repository

import (
	"ChatRelay/internal/lib/sl"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("record not found")

// SQLDB is the relational store for chat sessions, chat messages, customers
// and HTTP sessions. Query text is shared between dialects except for upserts.
type SQLDB struct {
	db           *sql.DB
	dialect      *dialect
	sessionTable string
	log          *slog.Logger
}

// NewSQLClient opens the database and applies pending migrations.
func NewSQLClient(driver, dsn string, logger *slog.Logger) (*SQLDB, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	if driver == "sqlite" {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	if driver == "mysql" {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		// DATETIME columns scan into time.Time and are stored as UTC
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		dsn = cfg.FormatDSN()
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &SQLDB{
		db:           db,
		dialect:      d,
		sessionTable: defaultSessionTable,
		log:          logger.With(sl.Module("sqldb"), slog.String("driver", driver)),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err = s.db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err = s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database migration: %w", err)
	}

	return s, nil
}

func (s *SQLDB) Close() error {
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullJSON(v []byte) sql.NullString {
	return sql.NullString{String: string(v), Valid: len(v) > 0 && string(v) != "null"}
}

func rawJSON(v sql.NullString) []byte {
	if !v.Valid || v.String == "" {
		return nil
	}
	return []byte(v.String)
}
