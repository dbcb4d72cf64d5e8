package repository

import (
	"context"
	"fmt"
	"log/slog"
)

type migration struct {
	Version     int
	Description string
	Statements  []string
}

type dialect struct {
	driver        string
	upsertSession string
	recordVersion string
	migrations    []migration
}

var dialects = map[string]*dialect{
	"sqlite": {
		driver: "sqlite",
		upsertSession: `
		INSERT INTO chat_sessions (id, external_session_id, channel, sender_id, sender_name, context,
			customer_id, status, last_message_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_session_id) DO UPDATE SET
			channel = CASE WHEN chat_sessions.channel = 'unknown' THEN excluded.channel ELSE chat_sessions.channel END,
			sender_id = CASE WHEN excluded.sender_id <> '' THEN excluded.sender_id ELSE chat_sessions.sender_id END,
			sender_name = COALESCE(excluded.sender_name, chat_sessions.sender_name),
			customer_id = COALESCE(excluded.customer_id, chat_sessions.customer_id),
			context = COALESCE(excluded.context, chat_sessions.context),
			last_message_at = excluded.last_message_at,
			updated_at = excluded.updated_at`,
		recordVersion: "INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		migrations: []migration{
			{
				Version:     1,
				Description: "chat sessions, chat messages, customers",
				Statements: []string{
					`CREATE TABLE IF NOT EXISTS chat_sessions (
						id                  TEXT PRIMARY KEY,
						external_session_id TEXT NOT NULL UNIQUE,
						channel             TEXT NOT NULL DEFAULT 'unknown',
						sender_id           TEXT NOT NULL DEFAULT '',
						sender_name         TEXT,
						context             TEXT,
						customer_id         TEXT,
						status              TEXT NOT NULL DEFAULT 'active',
						assigned_to         TEXT,
						last_message_at     DATETIME NOT NULL,
						created_at          DATETIME NOT NULL,
						updated_at          DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_chat_sessions_last ON chat_sessions(last_message_at)`,
					`CREATE TABLE IF NOT EXISTS chat_messages (
						id           INTEGER PRIMARY KEY AUTOINCREMENT,
						session_id   TEXT NOT NULL REFERENCES chat_sessions(id),
						direction    TEXT NOT NULL,
						sender_type  TEXT NOT NULL,
						content      TEXT NOT NULL DEFAULT '',
						content_type TEXT NOT NULL DEFAULT 'text',
						media_url    TEXT,
						tool_calls   TEXT,
						usage_meta   TEXT,
						created_at   DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at)`,
					`CREATE TABLE IF NOT EXISTS customers (
						id     INTEGER PRIMARY KEY AUTOINCREMENT,
						name   TEXT NOT NULL DEFAULT '',
						phone  TEXT,
						mobile TEXT
					)`,
				},
			},
			{
				Version:     2,
				Description: "http sessions",
				Statements: []string{
					`CREATE TABLE IF NOT EXISTS http_sessions (
						sid    TEXT PRIMARY KEY,
						sess   TEXT NOT NULL,
						expire DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_http_sessions_expire ON http_sessions(expire)`,
				},
			},
		},
	},
	"mysql": {
		driver: "mysql",
		upsertSession: `
		INSERT INTO chat_sessions (id, external_session_id, channel, sender_id, sender_name, context,
			customer_id, status, last_message_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			channel = IF(channel = 'unknown', VALUES(channel), channel),
			sender_id = IF(VALUES(sender_id) <> '', VALUES(sender_id), sender_id),
			sender_name = COALESCE(VALUES(sender_name), sender_name),
			customer_id = COALESCE(VALUES(customer_id), customer_id),
			context = COALESCE(VALUES(context), context),
			last_message_at = VALUES(last_message_at),
			updated_at = VALUES(updated_at)`,
		recordVersion: "REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		migrations: []migration{
			{
				Version:     1,
				Description: "chat sessions, chat messages, customers",
				Statements: []string{
					`CREATE TABLE IF NOT EXISTS chat_sessions (
						id                  CHAR(36) PRIMARY KEY,
						external_session_id VARCHAR(191) NOT NULL,
						channel             VARCHAR(32) NOT NULL DEFAULT 'unknown',
						sender_id           VARCHAR(191) NOT NULL DEFAULT '',
						sender_name         VARCHAR(255),
						context             JSON,
						customer_id         VARCHAR(64),
						status              VARCHAR(16) NOT NULL DEFAULT 'active',
						assigned_to         VARCHAR(191),
						last_message_at     DATETIME(6) NOT NULL,
						created_at          DATETIME(6) NOT NULL,
						updated_at          DATETIME(6) NOT NULL,
						UNIQUE KEY uq_chat_sessions_external (external_session_id),
						KEY idx_chat_sessions_last (last_message_at)
					) DEFAULT CHARSET=utf8mb4`,
					`CREATE TABLE IF NOT EXISTS chat_messages (
						id           BIGINT AUTO_INCREMENT PRIMARY KEY,
						session_id   CHAR(36) NOT NULL,
						direction    VARCHAR(16) NOT NULL,
						sender_type  VARCHAR(16) NOT NULL,
						content      MEDIUMTEXT NOT NULL,
						content_type VARCHAR(32) NOT NULL DEFAULT 'text',
						media_url    TEXT,
						tool_calls   JSON,
						usage_meta   JSON,
						created_at   DATETIME(6) NOT NULL,
						KEY idx_chat_messages_session (session_id, created_at),
						CONSTRAINT fk_chat_messages_session FOREIGN KEY (session_id) REFERENCES chat_sessions(id)
					) DEFAULT CHARSET=utf8mb4`,
					`CREATE TABLE IF NOT EXISTS customers (
						id     BIGINT AUTO_INCREMENT PRIMARY KEY,
						name   VARCHAR(255) NOT NULL DEFAULT '',
						phone  VARCHAR(64),
						mobile VARCHAR(64)
					) DEFAULT CHARSET=utf8mb4`,
				},
			},
			{
				Version:     2,
				Description: "http sessions",
				Statements: []string{
					`CREATE TABLE IF NOT EXISTS http_sessions (
						sid    VARCHAR(191) PRIMARY KEY,
						sess   JSON NOT NULL,
						expire DATETIME(6) NOT NULL,
						KEY idx_http_sessions_expire (expire)
					) DEFAULT CHARSET=utf8mb4`,
				},
			},
		},
	},
}

// migrate applies every migration newer than the recorded schema version.
// Each migration is applied exactly once, tracked in schema_version.
func (s *SQLDB) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description VARCHAR(255)
		)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range s.dialect.migrations {
		if m.Version <= current {
			continue
		}
		s.log.Info("applying migration",
			slog.Int("version", m.Version),
			slog.String("description", m.Description),
		)
		for _, stmt := range m.Statements {
			if _, err = s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration v%d: %w", m.Version, err)
			}
		}
		if _, err = s.db.ExecContext(ctx, s.dialect.recordVersion, m.Version, m.Description); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLDB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
