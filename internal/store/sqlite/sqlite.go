// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package sqlite implements store.Store on SQLite. One database file holds
// sessions, their messages, and the guardrail audit trail.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/store"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure, "opening sqlite db")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure, "migrating sqlite db")
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	goal          TEXT NOT NULL,
	iterations    INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'running',
	status_reason TEXT NOT NULL DEFAULT '',
	output        TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	tool_calls   TEXT NOT NULL DEFAULT '[]',
	tool_call_id TEXT NOT NULL DEFAULT '',
	tool_name    TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	stage      TEXT NOT NULL,
	check_name TEXT NOT NULL,
	decision   TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	tool       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id, created_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession upserts the session row and inserts history messages not yet
// persisted. Existing message rows are never rewritten.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return basterr.New(basterr.CodeStoreInvalidInput, "session id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return basterr.Wrap(err, basterr.CodeStoreDatabaseFailure, "beginning transaction")
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO sessions (id, goal, iterations, status, status_reason, output, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	iterations = excluded.iterations,
	status = excluded.status,
	status_reason = excluded.status_reason,
	output = excluded.output,
	updated_at = excluded.updated_at`

	_, err = tx.ExecContext(ctx, upsert,
		sess.ID, sess.Goal, sess.Iterations, string(sess.Status), sess.StatusReason,
		sess.Output, formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
	if err != nil {
		return basterr.Wrap(err, basterr.CodeStoreDatabaseFailure,
			"upserting session", basterr.FieldSessionID(sess.ID))
	}

	const insert = `INSERT OR IGNORE INTO messages
(id, session_id, seq, role, content, tool_calls, tool_call_id, tool_name, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for i, msg := range sess.History {
		toolCalls, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return basterr.Wrap(err, basterr.CodeStoreInvalidInput, "marshalling tool calls")
		}
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return basterr.Wrap(err, basterr.CodeStoreInvalidInput, "marshalling metadata")
		}

		_, err = tx.ExecContext(ctx, insert,
			msg.ID, sess.ID, i, string(msg.Role), msg.Content,
			string(toolCalls), msg.ToolCallID, msg.ToolName,
			string(metadata), formatTime(msg.CreatedAt))
		if err != nil {
			return basterr.Wrap(err, basterr.CodeStoreDatabaseFailure,
				"inserting message", basterr.FieldSessionID(sess.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return basterr.Wrap(err, basterr.CodeStoreDatabaseFailure, "committing transaction")
	}
	return nil
}

// GetSession loads a session and its history in append order.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	const q = `SELECT id, goal, iterations, status, status_reason, output, created_at, updated_at
FROM sessions WHERE id = ?`

	var sess session.Session
	var status, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&sess.ID, &sess.Goal, &sess.Iterations, &status, &sess.StatusReason,
		&sess.Output, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, basterr.New(basterr.CodeStoreNotFound,
			"session not found", basterr.FieldSessionID(id))
	}
	if err != nil {
		return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure,
			"getting session", basterr.FieldSessionID(id))
	}
	sess.Status = session.Status(status)
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)

	history, err := s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.History = history
	return &sess, nil
}

func (s *Store) loadMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	const q = `SELECT id, role, content, tool_calls, tool_call_id, tool_name, metadata, created_at
FROM messages WHERE session_id = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure,
			"loading messages", basterr.FieldSessionID(sessionID))
	}
	defer rows.Close()

	var msgs []session.Message
	for rows.Next() {
		var msg session.Message
		var role, toolCalls, metadata, createdAt string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &toolCalls,
			&msg.ToolCallID, &msg.ToolName, &metadata, &createdAt); err != nil {
			return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure, "scanning message row")
		}
		msg.Role = session.Role(role)
		msg.CreatedAt = parseTime(createdAt)
		if toolCalls != "" && toolCalls != "[]" {
			if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
				return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure, "unmarshalling tool calls")
			}
		}
		if metadata != "" && metadata != "{}" && metadata != "null" {
			if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
				return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure, "unmarshalling metadata")
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ListSessions returns sessions newest first, without history.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 100
	}

	const q = `SELECT id, goal, iterations, status, status_reason, output, created_at, updated_at
FROM sessions ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure, "listing sessions")
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		var sess session.Session
		var status, createdAt, updatedAt string
		if err := rows.Scan(&sess.ID, &sess.Goal, &sess.Iterations, &status,
			&sess.StatusReason, &sess.Output, &createdAt, &updatedAt); err != nil {
			return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure, "scanning session row")
		}
		sess.Status = session.Status(status)
		sess.CreatedAt = parseTime(createdAt)
		sess.UpdatedAt = parseTime(updatedAt)
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// AppendAudit records one guardrail verdict.
func (s *Store) AppendAudit(ctx context.Context, ev store.AuditEvent) error {
	if ev.SessionID == "" {
		return basterr.New(basterr.CodeStoreInvalidInput, "audit event missing session id")
	}

	const q = `INSERT INTO audit_events (id, session_id, stage, check_name, decision, reason, tool, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		ev.ID, ev.SessionID, ev.Stage, ev.Check, ev.Decision, ev.Reason, ev.Tool,
		formatTime(ev.CreatedAt))
	if err != nil {
		return basterr.Wrap(err, basterr.CodeStoreDatabaseFailure,
			"inserting audit event", basterr.FieldSessionID(ev.SessionID))
	}
	return nil
}

// ListAudit returns a session's audit events in append order.
func (s *Store) ListAudit(ctx context.Context, sessionID string) ([]store.AuditEvent, error) {
	const q = `SELECT id, session_id, stage, check_name, decision, reason, tool, created_at
FROM audit_events WHERE session_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure,
			"listing audit events", basterr.FieldSessionID(sessionID))
	}
	defer rows.Close()

	var events []store.AuditEvent
	for rows.Next() {
		var ev store.AuditEvent
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Stage, &ev.Check,
			&ev.Decision, &ev.Reason, &ev.Tool, &createdAt); err != nil {
			return nil, basterr.Wrap(err, basterr.CodeStoreDatabaseFailure, "scanning audit row")
		}
		ev.CreatedAt = parseTime(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// formatTime serialises a time.Time for storage.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
