// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package store persists session transcripts and guardrail audit events.
package store

import (
	"context"
	"time"

	"github.com/bastion-agent/bastion/internal/session"
)

// AuditEvent records one guardrail verdict. Every checkpoint evaluation
// that blocks or modifies produces one, so a transcript can be replayed
// against its policy decisions.
type AuditEvent struct {
	ID        string
	SessionID string
	Stage     string
	Check     string
	Decision  string
	Reason    string
	Tool      string
	CreatedAt time.Time
}

// Store persists sessions and their audit trail.
type Store interface {
	// SaveSession upserts the session row and appends any history messages
	// not yet persisted. Message rows are immutable once written.
	SaveSession(ctx context.Context, s *session.Session) error

	// GetSession loads a session with its full history in append order.
	GetSession(ctx context.Context, id string) (*session.Session, error)

	// ListSessions returns sessions ordered newest first, without history.
	ListSessions(ctx context.Context, limit, offset int) ([]*session.Session, error)

	// AppendAudit records one guardrail verdict.
	AppendAudit(ctx context.Context, ev AuditEvent) error

	// ListAudit returns a session's audit events in append order.
	ListAudit(ctx context.Context, sessionID string) ([]AuditEvent, error)

	Close() error
}
