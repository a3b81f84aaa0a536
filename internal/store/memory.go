// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/bastion-agent/bastion/internal/session"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	audit    map[string][]AuditEvent
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session.Session),
		audit:    make(map[string][]AuditEvent),
	}
}

func (m *MemoryStore) SaveSession(_ context.Context, s *session.Session) error {
	if s == nil || s.ID == "" {
		return basterr.New(basterr.CodeStoreInvalidInput, "session id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, basterr.New(basterr.CodeStoreNotFound,
			"session not found", basterr.FieldSessionID(id))
	}
	return copySession(s), nil
}

func (m *MemoryStore) ListSessions(_ context.Context, limit, offset int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]*session.Session, 0, len(all))
	for _, s := range all {
		c := copySession(s)
		c.History = nil
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, ev AuditEvent) error {
	if ev.SessionID == "" {
		return basterr.New(basterr.CodeStoreInvalidInput, "audit event missing session id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit[ev.SessionID] = append(m.audit[ev.SessionID], ev)
	return nil
}

func (m *MemoryStore) ListAudit(_ context.Context, sessionID string) ([]AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.audit[sessionID]
	out := make([]AuditEvent, len(events))
	copy(out, events)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func copySession(s *session.Session) *session.Session {
	c := *s
	c.History = make([]session.Message, len(s.History))
	copy(c.History, s.History)
	return &c
}
