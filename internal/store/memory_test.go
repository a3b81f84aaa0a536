// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/store"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

func TestMemorySaveAndGet(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()

	s := session.New("research NVDA")
	require.NoError(t, m.SaveSession(ctx, s))

	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Goal, got.Goal)
	require.Len(t, got.History, 1)

	// The stored copy is isolated from the live session.
	got.History[0].Content = "tampered"
	again, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "research NVDA", again.History[0].Content)
}

func TestMemoryGetMissing(t *testing.T) {
	m := store.NewMemoryStore()
	_, err := m.GetSession(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeStoreNotFound))
}

func TestMemoryListNewestFirst(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()

	older := session.New("first")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := session.New("second")
	require.NoError(t, m.SaveSession(ctx, older))
	require.NoError(t, m.SaveSession(ctx, newer))

	list, err := m.ListSessions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Goal)
	assert.Nil(t, list[0].History, "list omits history")

	page, err := m.ListSessions(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "first", page[0].Goal)
}

func TestMemoryAudit(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.AppendAudit(ctx, store.AuditEvent{
		ID: "ev-1", SessionID: "s-1", Stage: "pre_action",
		Check: "rumor_corroboration", Decision: "block", Reason: "no 10-K corroboration for rumor",
		Tool: "execute_trade", CreatedAt: time.Now(),
	}))
	require.NoError(t, m.AppendAudit(ctx, store.AuditEvent{
		ID: "ev-2", SessionID: "s-1", Stage: "output",
		Check: "secrets", Decision: "modify", Reason: "redacted aws_access_key",
	}))

	events, err := m.ListAudit(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].ID)
	assert.Equal(t, "block", events[0].Decision)

	err = m.AppendAudit(ctx, store.AuditEvent{ID: "ev-3"})
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeStoreInvalidInput))
}
