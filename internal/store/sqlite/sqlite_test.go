// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/store"
	"github.com/bastion-agent/bastion/internal/store/sqlite"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "bastion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	s := session.New("research NVDA")
	require.NoError(t, s.Append(session.Message{
		ID:   "m-1",
		Role: session.RoleAssistant,
		ToolCalls: []session.ToolCallRequest{
			{ID: "call-1", Name: "get_market_data", Arguments: map[string]any{"ticker": "NVDA"}},
		},
		CreatedAt: time.Now(),
	}))
	require.NoError(t, s.Append(session.Message{
		ID: "m-2", Role: session.RoleToolResult, Content: "NVDA down 15%",
		ToolCallID: "call-1", ToolName: "get_market_data",
		Metadata: map[string]string{"released": "true"}, CreatedAt: time.Now(),
	}))
	require.NoError(t, st.SaveSession(ctx, s))

	got, err := st.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "research NVDA", got.Goal)
	assert.Equal(t, session.StatusRunning, got.Status)
	require.Len(t, got.History, 3)

	assistant := got.History[1]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "get_market_data", assistant.ToolCalls[0].Name)
	assert.Equal(t, "NVDA", assistant.ToolCalls[0].Arguments["ticker"])

	result := got.History[2]
	assert.Equal(t, "call-1", result.ToolCallID)
	assert.Equal(t, map[string]string{"released": "true"}, result.Metadata)
}

func TestSaveIsIdempotentForMessages(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	s := session.New("goal")
	require.NoError(t, st.SaveSession(ctx, s))

	// Terminate and save again: session row updates, message rows stay.
	require.NoError(t, s.Terminate(session.StatusCompleted, ""))
	s.Output = "done"
	require.NoError(t, st.SaveSession(ctx, s))

	got, err := st.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
	assert.Equal(t, "done", got.Output)
	assert.Len(t, got.History, 1)
}

func TestGetMissingSession(t *testing.T) {
	st := newStore(t)
	_, err := st.GetSession(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeStoreNotFound))
}

func TestListSessions(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	a := session.New("first")
	a.CreatedAt = time.Now().Add(-time.Hour)
	b := session.New("second")
	require.NoError(t, st.SaveSession(ctx, a))
	require.NoError(t, st.SaveSession(ctx, b))

	list, err := st.ListSessions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Goal)
	assert.Empty(t, list[0].History)
}

func TestAuditRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, st.AppendAudit(ctx, store.AuditEvent{
		ID: "ev-1", SessionID: "s-1", Stage: "pre_action", Check: "rumor_corroboration",
		Decision: "block", Reason: "no 10-K corroboration for rumor",
		Tool: "execute_trade", CreatedAt: base,
	}))
	require.NoError(t, st.AppendAudit(ctx, store.AuditEvent{
		ID: "ev-2", SessionID: "s-1", Stage: "output", Check: "secrets",
		Decision: "modify", Reason: "redacted aws_access_key", CreatedAt: base.Add(time.Second),
	}))

	events, err := st.ListAudit(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].ID)
	assert.Equal(t, "execute_trade", events[0].Tool)
	assert.Equal(t, "modify", events[1].Decision)

	none, err := st.ListAudit(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}
