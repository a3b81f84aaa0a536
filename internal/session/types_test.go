// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastion-agent/bastion/internal/session"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

func TestNewSeedsUserMessage(t *testing.T) {
	s := session.New("research NVDA")

	assert.Equal(t, session.StatusRunning, s.Status)
	require.Len(t, s.History, 1)
	assert.Equal(t, session.RoleUser, s.History[0].Role)
	assert.Equal(t, "research NVDA", s.History[0].Content)
	assert.NotEmpty(t, s.ID)
}

func TestAppendToolResultPairing(t *testing.T) {
	s := session.New("goal")

	require.NoError(t, s.Append(session.Message{
		ID:   "m-1",
		Role: session.RoleAssistant,
		ToolCalls: []session.ToolCallRequest{
			{ID: "call-1", Name: "query_report", Arguments: map[string]any{"query": "recall"}},
		},
	}))

	// Result answering the pending call is accepted.
	require.NoError(t, s.Append(session.Message{
		ID:         "m-2",
		Role:       session.RoleToolResult,
		Content:    "found section",
		ToolCallID: "call-1",
		ToolName:   "query_report",
	}))

	// Second answer for the same call is a duplicate.
	err := s.Append(session.Message{
		ID:         "m-3",
		Role:       session.RoleToolResult,
		Content:    "again",
		ToolCallID: "call-1",
	})
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeSessionHistoryOrder))

	// A result for a call nobody made is an orphan.
	err = s.Append(session.Message{
		ID:         "m-4",
		Role:       session.RoleToolResult,
		Content:    "orphan",
		ToolCallID: "call-missing",
	})
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeSessionHistoryOrder))
}

func TestAppendRejectsInvalidRole(t *testing.T) {
	s := session.New("goal")
	err := s.Append(session.Message{ID: "m-1", Role: session.Role("narrator")})
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeSessionInvalidInput))
}

func TestHistoryFrozenAfterTerminate(t *testing.T) {
	s := session.New("goal")
	require.NoError(t, s.Terminate(session.StatusBlocked, "cancelled"))

	assert.Equal(t, session.StatusBlocked, s.Status)
	assert.Equal(t, "cancelled", s.StatusReason)

	err := s.Append(session.Message{ID: "m-1", Role: session.RoleUser, Content: "late"})
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeSessionNotRunning))

	// A second terminate is rejected too.
	err = s.Terminate(session.StatusCompleted, "")
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeSessionNotRunning))
}

func TestTerminateRejectsNonTerminalStatus(t *testing.T) {
	s := session.New("goal")
	err := s.Terminate(session.StatusRunning, "")
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeSessionInvalidInput))
}

func TestSnapshotIsACopy(t *testing.T) {
	s := session.New("goal")
	snap := s.Snapshot()
	require.Len(t, snap, 1)

	snap[0].Content = "tampered"
	assert.Equal(t, "goal", s.History[0].Content)
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status session.Status
		want   bool
	}{
		{session.StatusRunning, false},
		{session.StatusCompleted, true},
		{session.StatusBlocked, true},
		{session.StatusIterationLimitExceeded, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Terminal())
		})
	}
}

func TestReplaceSeed(t *testing.T) {
	s := session.New("check NVDA, account 12345678")

	require.NoError(t, s.ReplaceSeed("check NVDA"))
	require.Len(t, s.History, 1)
	assert.Equal(t, "check NVDA", s.History[0].Content)
	assert.Equal(t, "check NVDA, account 12345678", s.History[0].Metadata[session.MetaOriginal])

	// Frozen sessions cannot be rewritten.
	require.NoError(t, s.Terminate(session.StatusBlocked, "test"))
	err := s.ReplaceSeed("again")
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeSessionNotRunning))
}
