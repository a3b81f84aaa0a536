// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastion-agent/bastion/internal/session"
)

func TestConvertMessagesReplaysToolCalls(t *testing.T) {
	history := []session.Message{
		{Role: session.RoleUser, Content: "check NVDA"},
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCallRequest{
			{ID: "call-1", Name: "get_market_data", Arguments: map[string]any{"ticker": "NVDA"}},
		}},
		{Role: session.RoleToolResult, ToolCallID: "call-1", ToolName: "get_market_data",
			Content: "NVDA: $104.25 (-15.0%)"},
	}

	msgs, err := convertMessages(history)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	// The tool_result turn needs its matching tool_use in the prior turn or
	// the API rejects the request.
	require.Len(t, msgs[1].Content, 1)
	toolUse := msgs[1].Content[0].OfToolUse
	require.NotNil(t, toolUse)
	assert.Equal(t, "call-1", toolUse.ID)
	assert.Equal(t, "get_market_data", toolUse.Name)

	require.Len(t, msgs[2].Content, 1)
	result := msgs[2].Content[0].OfToolResult
	require.NotNil(t, result)
	assert.Equal(t, "call-1", result.ToolUseID)
}

func TestConvertMessagesMixedAssistantTurn(t *testing.T) {
	msgs, err := convertMessages([]session.Message{
		{Role: session.RoleAssistant, Content: "Checking the market first.",
			ToolCalls: []session.ToolCallRequest{
				{ID: "call-2", Name: "get_market_data", Arguments: map[string]any{"ticker": "AAPL"}},
			}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)
	assert.NotNil(t, msgs[0].Content[0].OfText)
	assert.NotNil(t, msgs[0].Content[1].OfToolUse)
}

func TestConvertMessagesSkipsEmptyAssistantTurn(t *testing.T) {
	msgs, err := convertMessages([]session.Message{
		{Role: session.RoleUser, Content: "hello"},
		{Role: session.RoleAssistant},
	})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
