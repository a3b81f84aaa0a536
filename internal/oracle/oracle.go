// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package oracle turns LLM backends into a single reasoning interface. Each
// backend streams chat events; the client drains the stream and normalizes
// it into exactly one Decision: call tools, or answer.
package oracle

import (
	"context"

	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/tool"
)

// DecisionKind is the closed set of decision shapes.
type DecisionKind string

const (
	KindToolCalls DecisionKind = "tool_calls"
	KindFinalText DecisionKind = "final_text"
)

// Decision is one normalized reasoning step. Exactly one branch is
// populated: ToolCalls for KindToolCalls, Text for KindFinalText.
type Decision struct {
	Kind      DecisionKind
	ToolCalls []session.ToolCallRequest
	Text      string
}

// Oracle produces the next decision for a session.
type Oracle interface {
	Decide(ctx context.Context, history []session.Message, tools []tool.Definition) (Decision, error)
}

// EventType classifies backend stream events.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventToolCall  EventType = "tool_call"
	EventUsage     EventType = "usage"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// ToolCall is a backend-proposed tool invocation. Arguments is the raw JSON
// object the model produced; the client parses and validates it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage reports token consumption for one backend call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Event is one streaming chunk from a backend.
type Event struct {
	Type     EventType
	Text     string
	ToolCall *ToolCall
	Usage    *Usage
	Error    string
}

// Request is one reasoning call to a backend.
type Request struct {
	Model        string
	Messages     []session.Message
	Tools        []tool.Definition
	SystemPrompt string
	MaxTokens    int
}

// Backend is an LLM provider adapter. Chat returns a channel that is closed
// after the terminal done or error event.
type Backend interface {
	Name() string
	Chat(ctx context.Context, req Request) (<-chan Event, error)
	Close() error
}
