// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package session defines the conversation data model: messages, tool call
// requests, and the Session aggregate that owns the append-only history.
package session

import (
	"time"

	"github.com/google/uuid"

	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Role identifies the sender of a message in a session.
type Role string

const (
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleToolResult   Role = "tool_result"
	RoleSystemNotice Role = "system_notice"
)

// Valid reports whether the role is a known message role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleToolResult, RoleSystemNotice:
		return true
	default:
		return false
	}
}

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusRunning                Status = "running"
	StatusCompleted              Status = "completed"
	StatusBlocked                Status = "blocked"
	StatusIterationLimitExceeded Status = "iteration_limit_exceeded"
)

// Terminal reports whether the status ends the session.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusBlocked || s == StatusIterationLimitExceeded
}

// ToolCallRequest is a proposed tool invocation. Immutable once created.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// MetaReleased marks an assistant draft that was withheld from the caller by
// the output checkpoint ("false") or replaced by a modify verdict.
const MetaReleased = "released"

// MetaOriginal preserves a message's pre-modification content after a
// guardrail modify verdict rewrote it.
const MetaOriginal = "original_content"

// Message is one turn in the conversation.
//
// ToolCalls is populated only on assistant messages; ToolCallID and ToolName
// only on tool_result messages, where ToolCallID references the assistant
// tool call the result answers.
type Message struct {
	ID         string
	Role       Role
	Content    string
	ToolCalls  []ToolCallRequest
	ToolCallID string
	ToolName   string
	CreatedAt  time.Time
	Metadata   map[string]string
}

// Session is the root aggregate for one agent run. History is append-only
// while the session is running and frozen once a terminal status is reached.
// A session is owned by exactly one state machine run; it is not safe for
// concurrent mutation.
type Session struct {
	ID           string
	Goal         string
	History      []Message
	Iterations   int
	Status       Status
	StatusReason string
	// Output is the final text released to the caller. Empty unless the
	// session completed.
	Output    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a running session seeded with a single user message carrying
// the caller's goal.
func New(goal string) *Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.New().String(),
		Goal:      goal,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.History = append(s.History, Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   goal,
		CreatedAt: now,
	})
	return s
}

// Append adds a message to the history. It fails once the session has left
// the running state, and rejects tool results that do not answer a pending
// assistant tool call (no orphans, no duplicate answers).
func (s *Session) Append(msg Message) error {
	if s.Status != StatusRunning {
		return basterr.New(basterr.CodeSessionNotRunning,
			"session is "+string(s.Status)+", history is frozen",
			basterr.FieldSessionID(s.ID))
	}
	if !msg.Role.Valid() {
		return basterr.Errorf(basterr.CodeSessionInvalidInput, "invalid message role %q", msg.Role)
	}
	if msg.Role == RoleToolResult {
		if err := s.validateToolResult(msg); err != nil {
			return err
		}
	}

	s.History = append(s.History, msg)
	s.UpdatedAt = time.Now()
	return nil
}

// validateToolResult enforces the pairing invariant: every tool_result must
// reference a prior assistant tool call id exactly once.
func (s *Session) validateToolResult(msg Message) error {
	if msg.ToolCallID == "" {
		return basterr.New(basterr.CodeSessionInvalidInput,
			"tool_result message missing tool_call_id", basterr.FieldSessionID(s.ID))
	}

	requested := false
	for _, m := range s.History {
		if m.Role == RoleAssistant {
			for _, tc := range m.ToolCalls {
				if tc.ID == msg.ToolCallID {
					requested = true
				}
			}
		}
		if m.Role == RoleToolResult && m.ToolCallID == msg.ToolCallID {
			return basterr.Errorf(basterr.CodeSessionHistoryOrder,
				"duplicate tool_result for call %s", msg.ToolCallID)
		}
	}
	if !requested {
		return basterr.Errorf(basterr.CodeSessionHistoryOrder,
			"tool_result references unknown call %s", msg.ToolCallID)
	}
	return nil
}

// ReplaceSeed rewrites the seed user message after an input modify verdict,
// so nothing downstream sees the original goal. The replaced content stays
// on the message metadata for the audit trail.
func (s *Session) ReplaceSeed(replacement string) error {
	if s.Status != StatusRunning {
		return basterr.New(basterr.CodeSessionNotRunning,
			"session is "+string(s.Status)+", history is frozen",
			basterr.FieldSessionID(s.ID))
	}
	if len(s.History) == 0 || s.History[0].Role != RoleUser {
		return basterr.New(basterr.CodeSessionInvalidInput,
			"session has no seed user message", basterr.FieldSessionID(s.ID))
	}

	seed := &s.History[0]
	if seed.Metadata == nil {
		seed.Metadata = make(map[string]string)
	}
	seed.Metadata[MetaOriginal] = seed.Content
	seed.Content = replacement
	s.UpdatedAt = time.Now()
	return nil
}

// Terminate moves the session to a terminal status. Reason is required for
// any terminal state other than completed.
func (s *Session) Terminate(status Status, reason string) error {
	if !status.Terminal() {
		return basterr.Errorf(basterr.CodeSessionInvalidInput, "status %q is not terminal", status)
	}
	if s.Status != StatusRunning {
		return basterr.New(basterr.CodeSessionNotRunning,
			"session already terminal", basterr.FieldSessionID(s.ID))
	}

	s.Status = status
	s.StatusReason = reason
	s.UpdatedAt = time.Now()
	return nil
}

// Snapshot returns a copy of the history for read-only inspection, e.g. by
// guardrail checkpoints. Mutating the returned slice does not affect the
// session.
func (s *Session) Snapshot() []Message {
	out := make([]Message, len(s.History))
	copy(out, s.History)
	return out
}

// NewToolCallID returns a fresh unique tool call identifier.
func NewToolCallID() string {
	return "call-" + uuid.New().String()
}
