// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package oracle

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/tool"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// defaultSystemPrompt frames the agent for the backends. Kept short; the
// tool schemas carry the details.
const defaultSystemPrompt = "You are a stock research agent. Use the available tools to gather " +
	"evidence before acting. Verify market rumors against the company's 10-K filing " +
	"before recommending or executing any trade. When your research is complete, " +
	"answer with a final recommendation instead of calling more tools."

// Client adapts a Backend into an Oracle by draining its event stream and
// normalizing the result into a Decision.
type Client struct {
	backend      Backend
	model        string
	systemPrompt string
	maxTokens    int
	log          *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) { c.systemPrompt = prompt }
}

// WithMaxTokens bounds each backend call's output.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// NewClient wraps a backend for the given model.
func NewClient(backend Backend, model string, opts ...Option) *Client {
	c := &Client{
		backend:      backend,
		model:        model,
		systemPrompt: defaultSystemPrompt,
		maxTokens:    4096,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decide runs one reasoning call and normalizes the stream. Tool calls take
// precedence over accompanying text: a step that proposes tools is a
// tool_calls decision, and any preamble text is discarded.
func (c *Client) Decide(ctx context.Context, history []session.Message, tools []tool.Definition) (Decision, error) {
	events, err := c.backend.Chat(ctx, Request{
		Model:        c.model,
		Messages:     history,
		Tools:        tools,
		SystemPrompt: c.systemPrompt,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return Decision{}, basterr.Wrap(err, basterr.CodeOracleUpstreamFailure,
			"backend chat failed", basterr.FieldProvider(c.backend.Name()))
	}

	var (
		text  strings.Builder
		calls []ToolCall
	)
	for ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text.WriteString(ev.Text)
		case EventToolCall:
			if ev.ToolCall != nil {
				calls = append(calls, *ev.ToolCall)
			}
		case EventUsage:
			if ev.Usage != nil {
				c.log.Debug("oracle usage",
					"provider", c.backend.Name(), "model", c.model,
					"input_tokens", ev.Usage.InputTokens, "output_tokens", ev.Usage.OutputTokens)
			}
		case EventError:
			return Decision{}, basterr.New(basterr.CodeOracleUpstreamFailure,
				ev.Error, basterr.FieldProvider(c.backend.Name()))
		case EventDone:
		}
	}
	if ctx.Err() != nil {
		return Decision{}, basterr.Wrap(ctx.Err(), basterr.CodeOracleUpstreamFailure,
			"reasoning cancelled", basterr.FieldProvider(c.backend.Name()))
	}

	return normalize(calls, text.String())
}

// normalize converts raw stream output into the closed decision union.
func normalize(calls []ToolCall, text string) (Decision, error) {
	if len(calls) > 0 {
		reqs := make([]session.ToolCallRequest, 0, len(calls))
		for _, call := range calls {
			if call.Name == "" {
				return Decision{}, basterr.New(basterr.CodeOracleDecisionMalformed,
					"tool call missing name")
			}

			args := map[string]any{}
			raw := strings.TrimSpace(call.Arguments)
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					return Decision{}, basterr.Wrap(err, basterr.CodeOracleDecisionMalformed,
						"tool call arguments are not a JSON object", basterr.FieldTool(call.Name))
				}
			}

			id := call.ID
			if id == "" {
				id = session.NewToolCallID()
			}
			reqs = append(reqs, session.ToolCallRequest{ID: id, Name: call.Name, Arguments: args})
		}
		return Decision{Kind: KindToolCalls, ToolCalls: reqs}, nil
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Decision{}, basterr.New(basterr.CodeOracleDecisionMalformed,
			"backend produced neither tool calls nor text")
	}
	return Decision{Kind: KindFinalText, Text: trimmed}, nil
}
