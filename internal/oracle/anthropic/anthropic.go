// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package anthropic adapts the Anthropic Messages API into an oracle
// backend.
package anthropic

import (
	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bastion-agent/bastion/internal/oracle"
	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/tool"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Config holds Anthropic backend configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Backend implements oracle.Backend using the Anthropic Messages API.
type Backend struct {
	client anthropicsdk.Client
}

// New creates an Anthropic backend. The API key is required.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, basterr.New(basterr.CodeOracleNotConfigured,
			"missing api key", basterr.FieldProvider("anthropic"))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Backend{client: anthropicsdk.NewClient(opts...)}, nil
}

func (b *Backend) Name() string { return "anthropic" }

func (b *Backend) Close() error { return nil }

// Chat streams one reasoning call.
func (b *Backend) Chat(ctx context.Context, req oracle.Request) (<-chan oracle.Event, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	events := make(chan oracle.Event, 64)
	go func() {
		defer close(events)
		b.stream(ctx, params, events)
	}()
	return events, nil
}

// buildParams converts an oracle.Request into Anthropic SDK params.
func buildParams(req oracle.Request) (anthropicsdk.MessageNewParams, error) {
	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

// convertMessages maps session history onto Anthropic message params.
// System notices are carried as user turns so the model sees guardrail
// feedback in order.
func convertMessages(msgs []session.Message) ([]anthropicsdk.MessageParam, error) {
	var result []anthropicsdk.MessageParam
	for _, msg := range msgs {
		switch msg.Role {
		case session.RoleUser:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		case session.RoleAssistant:
			// Tool calls are replayed as tool_use blocks; the API rejects
			// a tool_result without its matching tool_use.
			var blocks []anthropicsdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropicsdk.NewAssistantMessage(blocks...))
		case session.RoleToolResult:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case session.RoleSystemNotice:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock("[system notice] "+msg.Content),
			))
		default:
			return nil, basterr.Errorf(basterr.CodeOracleRequestInvalid,
				"anthropic: unsupported message role %q", msg.Role)
		}
	}
	return result, nil
}

// convertTools maps tool definitions onto Anthropic tool params, splitting
// the JSON Schema object into the SDK's Properties and Required fields.
func convertTools(tools []tool.Definition) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema()
		input := anthropicsdk.ToolInputSchemaParam{}
		if props, ok := schema["properties"]; ok {
			input.Properties = props
		}
		if req, ok := schema["required"].([]string); ok {
			input.Required = req
		}
		result = append(result, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.Opt(t.Description),
				InputSchema: input,
			},
		})
	}
	return result
}

// stream drains the SDK stream into oracle events, accumulating tool input
// JSON by content block index.
func (b *Backend) stream(ctx context.Context, params anthropicsdk.MessageNewParams, ch chan<- oracle.Event) {
	stream := b.client.Messages.NewStreaming(ctx, params)

	type toolAccum struct {
		id          string
		name        string
		partialJSON string
	}
	toolBlocks := make(map[int64]*toolAccum)

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			cb := event.ContentBlock
			if cb.Type == "tool_use" {
				toolBlocks[event.Index] = &toolAccum{id: cb.ID, name: cb.Name}
			}

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				ch <- oracle.Event{Type: oracle.EventTextDelta, Text: event.Delta.Text}
			case "input_json_delta":
				if acc, ok := toolBlocks[event.Index]; ok {
					acc.partialJSON += event.Delta.PartialJSON
				}
			}

		case "content_block_stop":
			if acc, ok := toolBlocks[event.Index]; ok {
				ch <- oracle.Event{Type: oracle.EventToolCall, ToolCall: &oracle.ToolCall{
					ID: acc.id, Name: acc.name, Arguments: acc.partialJSON,
				}}
				delete(toolBlocks, event.Index)
			}

		case "message_delta":
			ch <- oracle.Event{Type: oracle.EventUsage, Usage: &oracle.Usage{
				InputTokens:  int(event.Usage.InputTokens),
				OutputTokens: int(event.Usage.OutputTokens),
			}}

		case "message_stop":
			ch <- oracle.Event{Type: oracle.EventDone}
			return
		}
	}

	if err := stream.Err(); err != nil {
		ch <- oracle.Event{Type: oracle.EventError, Error: err.Error()}
		return
	}
	ch <- oracle.Event{Type: oracle.EventDone}
}
