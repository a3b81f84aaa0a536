// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package openai adapts the OpenAI Chat Completions API into an oracle
// backend.
package openai

import (
	"context"
	"encoding/json"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/bastion-agent/bastion/internal/oracle"
	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/tool"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Config holds OpenAI backend configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Backend implements oracle.Backend using the OpenAI Chat Completions API.
type Backend struct {
	client openaisdk.Client
}

// New creates an OpenAI backend. The API key is required.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, basterr.New(basterr.CodeOracleNotConfigured,
			"missing api key", basterr.FieldProvider("openai"))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Backend{client: openaisdk.NewClient(opts...)}, nil
}

func (b *Backend) Name() string { return "openai" }

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

func buildParams(req oracle.Request) (openaisdk.ChatCompletionNewParams, error) {
	msgs, err := convertMessages(req.Messages, req.SystemPrompt)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

// convertMessages maps session history onto OpenAI message params, with the
// system prompt prepended.
func convertMessages(msgs []session.Message, systemPrompt string) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	var result []openaisdk.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		result = append(result, openaisdk.SystemMessage(systemPrompt))
	}

	for _, msg := range msgs {
		switch msg.Role {
		case session.RoleUser:
			result = append(result, openaisdk.UserMessage(msg.Content))
		case session.RoleAssistant:
			if msg.Content == "" {
				continue
			}
			result = append(result, openaisdk.AssistantMessage(msg.Content))
		case session.RoleToolResult:
			result = append(result, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		case session.RoleSystemNotice:
			result = append(result, openaisdk.SystemMessage(msg.Content))
		default:
			return nil, basterr.Errorf(basterr.CodeOracleRequestInvalid,
				"openai: unsupported message role %q", msg.Role)
		}
	}
	return result, nil
}

func convertTools(tools []tool.Definition) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema()),
			},
		})
	}
	return result
}

// stream drains the SDK stream into oracle events, accumulating tool call
// argument fragments by index.
func (b *Backend) stream(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- oracle.Event) {
	stream := b.client.Chat.Completions.NewStreaming(ctx, params)

	type toolAccum struct {
		id          string
		name        string
		partialArgs string
	}
	toolCalls := make(map[int64]*toolAccum)

	flush := func() {
		for idx, acc := range toolCalls {
			if !json.Valid([]byte(acc.partialArgs)) {
				acc.partialArgs = "{}"
			}
			ch <- oracle.Event{Type: oracle.EventToolCall, ToolCall: &oracle.ToolCall{
				ID: acc.id, Name: acc.name, Arguments: acc.partialArgs,
			}}
			delete(toolCalls, idx)
		}
	}

	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			delta := choice.Delta
			if delta.Content != "" {
				ch <- oracle.Event{Type: oracle.EventTextDelta, Text: delta.Content}
			}

			for _, tc := range delta.ToolCalls {
				acc, ok := toolCalls[tc.Index]
				if !ok {
					acc = &toolAccum{}
					toolCalls[tc.Index] = acc
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					acc.partialArgs += tc.Function.Arguments
				}
			}

			if choice.FinishReason == "tool_calls" {
				flush()
			}
		}

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			ch <- oracle.Event{Type: oracle.EventUsage, Usage: &oracle.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}}
		}
	}

	if err := stream.Err(); err != nil {
		ch <- oracle.Event{Type: oracle.EventError, Error: err.Error()}
		return
	}

	// Flush tool calls not terminated by an explicit finish_reason.
	flush()
	ch <- oracle.Event{Type: oracle.EventDone}
}
