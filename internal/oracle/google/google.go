// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package google adapts the Google Gemini API into an oracle backend.
package google

import (
	"context"
	"encoding/json"

	"google.golang.org/genai"

	"github.com/bastion-agent/bastion/internal/oracle"
	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/tool"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Config holds Google backend configuration.
type Config struct {
	APIKey string
}

// Backend implements oracle.Backend using the Google Gemini API.
type Backend struct {
	client *genai.Client
}

// New creates a Google backend. The API key is required.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, basterr.New(basterr.CodeOracleNotConfigured,
			"missing api key", basterr.FieldProvider("google"))
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, basterr.Wrap(err, basterr.CodeOracleUpstreamFailure,
			"creating client", basterr.FieldProvider("google"))
	}
	return &Backend{client: client}, nil
}

func (b *Backend) Name() string { return "google" }

func (b *Backend) Close() error { return nil }

// Chat streams one reasoning call.
func (b *Backend) Chat(ctx context.Context, req oracle.Request) (<-chan oracle.Event, error) {
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	config := buildConfig(req)

	events := make(chan oracle.Event, 64)
	go func() {
		defer close(events)
		b.stream(ctx, req.Model, contents, config, events)
	}()
	return events, nil
}

func buildConfig(req oracle.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if len(req.Tools) > 0 {
		cfg.Tools = convertTools(req.Tools)
	}
	return cfg
}

// convertMessages maps session history onto genai contents. Tool results
// travel as function responses on user turns; system notices as user text.
func convertMessages(msgs []session.Message) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, msg := range msgs {
		switch msg.Role {
		case session.RoleUser:
			result = append(result, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case session.RoleAssistant:
			if msg.Content == "" {
				continue
			}
			result = append(result, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case session.RoleToolResult:
			result = append(result, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     msg.ToolName,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})
		case session.RoleSystemNotice:
			result = append(result, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: "[system notice] " + msg.Content}},
			})
		default:
			return nil, basterr.Errorf(basterr.CodeOracleRequestInvalid,
				"google: unsupported message role %q", msg.Role)
		}
	}
	return result, nil
}

func convertTools(tools []tool.Definition) []*genai.Tool {
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.InputSchema(),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// stream drains the SDK iterator into oracle events.
func (b *Backend) stream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, ch chan<- oracle.Event) {
	for result, err := range b.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			ch <- oracle.Event{Type: oracle.EventError, Error: err.Error()}
			return
		}

		for _, candidate := range result.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					ch <- oracle.Event{Type: oracle.EventTextDelta, Text: part.Text}
				}
				if part.FunctionCall != nil {
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						ch <- oracle.Event{Type: oracle.EventError,
							Error: "google: marshaling tool call arguments for " + part.FunctionCall.Name + ": " + err.Error()}
						return
					}
					ch <- oracle.Event{Type: oracle.EventToolCall, ToolCall: &oracle.ToolCall{
						ID:        part.FunctionCall.ID,
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					}}
				}
			}
		}

		if result.UsageMetadata != nil {
			ch <- oracle.Event{Type: oracle.EventUsage, Usage: &oracle.Usage{
				InputTokens:  int(result.UsageMetadata.PromptTokenCount),
				OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
			}}
		}
	}

	ch <- oracle.Event{Type: oracle.EventDone}
}
