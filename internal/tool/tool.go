// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package tool defines the agent's tool surface: typed definitions with
// argument schemas, a registry keyed by name, and dispatch with per-tool
// timeouts.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Risk classifies a tool's side effects. Risky tools pass through the
// pre_action checkpoint before every call; read-only tools may skip it.
type Risk string

const (
	RiskReadOnly   Risk = "read_only"
	RiskSideEffect Risk = "side_effect"
)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Param describes one argument a tool accepts.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
}

// Handler executes a tool call. The returned string is the observation
// appended to the session history.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Definition is a registered tool: schema, risk class, and handler.
type Definition struct {
	Name        string
	Description string
	Params      []Param
	Risk        Risk
	Handler     Handler
	// Timeout bounds one dispatch. Zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultTimeout bounds tool execution when a definition sets none.
const DefaultTimeout = 30 * time.Second

// InputSchema renders the parameter list as a JSON Schema object for
// provider tool declarations.
func (d Definition) InputSchema() map[string]any {
	props := make(map[string]any, len(d.Params))
	var required []string
	for _, p := range d.Params {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, e := range p.Enum {
				enum[i] = e
			}
			prop["enum"] = enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ValidateArgs checks the arguments against the parameter schema. The error
// names every offending field so the oracle can self-correct on the next
// iteration.
func (d Definition) ValidateArgs(args map[string]any) error {
	var problems []string

	for _, p := range d.Params {
		val, present := args[p.Name]
		if !present {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required parameter %q", p.Name))
			}
			continue
		}
		if !typeMatches(p.Type, val) {
			problems = append(problems, fmt.Sprintf("parameter %q must be %s", p.Name, p.Type))
			continue
		}
		if len(p.Enum) > 0 {
			s, _ := val.(string)
			if !contains(p.Enum, s) {
				problems = append(problems, fmt.Sprintf("parameter %q must be one of %s", p.Name, strings.Join(p.Enum, ", ")))
			}
		}
	}

	known := make(map[string]struct{}, len(d.Params))
	for _, p := range d.Params {
		known[p.Name] = struct{}{}
	}
	for name := range args {
		if _, ok := known[name]; !ok {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", name))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return basterr.New(basterr.CodeToolArgumentsInvalid,
			strings.Join(problems, "; "), basterr.FieldTool(d.Name))
	}
	return nil
}

// typeMatches accepts the Go representations json.Unmarshal produces for
// each schema type. Integers arrive as float64 and must be whole.
func typeMatches(t ParamType, val any) bool {
	switch t {
	case TypeString:
		_, ok := val.(string)
		return ok
	case TypeNumber:
		switch val.(type) {
		case float64, int:
			return true
		}
		return false
	case TypeInteger:
		switch v := val.(type) {
		case int:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case TypeBoolean:
		_, ok := val.(bool)
		return ok
	default:
		return false
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
