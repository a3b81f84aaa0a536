// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package tool

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Registry is a thread-safe tool catalog keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
	log   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Definition),
		log:   slog.Default(),
	}
}

// Register adds a tool definition. Registering a name twice is a
// configuration error, as is a definition without a name or handler.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return basterr.New(basterr.CodeConfigValidateInvalidValue, "tool name is required")
	}
	if def.Handler == nil {
		return basterr.New(basterr.CodeConfigValidateInvalidValue,
			"tool has no handler", basterr.FieldTool(def.Name))
	}
	if def.Risk != RiskReadOnly && def.Risk != RiskSideEffect {
		return basterr.Errorf(basterr.CodeConfigValidateInvalidValue,
			"tool %s has invalid risk class %q", def.Name, def.Risk)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return basterr.New(basterr.CodeToolRegistryDuplicate,
			"tool already registered", basterr.FieldTool(def.Name))
	}
	r.tools[def.Name] = def
	return nil
}

// Get returns the definition for the named tool.
func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	if !ok {
		return Definition{}, basterr.New(basterr.CodeToolRegistryUnknown,
			"unknown tool", basterr.FieldTool(name))
	}
	return def, nil
}

// List returns every definition sorted by name, so provider declarations
// and transcripts are deterministic.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, d := range r.tools {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Dispatch validates the arguments and runs the named tool under its
// timeout. Unknown tools, invalid arguments, and handler failures come back
// as errors for the caller to convert into observations.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	def, err := r.Get(name)
	if err != nil {
		return "", err
	}
	if err := def.ValidateArgs(args); err != nil {
		return "", err
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := def.Handler(ctx, args)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			r.log.Warn("tool timed out", "tool", name, "elapsed", elapsed)
			return "", basterr.Wrap(err, basterr.CodeToolHandlerTimeout,
				"tool execution timed out", basterr.FieldTool(name))
		}
		return "", basterr.Wrap(err, basterr.CodeToolHandlerFailure,
			"tool execution failed", basterr.FieldTool(name))
	}

	r.log.Debug("tool dispatched", "tool", name, "elapsed", elapsed)
	return out, nil
}
