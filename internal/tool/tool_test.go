// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package tool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastion-agent/bastion/internal/tool"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

func echoDef(name string) tool.Definition {
	return tool.Definition{
		Name:        name,
		Description: "echoes its input",
		Risk:        tool.RiskReadOnly,
		Params: []tool.Param{
			{Name: "text", Type: tool.TypeString, Description: "text to echo", Required: true},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	}
}

func TestValidateArgs(t *testing.T) {
	def := tool.Definition{
		Name: "order",
		Params: []tool.Param{
			{Name: "ticker", Type: tool.TypeString, Required: true},
			{Name: "quantity", Type: tool.TypeInteger, Required: true},
			{Name: "direction", Type: tool.TypeString, Required: true, Enum: []string{"buy", "sell"}},
			{Name: "note", Type: tool.TypeString},
		},
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr []string
	}{
		{
			name: "valid",
			args: map[string]any{"ticker": "NVDA", "quantity": float64(100), "direction": "sell"},
		},
		{
			name:    "missing required",
			args:    map[string]any{"ticker": "NVDA"},
			wantErr: []string{`missing required parameter "quantity"`, `missing required parameter "direction"`},
		},
		{
			name:    "wrong type",
			args:    map[string]any{"ticker": 42, "quantity": float64(10), "direction": "buy"},
			wantErr: []string{`parameter "ticker" must be string`},
		},
		{
			name:    "fractional integer",
			args:    map[string]any{"ticker": "NVDA", "quantity": 10.5, "direction": "buy"},
			wantErr: []string{`parameter "quantity" must be integer`},
		},
		{
			name:    "enum violation",
			args:    map[string]any{"ticker": "NVDA", "quantity": float64(10), "direction": "hold"},
			wantErr: []string{`parameter "direction" must be one of buy, sell`},
		},
		{
			name:    "unknown parameter",
			args:    map[string]any{"ticker": "NVDA", "quantity": float64(10), "direction": "buy", "leverage": float64(10)},
			wantErr: []string{`unknown parameter "leverage"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := def.ValidateArgs(tt.args)
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, basterr.HasCode(err, basterr.CodeToolArgumentsInvalid))
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestInputSchema(t *testing.T) {
	def := echoDef("echo")
	schema := def.InputSchema()

	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "text")
	assert.Equal(t, []string{"text"}, schema["required"])
}

func TestRegistryDuplicate(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoDef("echo")))

	err := reg.Register(echoDef("echo"))
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeToolRegistryDuplicate))
}

func TestRegistryRejectsInvalidDefinition(t *testing.T) {
	reg := tool.NewRegistry()

	err := reg.Register(tool.Definition{Name: "nohandler", Risk: tool.RiskReadOnly})
	require.Error(t, err)

	def := echoDef("badrisk")
	def.Risk = tool.Risk("reckless")
	require.Error(t, reg.Register(def))
}

func TestRegistryListSorted(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoDef("zeta")))
	require.NoError(t, reg.Register(echoDef("alpha")))

	defs := reg.List()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "zeta", defs[1].Name)
}

func TestDispatch(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoDef("echo")))

	out, err := reg.Dispatch(context.Background(), "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := tool.NewRegistry()
	_, err := reg.Dispatch(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeToolRegistryUnknown))
}

func TestDispatchInvalidArgs(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoDef("echo")))

	_, err := reg.Dispatch(context.Background(), "echo", map[string]any{})
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeToolArgumentsInvalid))
}

func TestDispatchHandlerFailure(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(tool.Definition{
		Name: "flaky",
		Risk: tool.RiskReadOnly,
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}))

	_, err := reg.Dispatch(context.Background(), "flaky", nil)
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeToolHandlerFailure))
}

func TestDispatchTimeout(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(tool.Definition{
		Name:    "slow",
		Risk:    tool.RiskReadOnly,
		Timeout: 20 * time.Millisecond,
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
				return "too late", nil
			}
		},
	}))

	_, err := reg.Dispatch(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeToolHandlerTimeout))
}
