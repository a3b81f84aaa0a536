// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package guardrail_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastion-agent/bastion/internal/guardrail"
	"github.com/bastion-agent/bastion/internal/session"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// stubCheck returns a fixed verdict (or error) and records invocations.
type stubCheck struct {
	name    string
	verdict guardrail.Verdict
	err     error
	calls   int
	seen    []guardrail.Candidate
}

func (s *stubCheck) Name() string { return s.name }

func (s *stubCheck) Evaluate(_ context.Context, _ guardrail.Stage, _ []session.Message, cand guardrail.Candidate) (guardrail.Verdict, error) {
	s.calls++
	s.seen = append(s.seen, cand)
	return s.verdict, s.err
}

func TestCheckpointAllowsWhenNoCheckFires(t *testing.T) {
	a := &stubCheck{name: "a", verdict: guardrail.Allow()}
	b := &stubCheck{name: "b", verdict: guardrail.Allow()}
	cp := guardrail.NewCheckpoint(a, b)

	v, err := cp.Evaluate(context.Background(), guardrail.StageInput, nil, guardrail.Candidate{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, guardrail.DecisionAllow, v.Decision)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestCheckpointBlockShortCircuits(t *testing.T) {
	first := &stubCheck{name: "first", verdict: guardrail.Block("nope")}
	second := &stubCheck{name: "second", verdict: guardrail.Allow()}
	cp := guardrail.NewCheckpoint(first, second)

	v, err := cp.Evaluate(context.Background(), guardrail.StageInput, nil, guardrail.Candidate{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, guardrail.DecisionBlock, v.Decision)
	assert.Equal(t, "nope", v.Reason)
	assert.Equal(t, 0, second.calls, "checks after a block must not run")
}

func TestCheckpointModifyFeedsLaterChecks(t *testing.T) {
	rewriter := &stubCheck{name: "rewriter", verdict: guardrail.ModifyText("cleaned", "scrubbed text")}
	observer := &stubCheck{name: "observer", verdict: guardrail.Allow()}
	cp := guardrail.NewCheckpoint(rewriter, observer)

	v, err := cp.Evaluate(context.Background(), guardrail.StageOutput, nil, guardrail.Candidate{Text: "dirty text"})
	require.NoError(t, err)
	assert.Equal(t, guardrail.DecisionModify, v.Decision)
	assert.Equal(t, "scrubbed text", v.Replacement)
	require.Len(t, observer.seen, 1)
	assert.Equal(t, "scrubbed text", observer.seen[0].Text, "later checks must see the replacement")
}

func TestCheckpointModifyArgsAtPreAction(t *testing.T) {
	clamp := &stubCheck{name: "clamp", verdict: guardrail.Verdict{
		Decision:        guardrail.DecisionModify,
		Reason:          "quantity clamped",
		ReplacementArgs: map[string]any{"ticker": "NVDA", "quantity": float64(10)},
	}}
	observer := &stubCheck{name: "observer", verdict: guardrail.Allow()}
	cp := guardrail.NewCheckpoint(clamp, observer)

	call := &session.ToolCallRequest{ID: "call-1", Name: "execute_trade",
		Arguments: map[string]any{"ticker": "NVDA", "quantity": float64(9000)}}
	v, err := cp.Evaluate(context.Background(), guardrail.StagePreAction, nil, guardrail.Candidate{Call: call})
	require.NoError(t, err)

	assert.Equal(t, guardrail.DecisionModify, v.Decision)
	assert.Equal(t, float64(10), v.ReplacementArgs["quantity"])
	require.Len(t, observer.seen, 1)
	assert.Equal(t, float64(10), observer.seen[0].Call.Arguments["quantity"])
	// Original request is untouched.
	assert.Equal(t, float64(9000), call.Arguments["quantity"])
}

func TestCheckpointFailsClosedOnCheckError(t *testing.T) {
	broken := &stubCheck{name: "broken", err: errors.New("regex backend down")}
	cp := guardrail.NewCheckpoint(broken)

	v, err := cp.Evaluate(context.Background(), guardrail.StageOutput, nil, guardrail.Candidate{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, guardrail.DecisionBlock, v.Decision)
	assert.Contains(t, v.Reason, "broken")
}

func TestCheckpointFailsClosedOnMissingReason(t *testing.T) {
	silent := &stubCheck{name: "silent", verdict: guardrail.Verdict{Decision: guardrail.DecisionBlock}}
	cp := guardrail.NewCheckpoint(silent)

	v, err := cp.Evaluate(context.Background(), guardrail.StageInput, nil, guardrail.Candidate{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, guardrail.DecisionBlock, v.Decision)
	assert.NotEmpty(t, v.Reason)
}

func TestCheckpointRejectsInvalidStage(t *testing.T) {
	cp := guardrail.NewCheckpoint()
	_, err := cp.Evaluate(context.Background(), guardrail.Stage("midway"), nil, guardrail.Candidate{})
	require.Error(t, err)
	assert.True(t, basterr.HasCode(err, basterr.CodeGuardrailConfigInvalid))
}

func TestConfigAtReturnsEmptyCheckpointWhenUnset(t *testing.T) {
	var cfg guardrail.Config
	cp := cfg.At(guardrail.StagePreAction)
	require.NotNil(t, cp)

	v, err := cp.Evaluate(context.Background(), guardrail.StagePreAction, nil, guardrail.Candidate{})
	require.NoError(t, err)
	assert.Equal(t, guardrail.DecisionAllow, v.Decision)
}
