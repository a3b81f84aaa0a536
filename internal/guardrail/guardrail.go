// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package guardrail implements the policy interception layer. A Checkpoint
// is an ordered list of sub-checks evaluated at one of three stages of the
// agent loop: before reasoning starts (input), before a risky tool call
// executes (pre_action), and before the final answer is released (output).
package guardrail

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/bastion-agent/bastion/internal/session"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Stage identifies where in the agent loop a checkpoint runs.
type Stage string

const (
	StageInput     Stage = "input"
	StagePreAction Stage = "pre_action"
	StageOutput    Stage = "output"
)

// Valid reports whether the stage is a known checkpoint stage.
func (s Stage) Valid() bool {
	switch s {
	case StageInput, StagePreAction, StageOutput:
		return true
	default:
		return false
	}
}

// Decision is the outcome class of a verdict.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionBlock  Decision = "block"
	DecisionModify Decision = "modify"
)

// Verdict is the result of a checkpoint evaluation. Block and modify always
// carry a non-empty reason. Replacement holds the substituted text for a
// modify verdict at the input or output stage; ReplacementArgs holds adjusted
// arguments for a modify verdict at the pre_action stage.
type Verdict struct {
	Decision        Decision
	Reason          string
	Replacement     string
	ReplacementArgs map[string]any
	// Check names the sub-check that produced a block or modify verdict.
	// Set by Checkpoint.Evaluate; empty on allow.
	Check string
}

// Allow returns an allow verdict.
func Allow() Verdict {
	return Verdict{Decision: DecisionAllow}
}

// Block returns a block verdict with the given reason.
func Block(reason string) Verdict {
	return Verdict{Decision: DecisionBlock, Reason: reason}
}

// ModifyText returns a modify verdict substituting text content.
func ModifyText(reason, replacement string) Verdict {
	return Verdict{Decision: DecisionModify, Reason: reason, Replacement: replacement}
}

// Candidate is the content under review: Text at the input and output
// stages, Call at the pre_action stage.
type Candidate struct {
	Text string
	Call *session.ToolCallRequest
}

// content renders the candidate for pattern scanning: the text at the input
// and output stages, the tool name plus its serialized arguments at
// pre_action. json.Marshal sorts map keys, so the rendering is stable.
func (c Candidate) content() string {
	if c.Call == nil {
		return c.Text
	}
	args, err := json.Marshal(c.Call.Arguments)
	if err != nil {
		return c.Call.Name
	}
	return c.Call.Name + " " + string(args)
}

// Check is a single pluggable policy rule. Checks that do not apply to the
// given stage must return an allow verdict. Evaluate must not mutate the
// history snapshot.
type Check interface {
	Name() string
	Evaluate(ctx context.Context, stage Stage, history []session.Message, cand Candidate) (Verdict, error)
}

// Checkpoint composes ordered sub-checks into one interception point.
// The first sub-check returning block short-circuits the rest; a modify
// verdict feeds its replacement into the later sub-checks. If no sub-check
// fires the verdict is allow.
type Checkpoint struct {
	checks []Check
	log    *slog.Logger
}

// NewCheckpoint builds a checkpoint from sub-checks, evaluated in the order
// given.
func NewCheckpoint(checks ...Check) *Checkpoint {
	return &Checkpoint{checks: checks, log: slog.Default()}
}

// Evaluate runs the sub-checks against the candidate. A sub-check that
// fails, or that returns a block/modify verdict without a reason, blocks the
// candidate: policy evaluation fails closed.
func (c *Checkpoint) Evaluate(ctx context.Context, stage Stage, history []session.Message, cand Candidate) (Verdict, error) {
	if !stage.Valid() {
		return Verdict{}, basterr.Errorf(basterr.CodeGuardrailConfigInvalid, "invalid checkpoint stage %q", stage)
	}

	modified := false
	var lastReason, lastCheck string

	failClosed := func(name, reason string) Verdict {
		v := Block(reason)
		v.Check = name
		return v
	}

	for _, check := range c.checks {
		verdict, err := check.Evaluate(ctx, stage, history, cand)
		if err != nil {
			c.log.Warn("guardrail check failed, blocking",
				"check", check.Name(), "stage", string(stage), "error", err)
			return failClosed(check.Name(), "guardrail check "+check.Name()+" failed"), nil
		}

		switch verdict.Decision {
		case DecisionAllow:
			continue
		case DecisionBlock:
			if verdict.Reason == "" {
				return failClosed(check.Name(), "guardrail check "+check.Name()+" blocked without reason"), nil
			}
			verdict.Check = check.Name()
			return verdict, nil
		case DecisionModify:
			if verdict.Reason == "" {
				return failClosed(check.Name(), "guardrail check "+check.Name()+" modified without reason"), nil
			}
			modified = true
			lastReason = verdict.Reason
			lastCheck = check.Name()
			// Later sub-checks see the modified candidate.
			if stage == StagePreAction {
				if verdict.ReplacementArgs != nil && cand.Call != nil {
					adjusted := *cand.Call
					adjusted.Arguments = verdict.ReplacementArgs
					cand.Call = &adjusted
				}
			} else {
				cand.Text = verdict.Replacement
			}
		default:
			return failClosed(check.Name(), "guardrail check "+check.Name()+" returned unknown decision"), nil
		}
	}

	if modified {
		v := Verdict{Decision: DecisionModify, Reason: lastReason, Check: lastCheck, Replacement: cand.Text}
		if stage == StagePreAction && cand.Call != nil {
			v.ReplacementArgs = cand.Call.Arguments
		}
		return v, nil
	}
	return Allow(), nil
}

// Config selects which built-in checks each stage runs. The zero value
// enables nothing; Default returns the standard stack.
type Config struct {
	Input     *Checkpoint
	PreAction *Checkpoint
	Output    *Checkpoint
}

// At returns the checkpoint for the given stage, or an empty checkpoint when
// none is configured (everything allowed).
func (c Config) At(stage Stage) *Checkpoint {
	var cp *Checkpoint
	switch stage {
	case StageInput:
		cp = c.Input
	case StagePreAction:
		cp = c.PreAction
	case StageOutput:
		cp = c.Output
	}
	if cp == nil {
		return NewCheckpoint()
	}
	return cp
}
