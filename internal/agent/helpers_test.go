// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package agent_test

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bastion-agent/bastion/internal/agent"
	"github.com/bastion-agent/bastion/internal/broker"
	"github.com/bastion-agent/bastion/internal/corpus"
	"github.com/bastion-agent/bastion/internal/guardrail"
	"github.com/bastion-agent/bastion/internal/market"
	"github.com/bastion-agent/bastion/internal/oracle"
	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/store"
	"github.com/bastion-agent/bastion/internal/tool"
	"github.com/bastion-agent/bastion/internal/tool/builtin"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// scriptedOracle replays a fixed decision sequence. With repeatLast set it
// keeps returning the final step forever, for iteration limit tests.
type scriptedOracle struct {
	steps      []scriptedStep
	repeatLast bool
	calls      int
}

type scriptedStep struct {
	decision oracle.Decision
	err      error
}

func toolStep(name string, args map[string]any) scriptedStep {
	return scriptedStep{decision: oracle.Decision{
		Kind: oracle.KindToolCalls,
		ToolCalls: []session.ToolCallRequest{
			{ID: session.NewToolCallID(), Name: name, Arguments: args},
		},
	}}
}

func textStep(text string) scriptedStep {
	return scriptedStep{decision: oracle.Decision{Kind: oracle.KindFinalText, Text: text}}
}

func (s *scriptedOracle) Decide(_ context.Context, _ []session.Message, _ []tool.Definition) (oracle.Decision, error) {
	idx := s.calls
	if idx >= len(s.steps) {
		if s.repeatLast && len(s.steps) > 0 {
			idx = len(s.steps) - 1
		} else {
			return oracle.Decision{}, basterr.New(basterr.CodeOracleDecisionMalformed,
				"script exhausted")
		}
	}
	s.calls++
	step := s.steps[idx]
	return step.decision, step.err
}

// fixture bundles a machine wired with the builtin toolset and the standard
// guardrail stack over in-memory backends.
type fixture struct {
	machine *agent.Machine
	store   *store.MemoryStore
	sim     *broker.Simulator
	oracle  *scriptedOracle
}

// corpusWithRecall seeds the filing corpus so a "recall" query corroborates
// the planted market rumor.
const recallFiling = "Item 1A Risk Factors. During the period the company recorded a " +
	"provision related to the previously announced product recall affecting certain units."

// corpusWithoutRecall has filing text that never matches recall queries.
const cleanFiling = "Item 1A Risk Factors. Revenue concentration among a small number " +
	"of datacenter customers may affect operating results."

func newFixture(t *testing.T, o *scriptedOracle, filing string, cfg agent.Config) *fixture {
	t.Helper()

	c := corpus.New()
	c.AddDocument("10k.txt", filing)
	sim := broker.NewSimulator()

	reg := tool.NewRegistry()
	require.NoError(t, builtin.Register(reg, c, market.DefaultFeed(), sim))

	injection, err := guardrail.NewRuleCheck("injection", guardrail.InjectionRules())
	require.NoError(t, err)
	secrets, err := guardrail.NewRedactCheck("secrets", guardrail.SecretRules())
	require.NoError(t, err)
	rumor := guardrail.NewRumorCheck(guardrail.RumorCheckConfig{
		ActionTool:   builtin.NameExecuteTrade,
		ResearchTool: builtin.NameQueryReport,
	})

	cfg.Guardrails = guardrail.Config{
		Input:     guardrail.NewCheckpoint(injection),
		PreAction: guardrail.NewCheckpoint(rumor),
		Output:    guardrail.NewCheckpoint(rumor, secrets),
	}

	st := store.NewMemoryStore()
	return &fixture{
		machine: agent.NewMachine(o, reg, st, cfg),
		store:   st,
		sim:     sim,
		oracle:  o,
	}
}

// capturingOracle wraps another oracle and records every history snapshot
// it is handed.
type capturingOracle struct {
	inner     oracle.Oracle
	histories [][]session.Message
}

func (o *capturingOracle) Decide(ctx context.Context, history []session.Message, tools []tool.Definition) (oracle.Decision, error) {
	o.histories = append(o.histories, history)
	return o.inner.Decide(ctx, history, tools)
}

// scrubCheck rewrites input goals carrying account identifiers.
type scrubCheck struct {
	pattern *regexp.Regexp
}

func (c *scrubCheck) Name() string { return "pii_scrub" }

func (c *scrubCheck) Evaluate(_ context.Context, stage guardrail.Stage, _ []session.Message, cand guardrail.Candidate) (guardrail.Verdict, error) {
	if stage != guardrail.StageInput || !c.pattern.MatchString(cand.Text) {
		return guardrail.Allow(), nil
	}
	return guardrail.ModifyText("account identifier removed",
		strings.TrimSpace(c.pattern.ReplaceAllString(cand.Text, ""))), nil
}

// roles extracts the role sequence of a history for ordering assertions.
func roles(history []session.Message) []session.Role {
	out := make([]session.Role, 0, len(history))
	for _, m := range history {
		out = append(out, m.Role)
	}
	return out
}
