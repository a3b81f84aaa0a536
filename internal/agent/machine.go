// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package agent runs the reason-act-observe loop as an explicit state
// machine, with guardrail checkpoints at the input, pre-action, and output
// boundaries.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bastion-agent/bastion/internal/guardrail"
	"github.com/bastion-agent/bastion/internal/oracle"
	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/store"
	"github.com/bastion-agent/bastion/internal/tool"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// State identifies the machine's position in the loop.
type State string

const (
	StateInit                    State = "init"
	StateAwaitingInputClearance  State = "awaiting_input_clearance"
	StateReasoning               State = "reasoning"
	StateAwaitingActionClearance State = "awaiting_action_clearance"
	StateActing                  State = "acting"
	StateAwaitingOutputClearance State = "awaiting_output_clearance"
	StateTerminal                State = "terminal"
)

// DefaultMaxIterations bounds reasoning steps when the config sets none.
const DefaultMaxIterations = 10

// Config tunes one machine.
type Config struct {
	// MaxIterations caps reasoning steps per session. Zero means
	// DefaultMaxIterations.
	MaxIterations int

	// Guardrails supplies the three checkpoints. Unset stages allow
	// everything.
	Guardrails guardrail.Config

	// GateReadOnly routes read-only tool calls through the pre_action
	// checkpoint too. Off by default: only side-effecting tools are gated.
	GateReadOnly bool
}

// Machine drives one session from goal to terminal status.
type Machine struct {
	oracle   oracle.Oracle
	registry *tool.Registry
	store    store.Store
	cfg      Config
	log      *slog.Logger

	state State
}

// NewMachine assembles a machine. The store may be nil for ephemeral runs.
func NewMachine(o oracle.Oracle, reg *tool.Registry, st store.Store, cfg Config) *Machine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if st == nil {
		st = store.NewMemoryStore()
	}
	return &Machine{
		oracle:   o,
		registry: reg,
		store:    st,
		cfg:      cfg,
		log:      slog.Default(),
		state:    StateInit,
	}
}

// State reports the machine's current state. Meaningful only between Run
// steps; a machine runs one session at a time.
func (m *Machine) State() State { return m.state }

// Run executes one session to a terminal status. The returned session is
// terminal unless err is non-nil. Cancellation is honored at step
// boundaries: the session ends blocked with reason "cancelled", and any
// in-flight tool call completes first.
func (m *Machine) Run(ctx context.Context, goal string) (*session.Session, error) {
	if goal == "" {
		return nil, basterr.New(basterr.CodeSessionInvalidInput, "goal is required")
	}

	m.state = StateInit
	s := session.New(goal)
	log := m.log.With("session_id", s.ID)
	log.Info("session started", "goal", goal, "max_iterations", m.cfg.MaxIterations)

	// Input clearance.
	m.state = StateAwaitingInputClearance
	verdict, err := m.cfg.Guardrails.At(guardrail.StageInput).Evaluate(
		ctx, guardrail.StageInput, s.Snapshot(), guardrail.Candidate{Text: goal})
	if err != nil {
		return nil, err
	}
	m.audit(ctx, s.ID, guardrail.StageInput, verdict, "")

	switch verdict.Decision {
	case guardrail.DecisionBlock:
		return m.finish(ctx, s, session.StatusBlocked, verdict.Reason)
	case guardrail.DecisionModify:
		// The seed itself is rewritten: the oracle must never see the
		// original goal. The replaced text survives on the seed metadata.
		if err := s.ReplaceSeed(verdict.Replacement); err != nil {
			return nil, err
		}
		if err := s.Append(session.Message{
			ID:        uuid.New().String(),
			Role:      session.RoleSystemNotice,
			Content:   "input adjusted by guardrail: " + verdict.Reason,
			CreatedAt: time.Now(),
		}); err != nil {
			return nil, err
		}
	}
	m.persist(ctx, s)

	for {
		if ctx.Err() != nil {
			return m.finish(ctx, s, session.StatusBlocked, "cancelled")
		}

		// The iteration bound is enforced before the step runs, so a
		// finished session never reports more iterations than the cap.
		if s.Iterations+1 > m.cfg.MaxIterations {
			return m.finish(ctx, s, session.StatusIterationLimitExceeded, "iteration limit reached")
		}
		s.Iterations++

		m.state = StateReasoning
		decision, err := m.oracle.Decide(ctx, s.Snapshot(), m.registry.List())
		if err != nil {
			if basterr.IsMalformed(err) {
				// Recoverable: surface the problem to the oracle and retry.
				log.Warn("malformed oracle decision", "error", err)
				if aerr := s.Append(session.Message{
					ID:        uuid.New().String(),
					Role:      session.RoleSystemNotice,
					Content:   "previous response was malformed: " + err.Error(),
					CreatedAt: time.Now(),
				}); aerr != nil {
					return nil, aerr
				}
				m.persist(ctx, s)
				continue
			}
			m.persist(ctx, s)
			return nil, err
		}

		switch decision.Kind {
		case oracle.KindToolCalls:
			if err := m.stepToolCalls(ctx, s, decision.ToolCalls); err != nil {
				return nil, err
			}
			m.persist(ctx, s)

		case oracle.KindFinalText:
			return m.stepFinalText(ctx, s, decision.Text)

		default:
			return nil, basterr.Errorf(basterr.CodeOracleDecisionMalformed,
				"unknown decision kind %q", decision.Kind)
		}
	}
}

// stepToolCalls appends the assistant's tool call message, then clears and
// dispatches each call independently. A blocked or failed call becomes an
// observation; it never ends the session.
func (m *Machine) stepToolCalls(ctx context.Context, s *session.Session, calls []session.ToolCallRequest) error {
	log := m.log.With("session_id", s.ID)

	if err := s.Append(session.Message{
		ID:        uuid.New().String(),
		Role:      session.RoleAssistant,
		ToolCalls: calls,
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}

	for _, call := range calls {
		observation := m.clearAndDispatch(ctx, s, call)
		if err := s.Append(session.Message{
			ID:         uuid.New().String(),
			Role:       session.RoleToolResult,
			Content:    observation,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			CreatedAt:  time.Now(),
		}); err != nil {
			return err
		}
		log.Debug("tool call observed", "tool", call.Name, "call_id", call.ID)
	}
	return nil
}

// clearAndDispatch runs one tool call through the pre_action checkpoint and
// the registry, returning the observation text.
func (m *Machine) clearAndDispatch(ctx context.Context, s *session.Session, call session.ToolCallRequest) string {
	def, err := m.registry.Get(call.Name)
	if err != nil {
		return "unknown tool " + call.Name + "; available tools: " + m.toolNames()
	}

	args := call.Arguments
	if def.Risk == tool.RiskSideEffect || m.cfg.GateReadOnly {
		m.state = StateAwaitingActionClearance
		verdict, verr := m.cfg.Guardrails.At(guardrail.StagePreAction).Evaluate(
			ctx, guardrail.StagePreAction, s.Snapshot(), guardrail.Candidate{Call: &call})
		if verr != nil {
			return "action blocked: " + verr.Error()
		}
		m.audit(ctx, s.ID, guardrail.StagePreAction, verdict, call.Name)

		switch verdict.Decision {
		case guardrail.DecisionBlock:
			return "action blocked by guardrail: " + verdict.Reason
		case guardrail.DecisionModify:
			if verdict.ReplacementArgs != nil {
				args = verdict.ReplacementArgs
			}
		}
	}

	m.state = StateActing
	// The dispatch itself is shielded from cancellation so an approved
	// side effect is never torn down mid-flight; the tool timeout still
	// applies.
	out, err := m.registry.Dispatch(context.WithoutCancel(ctx), call.Name, args)
	if err != nil {
		return "tool error: " + err.Error()
	}
	return out
}

// stepFinalText runs the draft answer through the output checkpoint and
// terminates the session.
func (m *Machine) stepFinalText(ctx context.Context, s *session.Session, draft string) (*session.Session, error) {
	m.state = StateAwaitingOutputClearance
	verdict, err := m.cfg.Guardrails.At(guardrail.StageOutput).Evaluate(
		ctx, guardrail.StageOutput, s.Snapshot(), guardrail.Candidate{Text: draft})
	if err != nil {
		return nil, err
	}
	m.audit(ctx, s.ID, guardrail.StageOutput, verdict, "")

	switch verdict.Decision {
	case guardrail.DecisionBlock:
		// The withheld draft stays in history for the audit trail; the
		// caller never sees it as output.
		if aerr := s.Append(session.Message{
			ID:        uuid.New().String(),
			Role:      session.RoleAssistant,
			Content:   draft,
			Metadata:  map[string]string{session.MetaReleased: "false"},
			CreatedAt: time.Now(),
		}); aerr != nil {
			return nil, aerr
		}
		return m.finish(ctx, s, session.StatusBlocked, verdict.Reason)

	case guardrail.DecisionModify:
		if aerr := s.Append(session.Message{
			ID:        uuid.New().String(),
			Role:      session.RoleAssistant,
			Content:   draft,
			Metadata:  map[string]string{session.MetaReleased: "false"},
			CreatedAt: time.Now(),
		}); aerr != nil {
			return nil, aerr
		}
		if aerr := s.Append(session.Message{
			ID:        uuid.New().String(),
			Role:      session.RoleAssistant,
			Content:   verdict.Replacement,
			Metadata:  map[string]string{session.MetaReleased: "true"},
			CreatedAt: time.Now(),
		}); aerr != nil {
			return nil, aerr
		}
		s.Output = verdict.Replacement
		return m.finish(ctx, s, session.StatusCompleted, "")

	default:
		if aerr := s.Append(session.Message{
			ID:        uuid.New().String(),
			Role:      session.RoleAssistant,
			Content:   draft,
			Metadata:  map[string]string{session.MetaReleased: "true"},
			CreatedAt: time.Now(),
		}); aerr != nil {
			return nil, aerr
		}
		s.Output = draft
		return m.finish(ctx, s, session.StatusCompleted, "")
	}
}

// finish moves the session to a terminal status and persists it.
func (m *Machine) finish(ctx context.Context, s *session.Session, status session.Status, reason string) (*session.Session, error) {
	if err := s.Terminate(status, reason); err != nil {
		return nil, err
	}
	m.state = StateTerminal
	m.persist(ctx, s)
	m.log.Info("session finished",
		"session_id", s.ID, "status", string(status), "reason", reason,
		"iterations", s.Iterations)
	return s, nil
}

// persist saves the session, logging rather than failing the run: the
// transcript in memory stays authoritative.
func (m *Machine) persist(ctx context.Context, s *session.Session) {
	if err := m.store.SaveSession(context.WithoutCancel(ctx), s); err != nil {
		m.log.Error("persisting session failed", "session_id", s.ID, "error", err)
	}
}

// audit records block and modify verdicts. Allow verdicts are not recorded.
func (m *Machine) audit(ctx context.Context, sessionID string, stage guardrail.Stage, v guardrail.Verdict, toolName string) {
	if v.Decision == guardrail.DecisionAllow {
		return
	}
	ev := store.AuditEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Stage:     string(stage),
		Check:     v.Check,
		Decision:  string(v.Decision),
		Reason:    v.Reason,
		Tool:      toolName,
		CreatedAt: time.Now(),
	}
	if err := m.store.AppendAudit(context.WithoutCancel(ctx), ev); err != nil {
		m.log.Error("appending audit event failed", "session_id", sessionID, "error", err)
	}
	m.log.Info("guardrail verdict",
		"session_id", sessionID, "stage", string(stage),
		"check", v.Check, "decision", string(v.Decision), "reason", v.Reason)
}

func (m *Machine) toolNames() string {
	defs := m.registry.List()
	names := ""
	for i, d := range defs {
		if i > 0 {
			names += ", "
		}
		names += d.Name
	}
	return names
}
