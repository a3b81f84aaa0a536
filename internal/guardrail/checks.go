// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package guardrail

import (
	"context"
	"regexp"
	"strings"

	"github.com/bastion-agent/bastion/internal/session"
)

// TopicCheck keeps the agent on its research mandate: input goals must touch
// at least one of the configured topic keywords. An empty keyword list
// disables the filter.
type TopicCheck struct {
	keywords []string
}

// NewTopicCheck creates a topical input filter over the given keywords,
// matched case-insensitively.
func NewTopicCheck(keywords ...string) *TopicCheck {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		lowered = append(lowered, strings.ToLower(k))
	}
	return &TopicCheck{keywords: lowered}
}

func (c *TopicCheck) Name() string { return "topic_filter" }

func (c *TopicCheck) Evaluate(_ context.Context, stage Stage, _ []session.Message, cand Candidate) (Verdict, error) {
	if stage != StageInput || len(c.keywords) == 0 {
		return Allow(), nil
	}

	lowered := strings.ToLower(cand.Text)
	for _, k := range c.keywords {
		if strings.Contains(lowered, k) {
			return Allow(), nil
		}
	}
	return Block("goal is outside the agent's research scope"), nil
}

// tradeIntentPattern recognizes final answers that commit to a market
// action, used by RumorCheck at the output stage.
var tradeIntentPattern = regexp.MustCompile(`(?i)\b(sell|sold|buy|bought|execute[d]?|trade[d]?|short)\b`)

// RumorCheckConfig names the tools RumorCheck cross-references in history.
type RumorCheckConfig struct {
	// ActionTool is the side-effecting tool the check guards, e.g.
	// "execute_trade".
	ActionTool string
	// ResearchTool is the tool whose successful results count as primary
	// source corroboration, e.g. "query_10k_report".
	ResearchTool string
	// RumorPattern matches unverified claims in tool results. Defaults to
	// rumor/unconfirmed language.
	RumorPattern *regexp.Regexp
	// CorroborationPattern matches a successful research result. Defaults
	// to the corpus search hit prefix.
	CorroborationPattern *regexp.Regexp
}

// RumorCheck enforces the verify-against-primary-source rule. At the
// pre_action stage it blocks the action tool whenever the session has
// observed an unverified rumor and no corroborating research result. At the
// output stage it blocks final answers that commit to a trade under the same
// uncorroborated conditions.
type RumorCheck struct {
	cfg RumorCheckConfig
}

// NewRumorCheck creates the primary-source corroboration check.
func NewRumorCheck(cfg RumorCheckConfig) *RumorCheck {
	if cfg.RumorPattern == nil {
		cfg.RumorPattern = regexp.MustCompile(`(?i)\b(rumor|rumour|unconfirmed|unverified)\b`)
	}
	if cfg.CorroborationPattern == nil {
		cfg.CorroborationPattern = regexp.MustCompile(`(?i)found relevant section`)
	}
	return &RumorCheck{cfg: cfg}
}

func (c *RumorCheck) Name() string { return "rumor_corroboration" }

func (c *RumorCheck) Evaluate(_ context.Context, stage Stage, history []session.Message, cand Candidate) (Verdict, error) {
	switch stage {
	case StagePreAction:
		if cand.Call == nil || cand.Call.Name != c.cfg.ActionTool {
			return Allow(), nil
		}
		if c.rumorObserved(history) && !c.corroborated(history) {
			return Block("no 10-K corroboration for rumor"), nil
		}
		return Allow(), nil

	case StageOutput:
		if !tradeIntentPattern.MatchString(cand.Text) {
			return Allow(), nil
		}
		if c.rumorObserved(history) && !c.corroborated(history) {
			return Block("no 10-K corroboration for rumor"), nil
		}
		return Allow(), nil

	default:
		return Allow(), nil
	}
}

// rumorObserved reports whether any tool result in history carried
// unverified-rumor language.
func (c *RumorCheck) rumorObserved(history []session.Message) bool {
	for _, m := range history {
		if m.Role == session.RoleToolResult && c.cfg.RumorPattern.MatchString(m.Content) {
			return true
		}
	}
	return false
}

// corroborated reports whether the research tool produced a successful
// primary-source match.
func (c *RumorCheck) corroborated(history []session.Message) bool {
	for _, m := range history {
		if m.Role == session.RoleToolResult && m.ToolName == c.cfg.ResearchTool &&
			c.cfg.CorroborationPattern.MatchString(m.Content) {
			return true
		}
	}
	return false
}
