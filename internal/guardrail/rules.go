// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package guardrail

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/bastion-agent/bastion/internal/session"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Severity indicates how critical a rule match is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rule is a single regex detection pattern bound to a checkpoint stage.
type Rule struct {
	Stage    Stage
	Name     string
	Pattern  *regexp.Regexp
	Severity Severity
}

// match describes one pattern hit. Offsets are byte positions into the
// normalized content.
type match struct {
	rule     string
	location int
	length   int
}

// invisibleCharReplacer strips zero-width and other invisible Unicode
// characters to reduce evasion via Unicode homoglyphs.
var invisibleCharReplacer = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // zero-width no-break space / BOM
	"\u00ad", "", // soft hyphen
	"\u2060", "", // word joiner
	"\u2062", "", // invisible times
	"\u2063", "", // invisible separator
)

// normalizeText applies NFKC normalization and strips invisible characters
// so rule patterns cannot be dodged with compatibility forms.
func normalizeText(s string) string {
	return norm.NFKC.String(invisibleCharReplacer.Replace(s))
}

// scanRules evaluates every rule for the stage against the normalized
// content and returns the hits plus the normalized string the offsets refer
// to.
func scanRules(rules []Rule, stage Stage, content string) (string, []match) {
	content = normalizeText(content)

	var hits []match
	for _, rule := range rules {
		if rule.Stage != stage {
			continue
		}
		for _, loc := range rule.Pattern.FindAllStringIndex(content, -1) {
			hits = append(hits, match{rule: rule.Name, location: loc[0], length: loc[1] - loc[0]})
		}
	}
	return content, hits
}

// validateRules rejects rule sets a checkpoint cannot run deterministically.
func validateRules(rules []Rule) error {
	for i, r := range rules {
		if r.Pattern == nil {
			return basterr.Errorf(basterr.CodeGuardrailConfigInvalid, "rule %d (%s) has nil pattern", i, r.Name)
		}
		if r.Name == "" {
			return basterr.Errorf(basterr.CodeGuardrailConfigInvalid, "rule %d has empty name", i)
		}
		if !r.Stage.Valid() {
			return basterr.Errorf(basterr.CodeGuardrailConfigInvalid, "rule %d (%s) has invalid stage %q", i, r.Name, r.Stage)
		}
	}
	return nil
}

// RuleCheck blocks content matching any of its rules. Used at the input
// stage for prompt-injection patterns.
type RuleCheck struct {
	name  string
	rules []Rule
}

// NewRuleCheck creates a blocking rule check. Fails on malformed rules so
// misconfiguration surfaces at composition time, not mid-session.
func NewRuleCheck(name string, rules []Rule) (*RuleCheck, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	return &RuleCheck{name: name, rules: rules}, nil
}

func (c *RuleCheck) Name() string { return c.name }

func (c *RuleCheck) Evaluate(_ context.Context, stage Stage, _ []session.Message, cand Candidate) (Verdict, error) {
	_, hits := scanRules(c.rules, stage, cand.content())
	if len(hits) == 0 {
		return Allow(), nil
	}
	return Block("content matched rule " + hits[0].rule), nil
}

// RedactCheck rewrites content matching its rules, replacing each matched
// region with [REDACTED]. Used at the output stage for secret and credential
// patterns: the answer is released, minus the leaked material.
type RedactCheck struct {
	name  string
	rules []Rule
}

// NewRedactCheck creates a redacting rule check.
func NewRedactCheck(name string, rules []Rule) (*RedactCheck, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	return &RedactCheck{name: name, rules: rules}, nil
}

func (c *RedactCheck) Name() string { return c.name }

func (c *RedactCheck) Evaluate(_ context.Context, stage Stage, _ []session.Message, cand Candidate) (Verdict, error) {
	normalized, hits := scanRules(c.rules, stage, cand.Text)
	if len(hits) == 0 {
		return Allow(), nil
	}
	return ModifyText("redacted "+hits[0].rule, redact(normalized, hits)), nil
}

// redact replaces matched regions with [REDACTED], merging overlapping
// ranges before substitution.
func redact(content string, hits []match) string {
	sorted := make([]match, len(hits))
	copy(sorted, hits)
	slices.SortFunc(sorted, func(a, b match) int { return a.location - b.location })

	type span struct{ start, end int }
	spans := []span{{sorted[0].location, sorted[0].location + sorted[0].length}}
	for _, m := range sorted[1:] {
		last := &spans[len(spans)-1]
		end := m.location + m.length
		if m.location <= last.end {
			if end > last.end {
				last.end = end
			}
		} else {
			spans = append(spans, span{m.location, end})
		}
	}

	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, s := range spans {
		end := min(s.end, len(content))
		b.WriteString(content[pos:s.start])
		b.WriteString("[REDACTED]")
		pos = end
	}
	b.WriteString(content[pos:])
	return b.String()
}

// InjectionRules returns the input-stage prompt-injection patterns.
func InjectionRules() []Rule {
	return []Rule{
		{
			Name:     "instruction_override",
			Pattern:  regexp.MustCompile(`(?i)(ignore|disregard|override|forget)\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`),
			Stage:    StageInput,
			Severity: SeverityHigh,
		},
		{
			Name:     "role_confusion",
			Pattern:  regexp.MustCompile(`(?i)you\s+are\s+now\s+\w+[,.]?\s*(do|ignore|forget|disregard)`),
			Stage:    StageInput,
			Severity: SeverityHigh,
		},
		{
			Name:     "system_block_injection",
			Pattern:  regexp.MustCompile(`(?i)(?:<\|?system\|?>|\[system\]|<<SYS>>)`),
			Stage:    StageInput,
			Severity: SeverityHigh,
		},
	}
}

// SecretRules returns output-stage credential leak patterns.
func SecretRules() []Rule {
	return []Rule{
		{
			Name:     "aws_access_key",
			Pattern:  regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
			Stage:    StageOutput,
			Severity: SeverityHigh,
		},
		{
			Name:     "openai_api_key",
			Pattern:  regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),
			Stage:    StageOutput,
			Severity: SeverityHigh,
		},
		{
			Name:     "bearer_token",
			Pattern:  regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`),
			Stage:    StageOutput,
			Severity: SeverityHigh,
		},
		{
			Name:     "pem_private_key",
			Pattern:  regexp.MustCompile(`-----BEGIN\s+(RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
			Stage:    StageOutput,
			Severity: SeverityHigh,
		},
	}
}
