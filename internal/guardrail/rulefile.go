// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package guardrail

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// ruleFile is the YAML document shape for user-defined rules.
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Name     string `yaml:"name"`
	Stage    string `yaml:"stage"`
	Pattern  string `yaml:"pattern"`
	Severity string `yaml:"severity"`
}

// LoadRules reads user-defined detection rules from a YAML file. Each entry
// carries a name, a stage (input, pre_action, output), a regex pattern, and
// an optional severity (defaults to medium).
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, basterr.Wrap(err, basterr.CodeGuardrailConfigInvalid,
			"reading rule file", basterr.Field("path", path))
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, basterr.Wrap(err, basterr.CodeGuardrailConfigInvalid,
			"parsing rule file", basterr.Field("path", path))
	}

	rules := make([]Rule, 0, len(file.Rules))
	for i, spec := range file.Rules {
		pattern, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, basterr.Wrapf(err, basterr.CodeGuardrailConfigInvalid,
				"rule %d (%s) has invalid pattern", i, spec.Name)
		}
		severity := Severity(spec.Severity)
		if severity == "" {
			severity = SeverityMedium
		}
		rules = append(rules, Rule{
			Name:     spec.Name,
			Stage:    Stage(spec.Stage),
			Pattern:  pattern,
			Severity: severity,
		})
	}

	if err := validateRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}
