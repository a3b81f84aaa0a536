// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package config loads and validates the Bastion configuration from file,
// environment (prefix BASTION_), and defaults.
package config

import (
	"errors"
	"net"
	"strings"

	"github.com/spf13/viper"

	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Config is the top-level Bastion configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Oracle    OracleConfig              `mapstructure:"oracle"`
	Agent     AgentConfig               `mapstructure:"agent"`
	Guardrail GuardrailConfig           `mapstructure:"guardrail"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Corpus    CorpusConfig              `mapstructure:"corpus"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// OracleConfig selects the reasoning backend as "provider/model".
type OracleConfig struct {
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// AgentConfig tunes the state machine.
type AgentConfig struct {
	MaxIterations int  `mapstructure:"max_iterations"`
	GateReadOnly  bool `mapstructure:"gate_read_only"`
}

// GuardrailConfig selects which built-in checks run.
type GuardrailConfig struct {
	// Topics restricts input goals to these keywords. Empty allows all.
	Topics []string `mapstructure:"topics"`
	// Injection enables the input-stage prompt injection rules.
	Injection bool `mapstructure:"injection"`
	// Rumor enables the 10-K corroboration check at pre_action and output.
	Rumor bool `mapstructure:"rumor"`
	// Secrets enables output-stage credential redaction.
	Secrets bool `mapstructure:"secrets"`
	// RuleFiles lists YAML files with additional blocking rules.
	RuleFiles []string `mapstructure:"rule_files"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `mapstructure:"backend"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
}

// CorpusConfig points at the filing documents served by query_10k_report.
type CorpusConfig struct {
	// Dir holds the filing text files. Empty runs with the built-in
	// fixture document.
	Dir string `mapstructure:"dir"`
}

// ParseModel splits a "provider/model" spec.
func ParseModel(spec string) (provider, model string, err error) {
	provider, model, ok := strings.Cut(spec, "/")
	if !ok || provider == "" || model == "" {
		return "", "", basterr.Errorf(basterr.CodeConfigValidateInvalidValue,
			"oracle.model must be provider/model, got %q", spec)
	}
	return provider, model, nil
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix BASTION_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.listen", "127.0.0.1:8690")
	v.SetDefault("oracle.model", "google/gemini-2.5-flash")
	v.SetDefault("oracle.max_tokens", 4096)
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.gate_read_only", false)
	v.SetDefault("guardrail.injection", true)
	v.SetDefault("guardrail.rumor", true)
	v.SetDefault("guardrail.secrets", true)
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "bastion.db")

	// Environment
	v.SetEnvPrefix("BASTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, basterr.Errorf(basterr.CodeConfigLoadReadFailure,
				"reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, basterr.Errorf(basterr.CodeConfigParseInvalidFormat,
			"unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, basterr.Errorf(basterr.CodeConfigValidateInvalidValue,
			"validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting every
// issue rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
			errs = append(errs, basterr.Errorf(basterr.CodeConfigValidateInvalidValue,
				"config: server.listen must be host:port, got %q", c.Server.Listen))
		}
	}

	if _, _, err := ParseModel(c.Oracle.Model); err != nil {
		errs = append(errs, err)
	}
	if c.Oracle.MaxTokens < 0 {
		errs = append(errs, basterr.Errorf(basterr.CodeConfigValidateInvalidValue,
			"config: oracle.max_tokens must be non-negative, got %d", c.Oracle.MaxTokens))
	}

	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, basterr.Errorf(basterr.CodeConfigValidateInvalidValue,
			"config: agent.max_iterations must be positive, got %d", c.Agent.MaxIterations))
	}

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, basterr.New(basterr.CodeConfigValidateInvalidValue,
				"config: storage.path is required for the sqlite backend"))
		}
	case "memory":
	default:
		errs = append(errs, basterr.Errorf(basterr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q", c.Storage.Backend))
	}

	return errs
}
