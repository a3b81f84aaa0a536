// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"github.com/bastion-agent/bastion/internal/agent"
	"github.com/bastion-agent/bastion/internal/broker"
	"github.com/bastion-agent/bastion/internal/config"
	"github.com/bastion-agent/bastion/internal/corpus"
	"github.com/bastion-agent/bastion/internal/guardrail"
	"github.com/bastion-agent/bastion/internal/market"
	"github.com/bastion-agent/bastion/internal/oracle"
	anthropicbe "github.com/bastion-agent/bastion/internal/oracle/anthropic"
	googlebe "github.com/bastion-agent/bastion/internal/oracle/google"
	openaibe "github.com/bastion-agent/bastion/internal/oracle/openai"
	"github.com/bastion-agent/bastion/internal/store"
	"github.com/bastion-agent/bastion/internal/store/sqlite"
	"github.com/bastion-agent/bastion/internal/tool"
	"github.com/bastion-agent/bastion/internal/tool/builtin"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// defaultFiling is the filing served by query_10k_report when no corpus
// directory is configured. It deliberately contains no recall language, so
// rumor-driven trades stay uncorroborated out of the box.
const defaultFiling = `NVIDIA CORPORATION FORM 10-K
Item 1A. Risk Factors.
Demand for our products depends on continued growth in accelerated computing.
Supply constraints for advanced packaging may limit our ability to meet demand.
We have not identified any material product quality issues in the current
fiscal year. Litigation and regulatory risks are described in Item 3.
Item 7. Management's Discussion and Analysis.
Data center revenue grew year over year driven by demand for our GPU platforms.`

// Runtime holds all wired subsystems for one bastion process.
type Runtime struct {
	Driver   *agent.Driver
	Registry *tool.Registry
	Store    store.Store

	backend oracle.Backend
}

// Close releases the runtime's resources.
func (r *Runtime) Close() error {
	var errs []error
	if r.backend != nil {
		if err := r.backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return basterr.Join(errs...)
}

// Wire creates all subsystems from the configuration: storage, the research
// tool belt, the guardrail checkpoints, the reasoning backend, and the
// session driver on top.
func Wire(cfg *config.Config) (*Runtime, error) {
	st, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	guardrails, err := newGuardrails(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	backend, model, err := newBackend(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	client := oracle.NewClient(backend, model, oracle.WithMaxTokens(cfg.Oracle.MaxTokens))

	driver := agent.NewDriver(client, registry, st, agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		Guardrails:    guardrails,
		GateReadOnly:  cfg.Agent.GateReadOnly,
	})

	return &Runtime{
		Driver:   driver,
		Registry: registry,
		Store:    st,
		backend:  backend,
	}, nil
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		st, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			return nil, basterr.Wrap(err, basterr.CodeCLISetupFailure, "opening session store")
		}
		return st, nil
	}
}

func newRegistry(cfg *config.Config) (*tool.Registry, error) {
	filings := corpus.New()
	if cfg.Corpus.Dir != "" {
		if err := filings.LoadDir(cfg.Corpus.Dir); err != nil {
			return nil, basterr.Wrap(err, basterr.CodeCLISetupFailure, "loading filing corpus")
		}
	} else {
		filings.AddDocument("nvda-10k.txt", defaultFiling)
	}

	registry := tool.NewRegistry()
	if err := builtin.Register(registry, filings, market.DefaultFeed(), broker.NewSimulator()); err != nil {
		return nil, basterr.Wrap(err, basterr.CodeCLISetupFailure, "registering tools")
	}
	return registry, nil
}

// newGuardrails assembles the three checkpoints from config. Custom rule
// files carry their own stage, so one shared check joins every checkpoint
// and fires only where its rules apply.
func newGuardrails(cfg *config.Config) (guardrail.Config, error) {
	var input, preAction, output []guardrail.Check

	if len(cfg.Guardrail.Topics) > 0 {
		input = append(input, guardrail.NewTopicCheck(cfg.Guardrail.Topics...))
	}
	if cfg.Guardrail.Injection {
		check, err := guardrail.NewRuleCheck("injection", guardrail.InjectionRules())
		if err != nil {
			return guardrail.Config{}, basterr.Wrap(err, basterr.CodeCLISetupFailure, "building injection rules")
		}
		input = append(input, check)
	}

	if cfg.Guardrail.Rumor {
		rumor := guardrail.NewRumorCheck(guardrail.RumorCheckConfig{
			ActionTool:   builtin.NameExecuteTrade,
			ResearchTool: builtin.NameQueryReport,
		})
		preAction = append(preAction, rumor)
		output = append(output, rumor)
	}

	if cfg.Guardrail.Secrets {
		check, err := guardrail.NewRedactCheck("secrets", guardrail.SecretRules())
		if err != nil {
			return guardrail.Config{}, basterr.Wrap(err, basterr.CodeCLISetupFailure, "building secret rules")
		}
		output = append(output, check)
	}

	var custom []guardrail.Rule
	for _, path := range cfg.Guardrail.RuleFiles {
		rules, err := guardrail.LoadRules(path)
		if err != nil {
			return guardrail.Config{}, err
		}
		custom = append(custom, rules...)
	}
	if len(custom) > 0 {
		check, err := guardrail.NewRuleCheck("custom_rules", custom)
		if err != nil {
			return guardrail.Config{}, basterr.Wrap(err, basterr.CodeCLISetupFailure, "building custom rules")
		}
		input = append(input, check)
		preAction = append(preAction, check)
		output = append(output, check)
	}

	return guardrail.Config{
		Input:     guardrail.NewCheckpoint(input...),
		PreAction: guardrail.NewCheckpoint(preAction...),
		Output:    guardrail.NewCheckpoint(output...),
	}, nil
}

func newBackend(cfg *config.Config) (oracle.Backend, string, error) {
	provider, model, err := config.ParseModel(cfg.Oracle.Model)
	if err != nil {
		return nil, "", err
	}
	creds := cfg.Providers[provider]

	var backend oracle.Backend
	switch provider {
	case "anthropic":
		backend, err = anthropicbe.New(anthropicbe.Config{APIKey: creds.APIKey, BaseURL: creds.Endpoint})
	case "openai":
		backend, err = openaibe.New(openaibe.Config{APIKey: creds.APIKey, BaseURL: creds.Endpoint})
	case "google":
		backend, err = googlebe.New(googlebe.Config{APIKey: creds.APIKey})
	default:
		return nil, "", basterr.Errorf(basterr.CodeOracleNotConfigured,
			"unknown provider %q, expected one of [anthropic, openai, google]", provider)
	}
	if err != nil {
		return nil, "", err
	}
	return backend, model, nil
}
