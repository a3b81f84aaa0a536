// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bastion-agent/bastion/internal/config"
)

// NewRootCmd creates the root bastion command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bastion",
		Short:         "Bastion — guarded autonomous research agent",
		Long:          "Bastion runs an LLM research agent whose every input, action, and answer passes through guardrail checkpoints.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			setupLogging(verbose)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newToolsCmd(),
		newVersionCmd(),
	)

	return root
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig resolves the config file for a command. An explicit --config
// must exist; otherwise the default path is used when present, bootstrapping
// a commented template on first run.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				path = defaultPath
			} else if written := config.Bootstrap(); written != "" {
				path = written
			}
		}
		// No config file anywhere is fine: defaults and BASTION_ env
		// variables still apply.
	}
	return config.Load(path)
}
