// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bastion-agent/bastion/internal/session"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run one agent session for a research goal",
		Long:  "Start a session with the given goal, drive it to a terminal state, and print the transcript.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().Bool("audit", false, "print the guardrail audit trail after the transcript")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	goal := strings.TrimSpace(strings.Join(args, " "))
	if goal == "" {
		return basterr.New(basterr.CodeCLIInputInvalid, "goal must not be empty")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rt, err := Wire(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := rt.Driver.Run(ctx, goal)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printTranscript(out, sess)

	if audit, _ := cmd.Flags().GetBool("audit"); audit {
		events, err := rt.Driver.Audit(context.Background(), sess.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		if len(events) == 0 {
			fmt.Fprintln(out, "No guardrail interventions.")
		}
		for _, ev := range events {
			fmt.Fprintf(out, "[%s] %s/%s: %s (%s)\n", ev.Decision, ev.Stage, ev.Check, ev.Reason, ev.Tool)
		}
	}

	if sess.Status != session.StatusCompleted {
		return basterr.Errorf(basterr.CodeCLIInputInvalid,
			"session %s ended %s: %s", sess.ID, sess.Status, sess.StatusReason)
	}
	return nil
}

func printTranscript(out io.Writer, sess *session.Session) {
	for _, msg := range sess.History {
		switch msg.Role {
		case session.RoleUser:
			fmt.Fprintf(out, "You: %s\n", msg.Content)
		case session.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				for _, tc := range msg.ToolCalls {
					fmt.Fprintf(out, "Agent -> %s(%s)\n", tc.Name, compactArgs(tc.Arguments))
				}
				continue
			}
			fmt.Fprintf(out, "Agent: %s\n", msg.Content)
		case session.RoleToolResult:
			fmt.Fprintf(out, "  [%s] %s\n", msg.ToolName, msg.Content)
		case session.RoleSystemNotice:
			fmt.Fprintf(out, "  (notice) %s\n", msg.Content)
		}
	}
	fmt.Fprintf(out, "\nSession %s: %s after %d iteration(s)\n", sess.ID, sess.Status, sess.Iterations)
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, ", ")
}
