// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package agent

import (
	"context"

	"github.com/bastion-agent/bastion/internal/oracle"
	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/store"
	"github.com/bastion-agent/bastion/internal/tool"
)

// Driver is the session-level facade: one Run call per goal, plus read
// access to persisted sessions and their audit trail. Safe for concurrent
// Run calls; each run gets its own machine.
type Driver struct {
	oracle   oracle.Oracle
	registry *tool.Registry
	store    store.Store
	cfg      Config
}

// NewDriver assembles a driver. The store may be nil for ephemeral runs.
func NewDriver(o oracle.Oracle, reg *tool.Registry, st store.Store, cfg Config) *Driver {
	if st == nil {
		st = store.NewMemoryStore()
	}
	return &Driver{oracle: o, registry: reg, store: st, cfg: cfg}
}

// Run drives a fresh session from goal to terminal status.
func (d *Driver) Run(ctx context.Context, goal string) (*session.Session, error) {
	m := NewMachine(d.oracle, d.registry, d.store, d.cfg)
	return m.Run(ctx, goal)
}

// Get loads a persisted session.
func (d *Driver) Get(ctx context.Context, id string) (*session.Session, error) {
	return d.store.GetSession(ctx, id)
}

// List returns persisted sessions, newest first.
func (d *Driver) List(ctx context.Context, limit, offset int) ([]*session.Session, error) {
	return d.store.ListSessions(ctx, limit, offset)
}

// Audit returns a session's guardrail audit events in append order.
func (d *Driver) Audit(ctx context.Context, sessionID string) ([]store.AuditEvent, error) {
	return d.store.ListAudit(ctx, sessionID)
}
