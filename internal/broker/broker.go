// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package broker simulates order execution. It backs the execute_trade tool
// and never touches a real market.
package broker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Direction is the order side.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// ParseDirection normalizes a user-supplied order side.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", basterr.Errorf(basterr.CodeBrokerOrderInvalid, "invalid direction %q", s)
	}
}

// Confirmation is the receipt for an executed order.
type Confirmation struct {
	ID        string
	Ticker    string
	Direction Direction
	Quantity  int
	Status    string
	Executed  time.Time
}

// Render formats the confirmation as a tool observation.
func (c Confirmation) Render() string {
	return fmt.Sprintf("Trade executed: %s %d %s. Confirmation ID: %s. Status: %s.",
		c.Direction, c.Quantity, c.Ticker, c.ID, c.Status)
}

// Simulator executes simulated orders and remembers its fills. Safe for
// concurrent use.
type Simulator struct {
	mu    sync.Mutex
	now   func() time.Time
	fills []Confirmation
}

// NewSimulator creates a broker simulator.
func NewSimulator() *Simulator {
	return &Simulator{now: time.Now}
}

// Execute fills an order and returns its confirmation. Ticker must be
// non-empty and quantity positive.
func (s *Simulator) Execute(ticker string, quantity int, direction Direction) (Confirmation, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return Confirmation{}, basterr.New(basterr.CodeBrokerOrderInvalid, "ticker is required")
	}
	if quantity <= 0 {
		return Confirmation{}, basterr.Errorf(basterr.CodeBrokerOrderInvalid, "quantity must be positive, got %d", quantity)
	}
	if direction != Buy && direction != Sell {
		return Confirmation{}, basterr.Errorf(basterr.CodeBrokerOrderInvalid, "invalid direction %q", direction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conf := Confirmation{
		ID:        fmt.Sprintf("trade_%d", now.Unix()),
		Ticker:    ticker,
		Direction: direction,
		Quantity:  quantity,
		Status:    "filled",
		Executed:  now,
	}
	s.fills = append(s.fills, conf)
	return conf, nil
}

// Fills returns a copy of every confirmation in execution order.
func (s *Simulator) Fills() []Confirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Confirmation, len(s.fills))
	copy(out, s.fills)
	return out
}
