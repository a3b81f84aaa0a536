// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package builtin provides the stock research toolset: filing search,
// market data, and simulated trade execution.
package builtin

import (
	"context"

	"github.com/bastion-agent/bastion/internal/broker"
	"github.com/bastion-agent/bastion/internal/corpus"
	"github.com/bastion-agent/bastion/internal/market"
	"github.com/bastion-agent/bastion/internal/tool"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Tool names, referenced by guardrail configuration.
const (
	NameQueryReport   = "query_10k_report"
	NameGetMarketData = "get_market_data"
	NameExecuteTrade  = "execute_trade"
)

// QueryReport searches the loaded 10-K corpus for a keyword.
func QueryReport(c *corpus.Corpus) tool.Definition {
	return tool.Definition{
		Name:        NameQueryReport,
		Description: "Search the company's latest 10-K report for a keyword and return the surrounding section.",
		Risk:        tool.RiskReadOnly,
		Params: []tool.Param{
			{Name: "query", Type: tool.TypeString, Description: "Keyword or phrase to search for.", Required: true},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			return c.Search(query)
		},
	}
}

// GetMarketData returns the current snapshot and headlines for a ticker.
func GetMarketData(feed market.Feed) tool.Definition {
	return tool.Definition{
		Name:        NameGetMarketData,
		Description: "Get the current price, daily change, and latest headlines for a stock ticker.",
		Risk:        tool.RiskReadOnly,
		Params: []tool.Param{
			{Name: "ticker", Type: tool.TypeString, Description: "Stock ticker symbol, e.g. NVDA.", Required: true},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			ticker, _ := args["ticker"].(string)
			snap, ok := feed.Fetch(ticker)
			if !ok {
				return "No market data available for ticker " + ticker + ".", nil
			}
			return snap.Render(), nil
		},
	}
}

// ExecuteTrade places a simulated order. The only side-effecting tool in
// the set, so it is gated by the pre_action checkpoint.
func ExecuteTrade(sim *broker.Simulator) tool.Definition {
	return tool.Definition{
		Name:        NameExecuteTrade,
		Description: "Execute a simulated stock trade and return the confirmation.",
		Risk:        tool.RiskSideEffect,
		Params: []tool.Param{
			{Name: "ticker", Type: tool.TypeString, Description: "Stock ticker symbol.", Required: true},
			{Name: "quantity", Type: tool.TypeInteger, Description: "Number of shares.", Required: true},
			{Name: "direction", Type: tool.TypeString, Description: "Order side.", Required: true, Enum: []string{"buy", "sell"}},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			ticker, _ := args["ticker"].(string)
			direction, _ := args["direction"].(string)

			qty, ok := intArg(args["quantity"])
			if !ok {
				return "", basterr.New(basterr.CodeBrokerOrderInvalid, "quantity must be an integer")
			}
			dir, err := broker.ParseDirection(direction)
			if err != nil {
				return "", err
			}

			conf, err := sim.Execute(ticker, qty, dir)
			if err != nil {
				return "", err
			}
			return conf.Render(), nil
		},
	}
}

// Register adds the full builtin toolset to the registry.
func Register(reg *tool.Registry, c *corpus.Corpus, feed market.Feed, sim *broker.Simulator) error {
	for _, def := range []tool.Definition{QueryReport(c), GetMarketData(feed), ExecuteTrade(sim)} {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func intArg(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), n == float64(int(n))
	default:
		return 0, false
	}
}
