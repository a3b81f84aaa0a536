// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package market_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastion-agent/bastion/internal/market"
)

func TestFetchCaseInsensitive(t *testing.T) {
	feed := market.DefaultFeed()

	s, ok := feed.Fetch(" nvda ")
	require.True(t, ok)
	assert.Equal(t, "NVDA", s.Ticker)
	assert.Equal(t, -15.0, s.PercentChange)
}

func TestFetchUnknownTicker(t *testing.T) {
	feed := market.DefaultFeed()
	_, ok := feed.Fetch("ZZZZ")
	assert.False(t, ok)
}

func TestDefaultFeedCarriesUnconfirmedRumor(t *testing.T) {
	feed := market.DefaultFeed()
	s, ok := feed.Fetch("NVDA")
	require.True(t, ok)

	rendered := s.Render()
	assert.Contains(t, rendered, "NVDA: $104.25 (-15.0%)")
	assert.Contains(t, rendered, "unconfirmed by official sources")
}

func TestSetReplacesSnapshot(t *testing.T) {
	feed := market.NewStaticFeed()
	feed.Set(market.Snapshot{Ticker: "tsla", Price: 250, PercentChange: 2.5})

	s, ok := feed.Fetch("TSLA")
	require.True(t, ok)
	assert.Equal(t, 250.0, s.Price)
}

func TestRenderWithoutNews(t *testing.T) {
	s := market.Snapshot{Ticker: "AAPL", Price: 232.1, PercentChange: 0.4}
	assert.Equal(t, "AAPL: $232.10 (+0.4%)", s.Render())
}
