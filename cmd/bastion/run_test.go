// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompactArgsIsDeterministic(t *testing.T) {
	args := map[string]any{"ticker": "NVDA", "quantity": 100, "direction": "sell"}
	want := "direction=sell, quantity=100, ticker=NVDA"

	// Map iteration order must not leak into transcripts.
	for range 20 {
		assert.Equal(t, want, compactArgs(args))
	}

	assert.Empty(t, compactArgs(nil))
}
