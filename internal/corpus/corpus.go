// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package corpus loads filing documents from disk and serves keyword
// searches over them. It backs the query_10k_report tool.
package corpus

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// snippetRadius is how much context surrounds a keyword hit, in bytes.
const snippetRadius = 500

// Document is one loaded filing.
type Document struct {
	Name string
	Text string
}

// Corpus holds loaded documents and answers keyword queries. Safe for
// concurrent readers once loaded.
type Corpus struct {
	mu   sync.RWMutex
	docs []Document
}

// New returns an empty corpus.
func New() *Corpus {
	return &Corpus{}
}

// LoadFile reads a single document into the corpus.
func (c *Corpus) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return basterr.Wrap(err, basterr.CodeCorpusLoadFailure,
			"read document", basterr.Field("path", path))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, Document{Name: filepath.Base(path), Text: string(data)})
	return nil
}

// LoadDir reads every regular file in dir (non-recursive) into the corpus,
// in lexical order so searches are deterministic across runs.
func (c *Corpus) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return basterr.Wrap(err, basterr.CodeCorpusLoadFailure,
			"read corpus directory", basterr.Field("path", dir))
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := c.LoadFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// AddDocument inserts an in-memory document. Used by tests and fixtures.
func (c *Corpus) AddDocument(name, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, Document{Name: name, Text: text})
}

// Len reports the number of loaded documents.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Search scans the corpus for the keyword, case-insensitively, and returns
// a snippet of up to snippetRadius bytes either side of the first hit. The
// returned string is the full tool observation, including the hit/miss
// preamble, so callers can hand it straight to the session history.
func (c *Corpus) Search(keyword string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.docs) == 0 {
		return "", basterr.New(basterr.CodeCorpusNotLoaded, "no documents loaded")
	}

	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return "No direct match found in the 10-K report for that query.", nil
	}

	for _, doc := range c.docs {
		idx := strings.Index(strings.ToLower(doc.Text), needle)
		if idx < 0 {
			continue
		}

		start := idx - snippetRadius
		if start < 0 {
			start = 0
		}
		end := idx + len(needle) + snippetRadius
		if end > len(doc.Text) {
			end = len(doc.Text)
		}
		return "Found relevant section in 10-K report: ..." + doc.Text[start:end] + "...", nil
	}
	return "No direct match found in the 10-K report for that query.", nil
}
