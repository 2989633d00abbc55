// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docentlab/docent/datatypes"
)

func TestAcceptRewrite(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		rewritten string
		want      bool
	}{
		{"good rewrite", "paid leave days count", "how many paid leave days per year", true},
		{"empty", "leave days", "", false},
		{"identical", "leave days", "leave days", false},
		{"identical modulo case and spacing", "Leave  Days", "leave days", false},
		{"too long", "ok", strings.Repeat("x", 10), false},
		{"exactly double is fine", "abcd", "abcdabcd", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, acceptRewrite(tc.current, tc.rewritten))
		})
	}
}

func TestRewriteQuery(t *testing.T) {
	t.Run("accepts a clearer query", func(t *testing.T) {
		p := newTestPipeline(t, &fakeLLM{rewrite: "annual paid vacation day allowance"})
		st := &State{OriginalQuery: "how many days off do we get", SearchQuery: "how many days off do we get"}

		require.NoError(t, p.rewriteQuery(context.Background(), st))
		assert.Equal(t, "annual paid vacation day allowance", st.SearchQuery)
		assert.Equal(t, "how many days off do we get", st.OriginalQuery)
	})

	t.Run("strips quotes", func(t *testing.T) {
		p := newTestPipeline(t, &fakeLLM{rewrite: `"vacation allowance"`})
		st := &State{OriginalQuery: "vacation days", SearchQuery: "vacation days"}

		require.NoError(t, p.rewriteQuery(context.Background(), st))
		assert.Equal(t, "vacation allowance", st.SearchQuery)
	})

	t.Run("rejects identical rewrite", func(t *testing.T) {
		p := newTestPipeline(t, &fakeLLM{rewrite: "days off"})
		st := &State{OriginalQuery: "days off", SearchQuery: "days off"}

		require.NoError(t, p.rewriteQuery(context.Background(), st))
		assert.Equal(t, "days off", st.SearchQuery)
	})

	t.Run("rejects runaway rewrite", func(t *testing.T) {
		p := newTestPipeline(t, &fakeLLM{rewrite: strings.Repeat("vacation ", 20)})
		st := &State{OriginalQuery: "days off", SearchQuery: "days off"}

		require.NoError(t, p.rewriteQuery(context.Background(), st))
		assert.Equal(t, "days off", st.SearchQuery)
	})
}

func TestFailedDocSnippets(t *testing.T) {
	assert.Empty(t, failedDocSnippets(nil))

	docs := []datatypes.Document{
		{Text: "first\ndocument"},
		{Text: "second"},
		{Text: "third"},
		{Text: "fourth never shown"},
	}
	snippets := failedDocSnippets(docs)
	assert.Contains(t, snippets, "first document")
	assert.Contains(t, snippets, "third")
	assert.NotContains(t, snippets, "fourth")
}
