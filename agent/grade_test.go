// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docentlab/docent/datatypes"
)

func TestParseGradeVerdicts(t *testing.T) {
	t.Run("plain array", func(t *testing.T) {
		verdicts, err := parseGradeVerdicts(`[{"doc_id": 0, "relevant": true, "confidence": 0.9, "reason": "on topic"}]`)
		require.NoError(t, err)
		require.Len(t, verdicts, 1)
		assert.True(t, verdicts[0].Relevant)
		assert.InDelta(t, 0.9, verdicts[0].Confidence, 1e-9)
	})

	t.Run("markdown fenced", func(t *testing.T) {
		raw := "```json\n[{\"doc_id\": 0, \"relevant\": false, \"confidence\": 0.2, \"reason\": \"off topic\"}]\n```"
		verdicts, err := parseGradeVerdicts(raw)
		require.NoError(t, err)
		require.Len(t, verdicts, 1)
		assert.False(t, verdicts[0].Relevant)
	})

	t.Run("surrounding prose", func(t *testing.T) {
		raw := `Here is my assessment:
[{"doc_id": 1, "relevant": true, "confidence": 0.7, "reason": "partial"}]
Hope that helps.`
		verdicts, err := parseGradeVerdicts(raw)
		require.NoError(t, err)
		require.Len(t, verdicts, 1)
		assert.Equal(t, 1, verdicts[0].DocID)
	})

	t.Run("no array", func(t *testing.T) {
		_, err := parseGradeVerdicts("I cannot grade these documents.")
		require.Error(t, err)
	})

	t.Run("broken json", func(t *testing.T) {
		_, err := parseGradeVerdicts(`[{"doc_id": oops}]`)
		require.Error(t, err)
	})
}

func TestGradeDocuments(t *testing.T) {
	docs := []datatypes.Document{
		{ID: "a", Text: "vacation policy details"},
		{ID: "b", Text: "office floor plan"},
		{ID: "c", Text: "leave request workflow"},
	}

	t.Run("keeps relevant above threshold", func(t *testing.T) {
		p := newTestPipeline(t, &fakeLLM{grade: `[
			{"doc_id": 0, "relevant": true, "confidence": 0.9, "reason": "direct match"},
			{"doc_id": 1, "relevant": false, "confidence": 0.8, "reason": "unrelated"},
			{"doc_id": 2, "relevant": true, "confidence": 0.4, "reason": "weak"}
		]`})
		st := &State{OriginalQuery: "vacation policy", Documents: append([]datatypes.Document(nil), docs...)}

		kept, warnings, err := p.gradeDocuments(context.Background(), st)
		require.NoError(t, err)
		assert.Empty(t, warnings)
		require.Len(t, kept, 1)
		assert.Equal(t, "a", kept[0].ID)

		// confidence exactly at the threshold keeps the document
		assert.True(t, st.Documents[0].GradingRelevant)
		assert.False(t, st.Documents[1].GradingRelevant)
		assert.InDelta(t, 0.4, st.Documents[2].GradingConfidence, 1e-9)
	})

	t.Run("threshold boundary", func(t *testing.T) {
		p := newTestPipeline(t, &fakeLLM{grade: `[{"doc_id": 0, "relevant": true, "confidence": 0.5, "reason": "borderline"}]`})
		st := &State{OriginalQuery: "q", Documents: docs[:1]}

		kept, _, err := p.gradeDocuments(context.Background(), st)
		require.NoError(t, err)
		assert.Len(t, kept, 1)
	})

	t.Run("missing ids default to irrelevant", func(t *testing.T) {
		p := newTestPipeline(t, &fakeLLM{grade: `[{"doc_id": 0, "relevant": true, "confidence": 0.9, "reason": "ok"}]`})
		st := &State{OriginalQuery: "q", Documents: append([]datatypes.Document(nil), docs...)}

		kept, warnings, err := p.gradeDocuments(context.Background(), st)
		require.NoError(t, err)
		assert.Empty(t, warnings)
		require.Len(t, kept, 1)
		assert.Equal(t, "missing", st.Documents[1].GradingReason)
		assert.Zero(t, st.Documents[1].GradingConfidence)
	})

	t.Run("parse failure keeps everything", func(t *testing.T) {
		p := newTestPipeline(t, &fakeLLM{grade: "sorry, I refuse"})
		st := &State{OriginalQuery: "q", Documents: append([]datatypes.Document(nil), docs...)}

		kept, warnings, err := p.gradeDocuments(context.Background(), st)
		require.NoError(t, err)
		assert.Equal(t, []string{datatypes.WarnGraderParseFailure}, warnings)
		require.Len(t, kept, 3)
		for _, doc := range kept {
			assert.True(t, doc.GradingRelevant)
			assert.InDelta(t, 0.5, doc.GradingConfidence, 1e-9)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		p := newTestPipeline(t, &fakeLLM{})
		kept, warnings, err := p.gradeDocuments(context.Background(), &State{OriginalQuery: "q"})
		require.NoError(t, err)
		assert.Empty(t, kept)
		assert.Empty(t, warnings)
	})
}

func TestBuildGradingPrompt(t *testing.T) {
	long := make([]rune, 600)
	for i := range long {
		long[i] = 'x'
	}
	docs := []datatypes.Document{
		{ID: "a", Text: "short text"},
		{ID: "b", Text: string(long)},
	}
	prompt := buildGradingPrompt("my query", docs)
	assert.Contains(t, prompt, "my query")
	assert.Contains(t, prompt, "Document 0:")
	assert.Contains(t, prompt, "Document 1:")
	// long documents are previewed, not included whole
	assert.NotContains(t, prompt, string(long))
	assert.Contains(t, prompt, string(long[:500])+"...")
}
