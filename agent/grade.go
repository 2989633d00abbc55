// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docentlab/docent/backoff"
	"github.com/docentlab/docent/datatypes"
	"github.com/docentlab/docent/llm"
)

// gradeConfidenceThreshold is the cut for keeping a graded document.
const gradeConfidenceThreshold = 0.5

// gradePreviewChars truncates each document in the grading prompt.
const gradePreviewChars = 500

type gradeVerdict struct {
	DocID      int     `json:"doc_id"`
	Relevant   bool    `json:"relevant"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// gradeDocuments runs the single batch grading call over the reranked
// set and returns the kept subset.
//
// One round-trip grades all documents regardless of count; a
// per-document loop is deliberately avoided. A malformed model response
// keeps every document at confidence 0.5 with the grader_parse_failure
// warning so recall survives model misbehaviour.
func (p *Pipeline) gradeDocuments(ctx context.Context, st *State) ([]datatypes.Document, []string, error) {
	if len(st.Documents) == 0 {
		return nil, nil, nil
	}

	prompt := buildGradingPrompt(st.OriginalQuery, st.Documents)
	messages := []datatypes.Message{
		{Role: datatypes.RoleUser, Content: prompt},
	}

	var completion *llm.Completion
	err := backoff.RetryDefault(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.GradeTimeout)
		defer cancel()
		var callErr error
		completion, callErr = p.llm.Chat(callCtx, messages, llm.GenerationParams{
			Temperature: llm.Float(0.0),
			MaxTokens:   llm.Int(1024),
		})
		return callErr
	})
	if err != nil {
		return nil, nil, datatypes.NewPipelineError(datatypes.ErrCategoryLLMUnavailable,
			"relevance grading unavailable", err)
	}
	p.countTokens(completion)

	verdicts, parseErr := parseGradeVerdicts(completion.Text)
	if parseErr != nil {
		p.logger.Warn("Grader returned unparseable output, keeping all documents",
			"thread_id", st.ThreadID, "error", parseErr)
		kept := make([]datatypes.Document, len(st.Documents))
		copy(kept, st.Documents)
		for i := range kept {
			kept[i].GradingRelevant = true
			kept[i].GradingConfidence = 0.5
			kept[i].GradingReason = "grader output unparseable"
		}
		st.Documents = kept
		return kept, []string{datatypes.WarnGraderParseFailure}, nil
	}

	byID := make(map[int]gradeVerdict, len(verdicts))
	for _, v := range verdicts {
		byID[v.DocID] = v
	}

	graded := make([]datatypes.Document, len(st.Documents))
	copy(graded, st.Documents)
	var kept []datatypes.Document
	for i := range graded {
		verdict, ok := byID[i]
		if !ok {
			verdict = gradeVerdict{DocID: i, Relevant: false, Confidence: 0, Reason: "missing"}
		}
		graded[i].GradingRelevant = verdict.Relevant
		graded[i].GradingConfidence = clamp01(verdict.Confidence)
		graded[i].GradingReason = verdict.Reason
		if graded[i].GradingRelevant && graded[i].GradingConfidence >= gradeConfidenceThreshold {
			kept = append(kept, graded[i])
		}
	}
	st.Documents = graded
	return kept, nil, nil
}

func buildGradingPrompt(query string, docs []datatypes.Document) string {
	var sb strings.Builder
	for i, doc := range docs {
		preview := doc.Text
		if runes := []rune(preview); len(runes) > gradePreviewChars {
			preview = string(runes[:gradePreviewChars]) + "..."
		}
		fmt.Fprintf(&sb, "Document %d:\n%s\n\n", i, preview)
	}
	return fmt.Sprintf(gradingPromptTemplate, query, strings.TrimRight(sb.String(), "\n"))
}

// parseGradeVerdicts extracts the JSON array from the model output,
// tolerating markdown fences and surrounding prose.
func parseGradeVerdicts(raw string) ([]gradeVerdict, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in grader output")
	}

	var verdicts []gradeVerdict
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &verdicts); err != nil {
		return nil, fmt.Errorf("decode grader output: %w", err)
	}
	return verdicts, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
