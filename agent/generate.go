// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"

	"github.com/docentlab/docent/backoff"
	"github.com/docentlab/docent/datatypes"
	"github.com/docentlab/docent/guardrails"
	"github.com/docentlab/docent/llm"
	"github.com/docentlab/docent/tokenizer"
)

// generateAnswer packs the kept documents into the model budget, calls
// the generator and validates the output. The generator always answers
// the original query, never the rewritten search query.
func (p *Pipeline) generateAnswer(ctx context.Context, st *State) error {
	queryClass := ClassifyQuery(st.OriginalQuery)
	systemPrompt := BuildSystemPrompt(st.Language, queryClass, st.Runtime)

	docs := st.Kept
	pack := tokenizer.Pack(p.llm.Model(), docs, st.OriginalQuery, systemPrompt, st.History)

	messages := make([]datatypes.Message, 0, len(st.History)+3)
	messages = append(messages, datatypes.NewMessage(datatypes.RoleSystem, systemPrompt))
	messages = append(messages, st.History...)
	messages = append(messages, datatypes.NewMessage(datatypes.RoleUser, st.OriginalQuery))
	if pack.Context != "" {
		messages = append(messages,
			datatypes.NewMessage(datatypes.RoleUser, "Source passages:\n\n"+pack.Context))
	}

	params := llm.GenerationParams{Temperature: llm.Float(0.2)}
	var completion *llm.Completion
	err := backoff.RetryDefault(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
		defer cancel()
		var callErr error
		completion, callErr = p.llm.Chat(callCtx, messages, params)
		return callErr
	})
	if err != nil {
		return datatypes.NewPipelineError(datatypes.ErrCategoryLLMUnavailable,
			"answer generation unavailable", err)
	}
	p.countTokens(completion)

	validated, err := guardrails.ValidateOutput(completion.Text, pack.Included,
		st.Runtime.CitationsEnabled(), p.cfg.StrictOutputGuardrails)
	if err != nil {
		return err
	}

	st.Answer = validated.Answer
	st.Sources = sourcesFrom(pack.Included)

	budget := tokenizer.BudgetFor(p.llm.Model())
	st.Meta.ModelName = p.llm.Model()
	st.Meta.ContextWindow = budget.Window
	st.Meta.TokensReserved = budget.Reserve
	st.Meta.TokensInput = pack.TokensInput
	st.Meta.TokensOutput = completion.OutputTokens
	if st.Meta.TokensOutput == 0 {
		st.Meta.TokensOutput = tokenizer.EstimateTokens(validated.Answer)
	}
	st.Meta.ContextUsagePercent = pack.ContextUsagePercent
	st.Meta.DocumentsIncluded = len(pack.Included)
	st.Meta.ConfidenceScore = validated.ConfidenceScore
	st.Meta.HasCitations = validated.HasCitations
	st.Meta.IsGeneric = validated.IsGeneric
	st.Meta.ValidationPassed = validated.ValidationPassed
	for _, code := range validated.Warnings {
		st.Meta.AddWarning(code)
	}
	if pack.Truncated {
		st.Meta.AddWarning(datatypes.WarnTruncated)
	}
	return nil
}

func sourcesFrom(included []datatypes.Document) []datatypes.SourceInfo {
	sources := make([]datatypes.SourceInfo, 0, len(included))
	for i := range included {
		doc := &included[i]
		sources = append(sources, datatypes.SourceInfo{
			Source:     doc.Source(),
			PageNumber: doc.PageNumber(),
			Score:      doc.CombinedScore,
			Language:   doc.Language(),
		})
	}
	return sources
}

// generationData is the payload of the terminal generation event.
func generationData(st *State) map[string]any {
	return map[string]any{
		"answer":           st.Answer,
		"sources":          st.Sources,
		"context_metadata": st.Meta,
		"thread_id":        st.ThreadID,
		"retries":          st.RetryCount,
	}
}

func (st *State) response() *datatypes.QueryResponse {
	meta := st.Meta
	return &datatypes.QueryResponse{
		Answer:          st.Answer,
		Sources:         st.Sources,
		Query:           st.OriginalQuery,
		Retries:         st.RetryCount,
		ContextMetadata: &meta,
		ThreadID:        st.ThreadID,
	}
}
