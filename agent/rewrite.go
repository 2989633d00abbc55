// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/docentlab/docent/backoff"
	"github.com/docentlab/docent/datatypes"
	"github.com/docentlab/docent/llm"
)

// rewriteSnippetChars bounds each failed-document snippet shown to the
// rewriter.
const rewriteSnippetChars = 200

// rewriteSnippetDocs bounds how many failed documents the rewriter sees.
const rewriteSnippetDocs = 3

// rewriteQuery asks the model for a clearer search query after grading
// rejected everything. Only SearchQuery changes; the original query the
// user asked is preserved for generation.
//
// A rewrite that is empty, identical to the current query or more than
// twice its length is discarded and the current query is kept, so a
// misbehaving model cannot derail the retry loop.
func (p *Pipeline) rewriteQuery(ctx context.Context, st *State) error {
	prompt := fmt.Sprintf(rewritePromptTemplate, st.SearchQuery, failedDocSnippets(st.Documents))
	messages := []datatypes.Message{
		{Role: datatypes.RoleUser, Content: prompt},
	}

	var completion *llm.Completion
	err := backoff.RetryDefault(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.RewriteTimeout)
		defer cancel()
		var callErr error
		completion, callErr = p.llm.Chat(callCtx, messages, llm.GenerationParams{
			Temperature: llm.Float(0.3),
			MaxTokens:   llm.Int(256),
		})
		return callErr
	})
	if err != nil {
		return datatypes.NewPipelineError(datatypes.ErrCategoryLLMUnavailable,
			"query rewrite unavailable", err)
	}
	p.countTokens(completion)

	rewritten := strings.TrimSpace(strings.Trim(strings.TrimSpace(completion.Text), `"`))
	if !acceptRewrite(st.SearchQuery, rewritten) {
		p.logger.Debug("Rewrite rejected, keeping current search query",
			"thread_id", st.ThreadID)
		return nil
	}
	st.SearchQuery = rewritten
	return nil
}

func acceptRewrite(current, rewritten string) bool {
	if rewritten == "" {
		return false
	}
	if len([]rune(rewritten)) > 2*len([]rune(current)) {
		return false
	}
	normalize := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return normalize(rewritten) != normalize(current)
}

// failedDocSnippets renders short previews of the top rejected documents
// so the rewriter knows what the index surfaced and can steer away.
func failedDocSnippets(docs []datatypes.Document) string {
	if len(docs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nTop documents the search returned (judged not relevant):\n")
	for i, doc := range docs {
		if i >= rewriteSnippetDocs {
			break
		}
		snippet := doc.Text
		if runes := []rune(snippet); len(runes) > rewriteSnippetChars {
			snippet = string(runes[:rewriteSnippetChars]) + "..."
		}
		fmt.Fprintf(&sb, "- %s\n", strings.ReplaceAll(snippet, "\n", " "))
	}
	return strings.TrimRight(sb.String(), "\n")
}
