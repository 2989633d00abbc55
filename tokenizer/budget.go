// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tokenizer

import (
	"fmt"
	"strings"

	"github.com/docentlab/docent/datatypes"
)

// MinDocTokens is the smallest truncated prefix worth including.
const MinDocTokens = 128

// PackResult is the outcome of packing documents into the model budget.
type PackResult struct {
	// Context is the rendered sources block handed to the generator.
	Context string
	// Included are the documents that made it into the context, in
	// grading order, possibly with the last one truncated.
	Included []datatypes.Document
	// DocumentTokens is the estimated token count of the sources block.
	DocumentTokens int
	// TokensInput is the full prompt estimate: system + history + query
	// + sources.
	TokensInput int
	// ContextUsagePercent is TokensInput over the usable window.
	ContextUsagePercent float64
	// Truncated is set when any document was cut or dropped.
	Truncated bool
}

// Pack fits documents into the budget for model. Documents are visited
// in grading order: whole documents are included while they fit, then at
// most one sentence-boundary truncated prefix if at least MinDocTokens
// remain, then packing stops.
func Pack(model string, docs []datatypes.Document, query, systemPrompt string, history []datatypes.Message) PackResult {
	budget := BudgetFor(model)
	usable := budget.Window - budget.Reserve

	fixed := EstimateTokens(systemPrompt) + EstimateTokens(query)
	for _, m := range history {
		fixed += EstimateTokens(m.Content)
	}

	remaining := usable - fixed
	var sb strings.Builder
	result := PackResult{}

	for i, doc := range docs {
		if remaining < MinDocTokens {
			result.Truncated = true
			break
		}
		header := sourceHeader(i+1, &doc)
		headerTokens := EstimateTokens(header)
		docTokens := EstimateTokens(doc.Text)

		if headerTokens+docTokens <= remaining {
			sb.WriteString(header)
			sb.WriteString(doc.Text)
			sb.WriteString("\n\n")
			remaining -= headerTokens + docTokens
			result.Included = append(result.Included, doc)
			continue
		}

		prefixBudget := remaining - headerTokens
		if prefixBudget >= MinDocTokens {
			prefix := truncateAtSentence(doc.Text, prefixBudget*charsPerToken)
			if prefix != "" {
				truncated := doc
				truncated.Text = prefix
				sb.WriteString(header)
				sb.WriteString(prefix)
				sb.WriteString("\n\n")
				remaining -= headerTokens + EstimateTokens(prefix)
				result.Included = append(result.Included, truncated)
			}
		}
		result.Truncated = true
		break
	}

	if len(result.Included) < len(docs) {
		result.Truncated = true
	}

	result.Context = strings.TrimRight(sb.String(), "\n")
	result.DocumentTokens = EstimateTokens(result.Context)
	result.TokensInput = fixed + result.DocumentTokens
	if usable > 0 {
		result.ContextUsagePercent = float64(result.TokensInput) / float64(usable) * 100
	}
	if result.ContextUsagePercent > 100 {
		result.ContextUsagePercent = 100
	}
	return result
}

func sourceHeader(ordinal int, doc *datatypes.Document) string {
	src := doc.Source()
	if src == "" {
		src = "unknown"
	}
	if page := doc.PageNumber(); page > 0 {
		return fmt.Sprintf("[Source %d: %s, p. %d]\n", ordinal, src, page)
	}
	return fmt.Sprintf("[Source %d: %s]\n", ordinal, src)
}

// truncateAtSentence cuts text to at most maxChars, preferring the last
// sentence boundary past the midpoint, falling back to the last space.
func truncateAtSentence(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	window := string(runes[:maxChars])

	best := -1
	for _, boundary := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := strings.LastIndex(window, boundary); idx+len(boundary) > best {
			best = idx + len(boundary)
		}
	}
	if best > maxChars/2 {
		return strings.TrimRight(window[:best], " \n")
	}
	if idx := strings.LastIndex(window, " "); idx > 0 {
		return window[:idx]
	}
	return window
}
