// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tokenizer estimates token counts and packs documents into a
// model-specific context budget. The estimator is a character-ratio
// approximation; exact tokenization is not required, but the packer
// never exceeds the declared window.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

const charsPerToken = 4

// ModelBudget is the context window and reserved output headroom for a
// model family, both in tokens.
type ModelBudget struct {
	Window  int
	Reserve int
}

// Budget table by model family. Matching is substring-based on the
// configured model name; gpt-4o must be checked before legacy gpt-4.
var budgetTable = []struct {
	marker string
	budget ModelBudget
}{
	{"claude", ModelBudget{Window: 200_000, Reserve: 4_000}},
	{"gpt-4o", ModelBudget{Window: 128_000, Reserve: 4_000}},
	{"gpt-4", ModelBudget{Window: 8_192, Reserve: 4_000}},
	{"llama", ModelBudget{Window: 128_000, Reserve: 4_000}},
}

var defaultBudget = ModelBudget{Window: 8_192, Reserve: 4_000}

// BudgetFor returns the budget for the given model name.
func BudgetFor(model string) ModelBudget {
	lower := strings.ToLower(model)
	for _, entry := range budgetTable {
		if strings.Contains(lower, entry.marker) {
			return entry.budget
		}
	}
	return defaultBudget
}

// EstimateTokens approximates the token count of text at four characters
// per token, rounding up. Never returns 0 for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	runes := utf8.RuneCountInString(text)
	return (runes + charsPerToken - 1) / charsPerToken
}
