// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"fmt"
	"strings"

	"github.com/docentlab/docent/datatypes"
)

// Query classes recognised by the keyword heuristics.
const (
	QueryClassDefinition = "definition"
	QueryClassComparison = "comparison"
	QueryClassHowTo      = "how-to"
	QueryClassList       = "list"
	QueryClassAnalytical = "analytical"
	QueryClassFactual    = "factual"
)

var queryClassKeywords = []struct {
	class    string
	keywords []string
}{
	{QueryClassComparison, []string{
		"difference between", "compare", " vs ", " versus ",
		"разница между", "сравни", "чем отличается",
		"farqi", "taqqosla", "solishtir",
	}},
	{QueryClassHowTo, []string{
		"how to", "how do i", "how can i", "how does one",
		"как сделать", "как мне", "каким образом",
		"qanday qilib", "qanday qilish",
	}},
	{QueryClassList, []string{
		"list of", "list all", "enumerate", "what are the types",
		"перечисли", "какие бывают", "список",
		"ro'yxat", "sanab", "qanday turlari",
	}},
	{QueryClassDefinition, []string{
		"what is", "what are", "define", "definition of", "meaning of",
		"что такое", "что значит", "определение",
		"nima", "nimani anglatadi", "ta'rif",
	}},
	{QueryClassAnalytical, []string{
		"why", "analyze", "analyse", "explain why", "implications",
		"почему", "зачем", "проанализируй",
		"nega", "nima uchun", "tahlil",
	}},
}

// ClassifyQuery assigns a query class by keyword heuristics; factual is
// the default. Classification order puts the more specific classes
// first so "how to compare" lands on comparison, not how-to.
func ClassifyQuery(query string) string {
	lower := " " + strings.ToLower(query) + " "
	for _, entry := range queryClassKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.class
			}
		}
	}
	return QueryClassFactual
}

// BuildSystemPrompt composes the system prompt from the three axes:
// language dialect, query class and expertise, plus the citation, style
// and length directives from the runtime context. The factory is the
// single source of truth for prompt content.
func BuildSystemPrompt(lang, queryClass string, rc datatypes.RuntimeContext) string {
	base, ok := basePrompts[lang]
	if !ok {
		base = basePrompts["en"]
		lang = "en"
	}

	sections := []string{base}
	if inst := queryClassInstructions[queryClass]; inst != "" {
		sections = append(sections, inst)
	}
	if inst := expertiseInstructions[rc.ExpertiseLevel]; inst != "" {
		sections = append(sections, inst)
	}
	if inst := styleInstructions[rc.ResponseStyle]; inst != "" {
		sections = append(sections, inst)
	}
	if rc.CitationsEnabled() {
		sections = append(sections, citationInstructions[lang])
	}
	if rc.MaxResponseLength > 0 {
		sections = append(sections, fmt.Sprintf("Keep the answer under %d characters.", rc.MaxResponseLength))
	}
	sections = append(sections, languageInstructions[lang])

	return strings.Join(sections, "\n\n")
}
