// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrails

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/docentlab/docent/datatypes"
)

// Grounding thresholds: an overlap ratio of groundingOverlapKnee maps to
// a confidence of groundingConfidenceKnee, linearly on both sides.
const (
	groundingOverlapKnee    = 0.30
	groundingConfidenceKnee = 0.70
)

const redactedToken = "[REDACTED]"

var leakagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(my|the)\s+system\s+(prompt|instructions?)\s+(is|are|says?)`),
	regexp.MustCompile(`(?i)^\s*system\s+prompt\s*:`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{20,}\b`),
	regexp.MustCompile(`\b(api[_\-]?key|secret[_\-]?key|access[_\-]?token)\s*[:=]\s*\S{8,}`),
}

// Templated refusals in the corpus languages; substring match on the
// lowercased answer.
var genericResponses = []string{
	"i don't have enough information",
	"i do not have enough information",
	"i cannot answer",
	"i'm unable to answer",
	"no relevant information was found",
	"as an ai language model",
	"недостаточно информации",
	"я не могу ответить",
	"javob bera olmayman",
	"ma'lumot topilmadi",
}

var citationMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\(source[\s:]`),
	regexp.MustCompile(`(?i)\[source\s+\d`),
	regexp.MustCompile(`\[\d+\]`),
	regexp.MustCompile(`(?i)\(источник`),
	regexp.MustCompile(`(?i)\(manba`),
}

// OutputResult is the validated answer and the flags feeding
// ContextMetadata.
type OutputResult struct {
	Answer           string
	ValidationPassed bool
	ConfidenceScore  float64
	HasCitations     bool
	IsGeneric        bool
	Warnings         []string
}

// ValidateOutput re-masks PII, scrubs leakage, scores grounding and
// detects generic refusals before the terminal event is emitted.
//
// In strict mode a leaked answer fails with guardrail_output after the
// scrub attempt; otherwise leakage only lowers validation_passed.
func ValidateOutput(answer string, included []datatypes.Document, citationsEnabled, strictMode bool) (OutputResult, error) {
	result := OutputResult{ValidationPassed: true}

	masked, maskedTypes := MaskPII(answer)
	if len(maskedTypes) > 0 {
		result.Warnings = append(result.Warnings, datatypes.WarnPIIMasked)
	}

	leaked := false
	for _, p := range leakagePatterns {
		if p.MatchString(masked) {
			masked = p.ReplaceAllString(masked, redactedToken)
			leaked = true
		}
	}
	if leaked {
		result.ValidationPassed = false
		result.Warnings = append(result.Warnings, datatypes.WarnLeakageRedacted)
	}
	result.Answer = masked

	result.ConfidenceScore = GroundingConfidence(masked, included)
	if result.ConfidenceScore < groundingConfidenceKnee {
		result.Warnings = append(result.Warnings, datatypes.WarnLowGrounding)
	}

	lower := strings.ToLower(masked)
	for _, g := range genericResponses {
		if strings.Contains(lower, g) {
			result.IsGeneric = true
			break
		}
	}

	if citationsEnabled {
		for _, p := range citationMarkers {
			if p.MatchString(masked) {
				result.HasCitations = true
				break
			}
		}
	}

	if leaked && strictMode {
		return result, &datatypes.PipelineError{
			Category: datatypes.ErrCategoryGuardrailOutput,
			Message:  "response failed output validation",
		}
	}
	return result, nil
}

// GroundingConfidence measures lexical overlap between the answer and
// the union of included documents, normalised by answer length, then
// maps the ratio through the two-segment linear scale. Clamped to [0,1].
func GroundingConfidence(answer string, docs []datatypes.Document) float64 {
	answerTokens := contentWords(answer)
	if len(answerTokens) == 0 {
		return 0
	}
	docWords := map[string]bool{}
	for _, d := range docs {
		for _, w := range contentWords(d.Text) {
			docWords[w] = true
		}
	}
	if len(docWords) == 0 {
		return 0
	}

	matched := 0
	for _, w := range answerTokens {
		if docWords[w] {
			matched++
		}
	}
	overlap := float64(matched) / float64(len(answerTokens))

	var confidence float64
	if overlap < groundingOverlapKnee {
		confidence = overlap / groundingOverlapKnee * groundingConfidenceKnee
	} else {
		confidence = groundingConfidenceKnee +
			(overlap-groundingOverlapKnee)/(1-groundingOverlapKnee)*(1-groundingConfidenceKnee)
	}
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// contentWords lowercases and splits text, dropping words shorter than
// three characters so particles do not inflate the overlap.
func contentWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			words = append(words, f)
		}
	}
	return words
}
