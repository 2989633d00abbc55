// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guardrails enforces deterministic pre and post filters around
// the pipeline: input length and injection checks, PII masking, and
// output validation (leakage, grounding, citations). All checks run
// locally; none consult the LLM.
package guardrails

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/docentlab/docent/datatypes"
)

// =============================================================================
// Injection Denylist
// =============================================================================

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+|the\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions|directives|prompts|rules)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+|the\s+|your\s+)?(instructions|directives|rules|guidelines)`),
	regexp.MustCompile(`(?i)(reveal|show|print|display|repeat|output)\b.{0,40}\b(system\s+prompt|hidden\s+prompt|initial\s+instructions)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\b`),
	regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)\b`),
	regexp.MustCompile(`(?i)\b(jailbreak|dan\s+mode|developer\s+mode\s+enabled)\b`),
	regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+have\s+no|a\s+different)\b`),
	regexp.MustCompile(`(?i)new\s+instructions\s*:`),
}

// =============================================================================
// PII Patterns
// =============================================================================

// Masking order matters: cards before phones so a card number is not
// half-eaten by the phone pattern, and IPv4 before phones because the
// phone character class admits dotted digit runs.
var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	// 14-digit personal identification numbers (e.g. PINFL).
	govIDPattern = regexp.MustCompile(`\b\d{14}\b`)
	phonePattern = regexp.MustCompile(`\+?\d[\d ().\-]{7,14}\d`)
	ipv4Pattern  = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// PII replacement tokens.
const (
	TokenEmail = "<EMAIL>"
	TokenPhone = "<PHONE>"
	TokenCard  = "<CARD>"
	TokenSSN   = "<SSN>"
	TokenGovID = "<GOV_ID>"
	TokenIP    = "<IP>"
)

// =============================================================================
// Malicious Code Patterns
// =============================================================================

var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(select|union|insert|update|delete|drop)\b.{0,60}(--|;|'\s*or\s*')`),
	regexp.MustCompile("[;&|]\\s*(rm|cat|curl|wget|sh|bash)\\b"),
	regexp.MustCompile("\\$\\(.+\\)|`.+`"),
}

// =============================================================================
// Input Validation
// =============================================================================

// InputResult is the reshaped query plus the warnings raised on the way.
type InputResult struct {
	// Query is the trimmed, PII-masked query safe for logging and
	// downstream processing.
	Query string
	// MaskedTypes lists the PII token types that were replaced.
	MaskedTypes []string
	// Warnings carries warning codes (pii_masked, malicious_pattern).
	Warnings []string
}

// ValidateInput trims and guards the raw query.
//
// # Description
//
// Enforces the maximum length, rejects prompt-injection attempts via the
// denylist, masks PII into typed tokens, and flags malicious code
// fragments. Injection and overflow are hard failures (guardrail_input);
// masking and malicious patterns only warn.
//
// # Inputs
//
//   - query: raw query text from the intake layer.
//   - maxLength: maximum permitted length in unicode characters.
//
// # Outputs
//
//   - InputResult: masked query plus warnings, valid when err is nil.
//   - error: *datatypes.PipelineError with category guardrail_input.
func ValidateInput(query string, maxLength int) (InputResult, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return InputResult{}, datatypes.NewPipelineError(
			datatypes.ErrCategoryGuardrailInput, "query is empty", nil)
	}
	if n := utf8.RuneCountInString(trimmed); n > maxLength {
		return InputResult{}, datatypes.NewPipelineError(
			datatypes.ErrCategoryGuardrailInput,
			fmt.Sprintf("query length %d exceeds maximum %d", n, maxLength), nil)
	}

	for _, p := range injectionPatterns {
		if p.MatchString(trimmed) {
			return InputResult{}, &datatypes.PipelineError{
				Category: datatypes.ErrCategoryGuardrailInput,
				Message:  "injection",
				Reason:   "injection",
			}
		}
	}

	result := InputResult{}
	result.Query, result.MaskedTypes = MaskPII(trimmed)
	if len(result.MaskedTypes) > 0 {
		result.Warnings = append(result.Warnings, datatypes.WarnPIIMasked)
	}

	for _, p := range maliciousPatterns {
		if p.MatchString(result.Query) {
			result.Warnings = append(result.Warnings, datatypes.WarnMaliciousPattern)
			break
		}
	}
	return result, nil
}

// MaskPII replaces PII matches with typed tokens and reports which types
// were found. Masking is idempotent: tokens contain no digits or @, so a
// second pass is a no-op.
func MaskPII(text string) (string, []string) {
	var types []string
	mask := func(pattern *regexp.Regexp, token string, check func(string) bool) {
		text = pattern.ReplaceAllStringFunc(text, func(match string) string {
			if check != nil && !check(match) {
				return match
			}
			if !containsType(types, token) {
				types = append(types, token)
			}
			return token
		})
	}

	mask(emailPattern, TokenEmail, nil)
	mask(cardPattern, TokenCard, luhnValid)
	mask(ssnPattern, TokenSSN, nil)
	mask(govIDPattern, TokenGovID, nil)
	mask(ipv4Pattern, TokenIP, nil)
	mask(phonePattern, TokenPhone, nil)
	return text, types
}

// luhnValid reports whether the digits of candidate pass the Luhn
// checksum; non-card digit runs (order numbers, timestamps) fail it.
func luhnValid(candidate string) bool {
	var digits []int
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func containsType(types []string, t string) bool {
	for _, existing := range types {
		if existing == t {
			return true
		}
	}
	return false
}
