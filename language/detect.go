// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package language implements a cheap deterministic classifier for the
// corpus languages: English, Russian and Uzbek. Detection is a pure
// function of the input text; no external calls.
package language

import (
	"strings"
	"unicode"
)

const (
	English = "en"
	Russian = "ru"
	Uzbek   = "uz"
	Unknown = "unknown"
)

var russianStopWords = map[string]bool{
	"и": true, "в": true, "не": true, "на": true, "что": true,
	"как": true, "это": true, "для": true, "по": true, "с": true,
	"из": true, "или": true, "такое": true, "есть": true, "к": true,
}

var englishStopWords = map[string]bool{
	"the": true, "is": true, "are": true, "a": true, "an": true,
	"of": true, "and": true, "to": true, "in": true, "what": true,
	"how": true, "do": true, "does": true, "for": true, "on": true,
}

// Latin-script Uzbek particles and function words.
var uzbekStopWords = map[string]bool{
	"va": true, "bu": true, "uchun": true, "qanday": true, "nima": true,
	"bilan": true, "haqida": true, "qilish": true, "kerak": true,
	"bor": true, "yoki": true, "deb": true, "mumkin": true, "edi": true,
}

// Cyrillic letters used by Uzbek but not Russian.
const uzbekCyrillicMarkers = "ўқғҳЎҚҒҲ"

// Latin digraphs and the turned-comma O/G that mark Uzbek text.
var uzbekLatinMarkers = []string{"o'", "g'", "oʻ", "gʻ", "o‘", "g‘", "sh", "ch", "ng"}

// strong markers are unambiguous; sh/ch/ng also occur in English.
var uzbekStrongMarkers = []string{"o'", "g'", "oʻ", "gʻ", "o‘", "g‘"}

// Detect classifies text as en, ru, uz or unknown.
func Detect(text string) string {
	lang, _ := DetectCandidates(text)
	return lang
}

// DetectCandidates classifies text and additionally reports every
// plausible candidate. Short Latin-script queries are genuinely
// ambiguous between English and Uzbek; callers log both candidates and
// may prefer a runtime-preferred language.
func DetectCandidates(text string) (string, []string) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Unknown, nil
	}

	cyrillic, latin := scriptCounts(lower)
	words := splitWords(lower)
	ruHits := countHits(words, russianStopWords)
	enHits := countHits(words, englishStopWords)
	uzHits := countHits(words, uzbekStopWords)

	if cyrillic > latin {
		if strings.ContainsAny(lower, uzbekCyrillicMarkers) || uzHits > enHits+ruHits {
			return Uzbek, []string{Uzbek}
		}
		if ruHits > 0 {
			return Russian, []string{Russian}
		}
		return Russian, []string{Russian, Uzbek}
	}

	if latin == 0 {
		return Unknown, nil
	}

	uzStrong := containsAnyOf(lower, uzbekStrongMarkers)
	uzWeak := containsAnyOf(lower, uzbekLatinMarkers)

	switch {
	case uzStrong || uzHits > enHits:
		candidates := []string{Uzbek}
		if enHits > 0 {
			candidates = append(candidates, English)
		}
		return Uzbek, candidates
	case enHits > 0:
		candidates := []string{English}
		if uzHits > 0 || (uzWeak && len(words) <= 4) {
			candidates = append(candidates, Uzbek)
		}
		return English, candidates
	case uzHits > 0 || uzWeak:
		return Uzbek, []string{Uzbek, English}
	default:
		return Unknown, nil
	}
}

// Effective resolves the language used downstream: an explicit
// preference wins, unknown falls back to English.
func Effective(detected, preference string) string {
	if preference != "" && preference != "auto" {
		return preference
	}
	if detected == Unknown || detected == "" {
		return English
	}
	return detected
}

func scriptCounts(text string) (cyrillic, latin int) {
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	return cyrillic, latin
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\'' && r != 'ʻ' && r != '‘'
	})
}

func countHits(words []string, set map[string]bool) int {
	hits := 0
	for _, w := range words {
		if set[w] {
			hits++
		}
	}
	return hits
}

func containsAnyOf(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
