// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"strings"
	"unicode"
)

// Intent classifies conversational queries that short-circuit the
// pipeline: greetings and thanks are answered from a canned table
// without retrieval or LLM calls.
type Intent int

const (
	IntentQuery Intent = iota
	IntentGreeting
	IntentThanks
)

var greetingWords = map[string]bool{
	// en
	"hi": true, "hello": true, "hey": true, "greetings": true,
	"good": true, "morning": true, "afternoon": true, "evening": true,
	// ru
	"привет": true, "здравствуйте": true, "здравствуй": true,
	"добрый": true, "доброе": true, "день": true, "утро": true, "вечер": true,
	// uz
	"salom": true, "assalomu": true, "alaykum": true, "aleykum": true,
	"xayrli": true, "tong": true, "kun": true, "kech": true,
}

var thanksWords = map[string]bool{
	"thanks": true, "thank": true, "you": true, "thx": true, "ty": true,
	"спасибо": true, "благодарю": true,
	"rahmat": true, "raxmat": true, "tashakkur": true,
}

// ClassifyIntent decides whether the query is a real question or a
// conversational nicety. Only very short inputs whose words all come
// from one intent set qualify; anything else goes through the pipeline.
func ClassifyIntent(query string) Intent {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return IntentQuery
	}
	if emojiOnly(trimmed) {
		return IntentGreeting
	}

	words := strings.FieldsFunc(strings.ToLower(trimmed), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 || len(words) > 4 {
		return IntentQuery
	}

	if allIn(words, thanksWords) {
		return IntentThanks
	}
	if allIn(words, greetingWords) {
		return IntentGreeting
	}
	return IntentQuery
}

// CannedResponse returns the table answer for the intent in the given
// language, falling back to English.
func CannedResponse(intent Intent, lang string) string {
	table := greetingResponses
	if intent == IntentThanks {
		table = thanksResponses
	}
	if answer, ok := table[lang]; ok {
		return answer
	}
	return table["en"]
}

func allIn(words []string, set map[string]bool) bool {
	for _, w := range words {
		if !set[w] {
			return false
		}
	}
	return true
}

func emojiOnly(text string) bool {
	seen := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		if !unicode.Is(unicode.So, r) && !unicode.Is(unicode.Sk, r) {
			return false
		}
		seen = true
	}
	return seen
}
