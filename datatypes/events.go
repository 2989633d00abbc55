// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Event Types
// =============================================================================

const (
	EventThreadCreated = "thread_created"
	EventNodeStart     = "node_start"
	EventNodeEnd       = "node_end"
	EventWarning       = "warning"
	EventGeneration    = "generation"
	EventError         = "error"
)

// Pipeline node names as they appear in node lifecycle events.
const (
	NodeRetrieve     = "retrieve"
	NodeRerank       = "rerank"
	NodeGrade        = "grade"
	NodeGenerate     = "generate"
	NodeRewriteQuery = "rewrite_query"
)

// Warning codes carried in warning events and ContextMetadata.Warnings.
const (
	WarnPIIMasked            = "pii_masked"
	WarnMaliciousPattern     = "malicious_pattern"
	WarnLanguageFallback     = "language_fallback"
	WarnLexicalIndexMissing  = "lexical_index_missing"
	WarnRerankerFallback     = "reranker_fallback"
	WarnGraderParseFailure   = "grader_parse_failure"
	WarnLowRelevanceFallback = "low_relevance_fallback"
	WarnTruncated            = "truncated"
	WarnLeakageRedacted      = "leakage_redacted"
	WarnLowGrounding         = "low_grounding_confidence"
)

// =============================================================================
// Stream Event
// =============================================================================

// StreamEvent is one frame of the streaming protocol. Exactly one terminal
// event (generation or error) closes every invocation.
//
// Id, Hash and PrevHash are populated by the SSE writer; the hash chain
// provides chain of custody over the emitted sequence.
type StreamEvent struct {
	Id        string         `json:"id,omitempty"`
	EventType string         `json:"event_type"`
	Node      string         `json:"node,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Hash      string         `json:"hash,omitempty"`
	PrevHash  string         `json:"prev_hash,omitempty"`
}

// Terminal reports whether the event closes the stream.
func (e StreamEvent) Terminal() bool {
	return e.EventType == EventGeneration || e.EventType == EventError
}

func NewEvent(eventType string, data map[string]any) StreamEvent {
	return StreamEvent{
		EventType: eventType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

func NewNodeEvent(eventType, node string, data map[string]any) StreamEvent {
	ev := NewEvent(eventType, data)
	ev.Node = node
	return ev
}

func NewWarningEvent(code, message, node string) StreamEvent {
	ev := NewEvent(EventWarning, map[string]any{
		"code":    code,
		"message": message,
	})
	ev.Node = node
	return ev
}

func NewErrorEvent(category, message string) StreamEvent {
	return NewEvent(EventError, map[string]any{
		"category": category,
		"message":  message,
	})
}
