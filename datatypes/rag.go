// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// =============================================================================
// Runtime Context
// =============================================================================

// RuntimeContext carries per-request generation preferences. All fields are
// optional; EnsureDefaults fills the documented defaults.
type RuntimeContext struct {
	LanguagePreference string `json:"language_preference,omitempty" validate:"omitempty,oneof=auto en ru uz"`
	ExpertiseLevel     string `json:"expertise_level,omitempty" validate:"omitempty,oneof=beginner intermediate expert general"`
	ResponseStyle      string `json:"response_style,omitempty" validate:"omitempty,oneof=concise balanced detailed"`
	EnableCitations    *bool  `json:"enable_citations,omitempty"`
	MaxResponseLength  int    `json:"max_response_length,omitempty" validate:"omitempty,gte=0"`
}

func (rc *RuntimeContext) EnsureDefaults() {
	if rc.LanguagePreference == "" {
		rc.LanguagePreference = "auto"
	}
	if rc.ExpertiseLevel == "" {
		rc.ExpertiseLevel = "general"
	}
	if rc.ResponseStyle == "" {
		rc.ResponseStyle = "balanced"
	}
	if rc.EnableCitations == nil {
		enabled := true
		rc.EnableCitations = &enabled
	}
}

// CitationsEnabled reports the effective citation setting.
func (rc *RuntimeContext) CitationsEnabled() bool {
	return rc.EnableCitations == nil || *rc.EnableCitations
}

// =============================================================================
// Query Request / Response
// =============================================================================

// QueryRequest is the intake body shared by /chat/stream, /query and /ws/chat.
type QueryRequest struct {
	Query    string         `json:"query" validate:"required"`
	ThreadID string         `json:"thread_id,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
	Context  RuntimeContext `json:"context,omitempty"`
	TopK     int            `json:"top_k,omitempty" validate:"omitempty,gte=1,lte=100"`
}

func (r *QueryRequest) EnsureDefaults() {
	r.Context.EnsureDefaults()
}

func (r *QueryRequest) Validate() error {
	return validate.Struct(r)
}

// QueryResponse is the buffered (non-streaming) answer envelope.
type QueryResponse struct {
	Answer          string           `json:"answer"`
	Sources         []SourceInfo     `json:"sources"`
	Query           string           `json:"query"`
	Retries         int              `json:"retries"`
	ContextMetadata *ContextMetadata `json:"context_metadata,omitempty"`
	ThreadID        string           `json:"thread_id,omitempty"`
}

// ErrorResponse is returned by /query when the pipeline itself fails.
// Transport-level success (HTTP 200) with an error body mirrors the
// streaming variant's terminal error event.
type ErrorResponse struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

// =============================================================================
// Documents and Sources
// =============================================================================

// Document is a retrieved passage flowing through one pipeline run.
// Score slots are populated progressively: RetrievalScore after fusion,
// RerankScore and CombinedScore after reranking, grading fields after
// the grade node.
type Document struct {
	ID                string         `json:"id"`
	Text              string         `json:"text"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	RetrievalScore    float64        `json:"retrieval_score"`
	RerankScore       float64        `json:"rerank_score"`
	CombinedScore     float64        `json:"combined_score"`
	GradingRelevant   bool           `json:"grading_relevant,omitempty"`
	GradingConfidence float64        `json:"grading_confidence,omitempty"`
	GradingReason     string         `json:"grading_reason,omitempty"`
}

// Source returns the reserved metadata key "source", or "" when absent.
func (d *Document) Source() string {
	return d.metaString("source")
}

// Language returns the reserved metadata key "language", or "" when absent.
func (d *Document) Language() string {
	return d.metaString("language")
}

// PageNumber returns the reserved metadata key "page_number", or 0.
// JSON-decoded numbers arrive as float64.
func (d *Document) PageNumber() int {
	switch v := d.Metadata["page_number"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (d *Document) metaString(key string) string {
	if s, ok := d.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// SourceInfo is the citation record attached to an answer.
type SourceInfo struct {
	Source     string  `json:"source"`
	PageNumber int     `json:"page_number,omitempty"`
	Score      float64 `json:"score"`
	Language   string  `json:"language,omitempty"`
}

// =============================================================================
// Context Metadata
// =============================================================================

// ContextMetadata is emitted with each answer and persisted on the session.
type ContextMetadata struct {
	ModelName           string   `json:"model_name"`
	ContextWindow       int      `json:"context_window"`
	TokensInput         int      `json:"tokens_input"`
	TokensOutput        int      `json:"tokens_output"`
	TokensReserved      int      `json:"tokens_reserved"`
	ContextUsagePercent float64  `json:"context_usage_percent"`
	DocumentsRetrieved  int      `json:"documents_retrieved"`
	DocumentsIncluded   int      `json:"documents_included"`
	ConfidenceScore     float64  `json:"confidence_score"`
	HasCitations        bool     `json:"has_citations"`
	IsGeneric           bool     `json:"is_generic"`
	ValidationPassed    bool     `json:"validation_passed"`
	Warnings            []string `json:"warnings"`
}

// AddWarning appends a warning code, deduplicating repeats.
func (m *ContextMetadata) AddWarning(code string) {
	for _, w := range m.Warnings {
		if w == code {
			return
		}
	}
	m.Warnings = append(m.Warnings, code)
}

// =============================================================================
// External Model-Server Contracts
// =============================================================================

// EmbedRequest is the embedding service body: POST /embed.
type EmbedRequest struct {
	Texts []string `json:"texts"`
}

// EmbedResponse carries one vector per input text, in order.
type EmbedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// RerankRequest is the reranker service body: POST /rerank.
type RerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k,omitempty"`
}

// RerankResult is one (index, score) pair from the reranker, scores
// sorted descending by the service.
type RerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}
