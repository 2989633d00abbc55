// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent drives the self-correcting pipeline: a staged state
// machine with one conditional back-edge from grading to query rewrite,
// bounded by the retry limit.
package agent

import (
	"context"

	"github.com/docentlab/docent/datatypes"
)

// State is the mutable working set of one pipeline invocation. Nodes
// read and write it sequentially; it never outlives the request.
type State struct {
	ThreadID  string
	NewThread bool

	// OriginalQuery is the masked natural-language query; the generator
	// always answers it. SearchQuery is what retrieval uses and is the
	// only part the rewriter touches.
	OriginalQuery string
	SearchQuery   string

	Language           string
	LanguageCandidates []string

	Runtime datatypes.RuntimeContext
	Filters map[string]any
	TopK    int

	History []datatypes.Message

	// Documents is the current reranked working set; Kept is the graded
	// subset routed into generation.
	Documents []datatypes.Document
	Kept      []datatypes.Document

	RetryCount int

	Answer  string
	Sources []datatypes.SourceInfo
	Meta    datatypes.ContextMetadata
}

// Retriever is the slice of the retrieval adapter the runtime needs.
type Retriever interface {
	Search(ctx context.Context, query string, filters map[string]any, topK int, queryLanguage string) ([]datatypes.Document, []string, error)
}

// RerankClient scores (query, document) pairs via the cross-encoder.
type RerankClient interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]datatypes.RerankResult, error)
}
