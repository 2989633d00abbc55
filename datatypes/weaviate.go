// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parsing
// =============================================================================

// ParseGraphQLResponse unmarshals a Weaviate GraphQL response into a typed
// structure by round-tripping resp.Data through JSON.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Document Chunk Class
// =============================================================================

// ChunkHit is one object returned by a Get query against the document
// chunk class. Weaviate returns bm25 scores as strings and distances as
// numbers inside _additional.
type ChunkHit struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	PageNumber int    `json:"page_number"`
	Language   string `json:"language"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	FileHash   string `json:"file_hash"`
	Additional struct {
		ID       string  `json:"id"`
		Distance float64 `json:"distance"`
		Score    string  `json:"score"`
	} `json:"_additional"`
}

// BM25Score parses the string-typed lexical score, 0 when absent.
func (h *ChunkHit) BM25Score() float64 {
	if h.Additional.Score == "" {
		return 0
	}
	score, err := strconv.ParseFloat(h.Additional.Score, 64)
	if err != nil {
		return 0
	}
	return score
}

// ToDocument converts a hit into a pipeline Document with reserved
// metadata keys populated.
func (h *ChunkHit) ToDocument() Document {
	return Document{
		ID:   h.Additional.ID,
		Text: h.Text,
		Metadata: map[string]any{
			"source":      h.Source,
			"page_number": h.PageNumber,
			"language":    h.Language,
			"document_id": h.DocumentID,
			"chunk_index": h.ChunkIndex,
			"file_hash":   h.FileHash,
		},
	}
}

// ChunkQueryResponse is the Get envelope keyed by class name.
type ChunkQueryResponse struct {
	Get map[string][]ChunkHit `json:"Get"`
}

// Hits returns the hit list for the given class, nil when absent.
func (r *ChunkQueryResponse) Hits(className string) []ChunkHit {
	return r.Get[className]
}

// ChunkClass describes the document chunk collection for schema creation.
// Vectors are provided by the external embedding service, so the class
// carries no vectorizer.
func ChunkClass(className string) *models.Class {
	return &models.Class{
		Class:       className,
		Description: "A chunk of a corpus document with provenance metadata",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "text", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "page_number", DataType: []string{"int"}},
			{Name: "language", DataType: []string{"text"}},
			{Name: "document_id", DataType: []string{"text"}},
			{Name: "chunk_index", DataType: []string{"int"}},
			{Name: "file_hash", DataType: []string{"text"}},
		},
	}
}
