// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docentlab/docent/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerank(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)
		var req datatypes.RerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is rag", req.Query)
		assert.Len(t, req.Documents, 3)

		json.NewEncoder(w).Encode([]datatypes.RerankResult{
			{Index: 2, Score: 0.92},
			{Index: 0, Score: 0.61},
			{Index: 1, Score: 0.13},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	results, err := client.Rerank(context.Background(), "what is rag", []string{"a", "b", "c"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 2, results[0].Index)
}

func TestRerankRejectsOutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]datatypes.RerankResult{{Index: 7, Score: 0.5}})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	_, err := client.Rerank(context.Background(), "q", []string{"a"}, 5)
	assert.Error(t, err)
}

func TestRerankServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	_, err := client.Rerank(context.Background(), "q", []string{"a"}, 5)
	assert.Error(t, err)
}

func docWithScores(id string, retrieval float64) datatypes.Document {
	return datatypes.Document{ID: id, Text: id, RetrievalScore: retrieval}
}

func TestApply(t *testing.T) {
	docs := []datatypes.Document{
		docWithScores("a", 0.9),
		docWithScores("b", 0.8),
		docWithScores("c", 0.7),
	}
	results := []datatypes.RerankResult{
		{Index: 2, Score: 0.95},
		{Index: 0, Score: 0.40},
		{Index: 1, Score: 0.10},
	}

	out := Apply(docs, results, 2)
	require.Len(t, out, 2)

	assert.Equal(t, "c", out[0].ID)
	assert.InDelta(t, (0.7+0.95)/2, out[0].CombinedScore, 1e-9)
	assert.Equal(t, "a", out[1].ID)
	assert.InDelta(t, (0.9+0.40)/2, out[1].CombinedScore, 1e-9)

	// Sorted by rerank score descending.
	assert.GreaterOrEqual(t, out[0].RerankScore, out[1].RerankScore)
}

func TestPassthrough(t *testing.T) {
	docs := []datatypes.Document{
		docWithScores("low", 0.2),
		docWithScores("high", 0.9),
		docWithScores("mid", 0.5),
	}
	out := Passthrough(docs, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "high", out[0].ID)
	assert.Equal(t, "mid", out[1].ID)
	// Scores copied into both slots so graded docs always carry both.
	assert.Equal(t, out[0].RetrievalScore, out[0].RerankScore)
	assert.Equal(t, out[0].RetrievalScore, out[0].CombinedScore)
}
