// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reranker is the HTTP adapter for the external cross-encoder
// model server, plus the score-merging step that follows it.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/docentlab/docent/datatypes"
)

var rerankTracer = otel.Tracer("docent.reranker")

// Client calls the reranker service (POST /rerank). A nil Client is a
// valid "no reranker deployed" state; callers fall back to retrieval
// order.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: timeout,
	}
}

// Rerank scores (query, document) pairs. Results arrive sorted by score
// descending; indexes refer to the input slice.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topK int) ([]datatypes.RerankResult, error) {
	ctx, span := rerankTracer.Start(ctx, "reranker.Rerank")
	defer span.End()
	span.SetAttributes(attribute.Int("rerank.documents", len(documents)))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(datatypes.RerankRequest{Query: query, Documents: documents, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rerank call failed")
		return nil, fmt.Errorf("reranker service call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("reranker service returned %d: %s", resp.StatusCode, payload)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rerank call failed")
		return nil, err
	}

	var results []datatypes.RerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("reranker returned out-of-range index %d", r.Index)
		}
	}
	return results, nil
}

// Apply merges reranker scores into the documents: assigns rerank_score,
// sets combined_score to the mean of retrieval and rerank scores, sorts
// by rerank_score descending and truncates to topK.
func Apply(docs []datatypes.Document, results []datatypes.RerankResult, topK int) []datatypes.Document {
	out := make([]datatypes.Document, 0, len(results))
	for _, r := range results {
		doc := docs[r.Index]
		doc.RerankScore = r.Score
		doc.CombinedScore = (doc.RetrievalScore + r.Score) / 2
		out = append(out, doc)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// Passthrough is the fallback when the reranker is unreachable: the top
// topK documents by retrieval score carry their retrieval score into the
// rerank and combined slots so downstream invariants still hold.
func Passthrough(docs []datatypes.Document, topK int) []datatypes.Document {
	out := make([]datatypes.Document, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RetrievalScore > out[j].RetrievalScore
	})
	if len(out) > topK {
		out = out[:topK]
	}
	for i := range out {
		out[i].RerankScore = out[i].RetrievalScore
		out[i].CombinedScore = out[i].RetrievalScore
	}
	return out
}
