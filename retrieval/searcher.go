// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval adapts the vector backend: hybrid dense+lexical
// search with client-side RRF fusion, filter translation, and the
// language-aware boost.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/docentlab/docent/backoff"
	"github.com/docentlab/docent/datatypes"
	"github.com/docentlab/docent/embedding"
)

var searchTracer = otel.Tracer("docent.retrieval")

var chunkFields = []graphql.Field{
	{Name: "text"},
	{Name: "source"},
	{Name: "page_number"},
	{Name: "language"},
	{Name: "document_id"},
	{Name: "chunk_index"},
	{Name: "file_hash"},
	{Name: "_additional { id distance score }"},
}

// Embedder is the slice of the embedding client the searcher needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher issues hybrid queries against the document chunk class.
type Searcher struct {
	client        *weaviate.Client
	embedder      Embedder
	class         string
	prefetch      int
	rrfK          int
	vectorTimeout time.Duration
	logger        *slog.Logger
}

func NewSearcher(client *weaviate.Client, embedder Embedder, class string, prefetch, rrfK int, vectorTimeout time.Duration, logger *slog.Logger) *Searcher {
	return &Searcher{
		client:        client,
		embedder:      embedder,
		class:         class,
		prefetch:      prefetch,
		rrfK:          rrfK,
		vectorTimeout: vectorTimeout,
		logger:        logger,
	}
}

var _ Embedder = (*embedding.Client)(nil)

// Search runs the full retrieval step for a query.
//
// # Description
//
// Embeds the query, issues the dense nearVector and lexical bm25
// prefetches in parallel, fuses them with RRF, applies the intake
// filters on both branches, boosts same-language documents and returns
// the topK fused documents with retrieval_score populated.
//
// A lexical failure degrades to dense-only and surfaces the
// lexical_index_missing warning; a dense failure is retried with
// backoff and then raised as retrieval_unavailable.
//
// # Outputs
//
//   - []datatypes.Document: fused ranking, retrieval_score set.
//   - []string: warning codes raised during the search.
//   - error: categorised *datatypes.PipelineError on hard failure.
func (s *Searcher) Search(ctx context.Context, query string, filterMap map[string]any, topK int, queryLanguage string) ([]datatypes.Document, []string, error) {
	ctx, span := searchTracer.Start(ctx, "retrieval.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Int("retrieval.top_k", topK),
		attribute.String("retrieval.language", queryLanguage),
	)

	where, err := BuildWhere(filterMap)
	if err != nil {
		return nil, nil, datatypes.NewPipelineError(datatypes.ErrCategoryGuardrailInput,
			fmt.Sprintf("unsupported filter: %v", err), err)
	}

	var vector []float32
	err = backoff.RetryDefault(ctx, func(ctx context.Context) error {
		var embErr error
		vector, embErr = s.embedder.Embed(ctx, query)
		return embErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, nil, datatypes.NewPipelineError(datatypes.ErrCategoryRetrievalUnavailable,
			"embedding service unavailable", err)
	}

	var (
		dense      []datatypes.Document
		lexical    []datatypes.Document
		lexicalErr error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var denseErr error
		denseErr = backoff.RetryDefault(groupCtx, func(ctx context.Context) error {
			var qErr error
			dense, qErr = s.denseQuery(ctx, vector, where)
			return qErr
		})
		return denseErr
	})
	group.Go(func() error {
		// Lexical failures never fail the search.
		lexical, lexicalErr = s.lexicalQuery(groupCtx, query, where)
		return nil
	})
	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector backend unavailable")
		return nil, nil, datatypes.NewPipelineError(datatypes.ErrCategoryRetrievalUnavailable,
			"vector backend unavailable", err)
	}

	var warnings []string
	if lexicalErr != nil {
		warnings = append(warnings, datatypes.WarnLexicalIndexMissing)
		s.logger.Warn("lexical search unavailable, falling back to dense-only",
			"class", s.class, "error", lexicalErr)
		lexical = nil
	}

	fused := FuseRRF(dense, lexical, s.rrfK, topK)
	fused = ApplyLanguageBoost(fused, queryLanguage)

	span.SetAttributes(
		attribute.Int("retrieval.dense_hits", len(dense)),
		attribute.Int("retrieval.lexical_hits", len(lexical)),
		attribute.Int("retrieval.fused", len(fused)),
	)
	return fused, warnings, nil
}

func (s *Searcher) denseQuery(ctx context.Context, vector []float32, where *filters.WhereBuilder) ([]datatypes.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.vectorTimeout)
	defer cancel()

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	builder := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(chunkFields...).
		WithNearVector(nearVector).
		WithLimit(s.prefetch)
	if where != nil {
		builder = builder.WithWhere(where)
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("dense query: %w", err)
	}
	return s.parseHits(resp)
}

func (s *Searcher) lexicalQuery(ctx context.Context, query string, where *filters.WhereBuilder) ([]datatypes.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.vectorTimeout)
	defer cancel()

	bm25 := s.client.GraphQL().Bm25ArgBuilder().WithQuery(query).WithProperties("text")
	builder := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(chunkFields...).
		WithBM25(bm25).
		WithLimit(s.prefetch)
	if where != nil {
		builder = builder.WithWhere(where)
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("lexical query: %w", err)
	}
	return s.parseHits(resp)
}

func (s *Searcher) parseHits(resp *models.GraphQLResponse) ([]datatypes.Document, error) {
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChunkQueryResponse](resp)
	if err != nil {
		return nil, err
	}
	hits := parsed.Hits(s.class)
	docs := make([]datatypes.Document, 0, len(hits))
	for i := range hits {
		docs = append(docs, hits[i].ToDocument())
	}
	return docs, nil
}

// EnsureSchema creates the chunk class when it does not exist yet.
// Called once on startup; the ingestion path owns writes thereafter.
func (s *Searcher) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", s.class, err)
	}
	if exists {
		return nil
	}
	if err := s.client.Schema().ClassCreator().WithClass(datatypes.ChunkClass(s.class)).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.class, err)
	}
	s.logger.Info("Created vector class", "class", s.class)
	return nil
}

// VerifyEmbedding asserts the configured embedding dimension against
// the live embedding service and, when the collection already holds
// objects, against a stored vector. Called once on startup.
func (s *Searcher) VerifyEmbedding(ctx context.Context, dim int, modelID string) error {
	vector, err := s.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("probe embedding service: %w", err)
	}
	if len(vector) != dim {
		return fmt.Errorf("embedding service (%s) returned %d dimensions, EMBEDDING_DIM is %d",
			modelID, len(vector), dim)
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "_additional { vector }"}).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("sample stored vector: %w", err)
	}
	type vectorResponse struct {
		Get map[string][]struct {
			Additional struct {
				Vector []float32 `json:"vector"`
			} `json:"_additional"`
		} `json:"Get"`
	}
	parsed, err := datatypes.ParseGraphQLResponse[vectorResponse](resp)
	if err != nil {
		return err
	}
	if rows := parsed.Get[s.class]; len(rows) > 0 && len(rows[0].Additional.Vector) != dim {
		return fmt.Errorf("class %s stores %d-dimensional vectors, EMBEDDING_DIM is %d",
			s.class, len(rows[0].Additional.Vector), dim)
	}
	return nil
}

// Ready reports vector backend reachability.
func (s *Searcher) Ready(ctx context.Context) bool {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	return err == nil && ready
}

// CollectionInfo returns the class name and object count for /health.
func (s *Searcher) CollectionInfo(ctx context.Context) (map[string]any, error) {
	resp, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", s.class, err)
	}

	type aggregateResponse struct {
		Aggregate map[string][]struct {
			Meta struct {
				Count float64 `json:"count"`
			} `json:"meta"`
		} `json:"Aggregate"`
	}
	parsed, err := datatypes.ParseGraphQLResponse[aggregateResponse](resp)
	if err != nil {
		return nil, err
	}
	info := map[string]any{"class": s.class, "count": 0}
	if rows := parsed.Aggregate[s.class]; len(rows) > 0 {
		info["count"] = int(rows[0].Meta.Count)
	}
	return info, nil
}
