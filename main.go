// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/docentlab/docent/agent"
	"github.com/docentlab/docent/config"
	"github.com/docentlab/docent/embedding"
	"github.com/docentlab/docent/events"
	"github.com/docentlab/docent/handlers"
	"github.com/docentlab/docent/llm"
	"github.com/docentlab/docent/observability"
	"github.com/docentlab/docent/reranker"
	"github.com/docentlab/docent/retrieval"
	"github.com/docentlab/docent/routes"
	"github.com/docentlab/docent/session"
)

func initTracer(cfg *config.Config) (func(context.Context), error) {
	ctx := context.Background()

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("docent")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		return 2
	}

	cleanup, err := initTracer(cfg)
	if err != nil {
		logger.Error("Failed to set up the OTLP tracer", "error", err)
		return 1
	}
	defer cleanup(context.Background())

	weaviateClient, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	})
	if err != nil {
		logger.Error("Failed to create Weaviate client", "error", err)
		return 1
	}

	embedder := embedding.NewClient(cfg.EmbeddingServiceURL, cfg.EmbedTimeout)
	searcher := retrieval.NewSearcher(weaviateClient, embedder, cfg.WeaviateClass,
		cfg.PrefetchLimit, cfg.RRFK, cfg.VectorTimeout, logger)
	if err := searcher.EnsureSchema(context.Background()); err != nil {
		logger.Warn("Failed to ensure Weaviate schema, continuing", "error", err)
	}
	if err := searcher.VerifyEmbedding(context.Background(), cfg.EmbeddingDim, cfg.EmbeddingModelID); err != nil {
		logger.Error("Embedding configuration mismatch", "error", err)
		return 1
	}

	var rerankClient agent.RerankClient
	if cfg.RerankerServiceURL != "" {
		rerankClient = reranker.NewClient(cfg.RerankerServiceURL, cfg.RerankTimeout)
	} else {
		logger.Info("RERANKER_SERVICE_URL not set, using retrieval order")
	}

	llmClient, err := llm.New(cfg)
	if err != nil {
		logger.Error("Failed to initialize LLM client", "error", err)
		return 1
	}
	logger.Info("Configured LLM backend", "provider", cfg.LLMProvider, "model", llmClient.Model())

	var store session.Store
	switch cfg.SessionBackend {
	case "memory":
		store = session.NewMemoryStore(cfg.SessionTTL)
	default:
		store, err = session.NewBadgerStore(session.BadgerConfig{
			Path: cfg.SessionDBPath,
			TTL:  cfg.SessionTTL,
		})
		if err != nil {
			logger.Error("Failed to open session store", "path", cfg.SessionDBPath, "error", err)
			return 1
		}
	}
	defer store.Close()

	var publisher *events.RedisPublisher
	if cfg.RedisURL != "" {
		publisher, err = events.NewRedisPublisher(cfg.RedisURL, logger)
		if err != nil {
			logger.Error("Failed to connect to redis", "error", err)
			return 1
		}
		defer publisher.Close()
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	pipeline := agent.NewPipeline(cfg, store, searcher, rerankClient, llmClient, metrics, logger)
	h := handlers.New(pipeline, store, cfg, metrics, publisher, searcher, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, h, registry)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("Server failed", "error", err)
		return 1
	case sig := <-stop:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
