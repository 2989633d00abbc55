// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the immutable process configuration from the
// environment. The resulting Config is validated once at startup and
// passed explicitly into every constructor; there are no ambient
// singletons.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the process-wide configuration record.
type Config struct {
	Port string `validate:"required"`

	// LLM provider selection and credentials.
	LLMProvider     string `validate:"oneof=claude openai ollama"`
	AnthropicAPIKey string
	ClaudeModel     string
	OpenAIAPIKey    string
	OpenAIModel     string
	OllamaBaseURL   string
	OllamaModel     string

	// Vector backend.
	WeaviateScheme string `validate:"oneof=http https"`
	WeaviateHost   string `validate:"required"`
	WeaviateClass  string `validate:"required"`

	// External model servers.
	EmbeddingServiceURL string `validate:"required,url"`
	EmbeddingDim        int    `validate:"gt=0"`
	EmbeddingModelID    string
	RerankerServiceURL  string `validate:"omitempty,url"`

	// Retrieval and pipeline tuning.
	RetrievalTopK  int `validate:"gt=0,lte=100"`
	PrefetchLimit  int `validate:"gt=0"`
	RerankTopK     int `validate:"gt=0"`
	RRFK           int `validate:"gt=0"`
	MaxRetries     int `validate:"gte=0"`
	MaxQueryLength int `validate:"gt=0"`

	StrictOutputGuardrails bool

	// Ingestion parity; consumed only by the out-of-process ingestion path.
	ChunkSize    int
	ChunkOverlap int

	// Session checkpointing.
	SessionBackend string `validate:"oneof=badger memory"`
	SessionDBPath  string
	SessionTTL     time.Duration

	// Optional pub/sub fan-out for horizontally scaled deployments.
	RedisURL string

	// Telemetry.
	OTLPEndpoint string

	// Deadlines.
	RequestTimeout  time.Duration
	EmbedTimeout    time.Duration
	VectorTimeout   time.Duration
	RerankTimeout   time.Duration
	GradeTimeout    time.Duration
	GenerateTimeout time.Duration
	RewriteTimeout  time.Duration
}

// Load reads and validates the configuration. Errors here are config
// errors; the caller exits with code 2.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                envOr("PORT", "8080"),
		LLMProvider:         envOr("LLM_PROVIDER", "ollama"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		ClaudeModel:         envOr("CLAUDE_MODEL", "claude-4-sonnet"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         envOr("OPENAI_MODEL", "gpt-4o"),
		OllamaBaseURL:       envOr("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:         envOr("OLLAMA_MODEL", "llama3.1"),
		WeaviateClass:       envOr("WEAVIATE_CLASS", "DocumentChunk"),
		EmbeddingServiceURL: envOr("EMBEDDING_SERVICE_URL", "http://localhost:8184"),
		EmbeddingModelID:    envOr("EMBEDDING_MODEL_ID", "intfloat/multilingual-e5-base"),
		RerankerServiceURL:  os.Getenv("RERANKER_SERVICE_URL"),
		SessionBackend:      envOr("SESSION_BACKEND", "badger"),
		SessionDBPath:       envOr("SESSION_DB_PATH", "./data/sessions"),
		RedisURL:            os.Getenv("REDIS_URL"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.WeaviateScheme, cfg.WeaviateHost, err = splitWeaviateURL(envOr("WEAVIATE_URL", "http://localhost:8080")); err != nil {
		return nil, err
	}

	intKeys := []struct {
		dst *int
		key string
		def int
	}{
		{&cfg.EmbeddingDim, "EMBEDDING_DIM", 768},
		{&cfg.RetrievalTopK, "RETRIEVAL_TOP_K", 10},
		{&cfg.PrefetchLimit, "RETRIEVAL_PREFETCH_LIMIT", 20},
		{&cfg.RerankTopK, "RERANK_TOP_K", 5},
		{&cfg.RRFK, "RRF_K", 60},
		{&cfg.MaxRetries, "MAX_RETRIES", 3},
		{&cfg.MaxQueryLength, "MAX_QUERY_LENGTH", 2000},
		{&cfg.ChunkSize, "CHUNK_SIZE", 500},
		{&cfg.ChunkOverlap, "CHUNK_OVERLAP", 100},
	}
	for _, ik := range intKeys {
		if *ik.dst, err = envInt(ik.key, ik.def); err != nil {
			return nil, err
		}
	}

	durKeys := []struct {
		dst *time.Duration
		key string
		def time.Duration
	}{
		{&cfg.SessionTTL, "SESSION_TTL", 24 * time.Hour},
		{&cfg.RequestTimeout, "REQUEST_TIMEOUT", 240 * time.Second},
		{&cfg.EmbedTimeout, "EMBED_TIMEOUT", 30 * time.Second},
		{&cfg.VectorTimeout, "VECTOR_SEARCH_TIMEOUT", 10 * time.Second},
		{&cfg.RerankTimeout, "RERANK_TIMEOUT", 30 * time.Second},
		{&cfg.GradeTimeout, "GRADE_TIMEOUT", 120 * time.Second},
		{&cfg.GenerateTimeout, "GENERATE_TIMEOUT", 180 * time.Second},
		{&cfg.RewriteTimeout, "REWRITE_TIMEOUT", 60 * time.Second},
	}
	for _, dk := range durKeys {
		if *dk.dst, err = envDuration(dk.key, dk.def); err != nil {
			return nil, err
		}
	}

	if cfg.StrictOutputGuardrails, err = envBool("STRICT_OUTPUT_GUARDRAILS", false); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.LLMProvider == "claude" && cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("LLM_PROVIDER=claude requires ANTHROPIC_API_KEY")
	}
	if cfg.LLMProvider == "openai" && cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("LLM_PROVIDER=openai requires OPENAI_API_KEY")
	}
	return cfg, nil
}

// Model returns the configured model name for the active provider.
func (c *Config) Model() string {
	switch c.LLMProvider {
	case "claude":
		return c.ClaudeModel
	case "openai":
		return c.OpenAIModel
	default:
		return c.OllamaModel
	}
}

func splitWeaviateURL(raw string) (scheme, host string, err error) {
	raw = strings.Trim(raw, "\"' ")
	scheme, host, found := strings.Cut(raw, "://")
	if !found || host == "" {
		return "", "", fmt.Errorf("WEAVIATE_URL %q must be scheme://host[:port]", raw)
	}
	return scheme, host, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	// Accept bare seconds for parity with the deployment manifests.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}
