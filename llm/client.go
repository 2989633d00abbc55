// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm abstracts the chat-completion providers behind a single
// capability. The provider is selected once at startup from
// LLM_PROVIDER; every adapter reports token usage alongside the text.
package llm

import (
	"context"
	"fmt"

	"github.com/docentlab/docent/config"
	"github.com/docentlab/docent/datatypes"
)

// GenerationParams tunes a single chat call. Nil fields mean provider
// defaults.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
}

// Completion is the uniform provider response.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client is the single capability the pipeline needs from a provider.
// Messages may start with one system message; the rest alternate
// user/assistant.
type Client interface {
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*Completion, error)
	Model() string
}

// New builds the provider adapter selected by configuration.
func New(cfg *config.Config) (Client, error) {
	switch cfg.LLMProvider {
	case "claude":
		return newAnthropicClient(cfg.AnthropicAPIKey, cfg.ClaudeModel), nil
	case "openai":
		return newOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "ollama":
		return newOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// Float returns a pointer to v for GenerationParams literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v for GenerationParams literals.
func Int(v int) *int { return &v }

// splitSystem separates a leading system message from the chat turns.
func splitSystem(messages []datatypes.Message) (system string, rest []datatypes.Message) {
	if len(messages) > 0 && messages[0].Role == datatypes.RoleSystem {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}
