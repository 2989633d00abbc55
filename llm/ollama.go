// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/docentlab/docent/datatypes"
	"github.com/docentlab/docent/tokenizer"
)

type ollamaClient struct {
	llm   *ollama.LLM
	model string
}

func newOllamaClient(baseURL, model string) (*ollamaClient, error) {
	client, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("init ollama client: %w", err)
	}
	return &ollamaClient{llm: client, model: model}, nil
}

func (c *ollamaClient) Model() string {
	return c.model
}

func (c *ollamaClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*Completion, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case datatypes.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case datatypes.RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*params.Temperature))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("ollama chat: empty choice list")
	}
	choice := resp.Choices[0]

	completion := &Completion{Text: choice.Content}
	if n, ok := choice.GenerationInfo["PromptTokens"].(int); ok {
		completion.InputTokens = n
	}
	if n, ok := choice.GenerationInfo["CompletionTokens"].(int); ok {
		completion.OutputTokens = n
	}
	// Local models do not always report usage; fall back to estimates so
	// context metadata stays populated.
	if completion.InputTokens == 0 {
		for _, m := range messages {
			completion.InputTokens += tokenizer.EstimateTokens(m.Content)
		}
	}
	if completion.OutputTokens == 0 {
		completion.OutputTokens = tokenizer.EstimateTokens(choice.Content)
	}
	return completion, nil
}
