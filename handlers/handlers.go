// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the pipeline over HTTP: SSE and WebSocket
// streaming, the buffered query endpoint, health and session admin.
package handlers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/docentlab/docent/config"
	"github.com/docentlab/docent/datatypes"
	"github.com/docentlab/docent/events"
	"github.com/docentlab/docent/observability"
	"github.com/docentlab/docent/session"
)

// Runner is the slice of the pipeline the transport layer needs.
type Runner interface {
	Run(ctx context.Context, req *datatypes.QueryRequest, sink events.Sink) datatypes.StreamEvent
}

// VectorBackend reports vector store health for /health.
type VectorBackend interface {
	Ready(ctx context.Context) bool
	CollectionInfo(ctx context.Context) (map[string]any, error)
}

// Handlers bundles the HTTP endpoints and their dependencies.
type Handlers struct {
	runner    Runner
	store     session.Store
	cfg       *config.Config
	metrics   *observability.Metrics
	publisher *events.RedisPublisher
	vector    VectorBackend
	logger    *slog.Logger
}

// New wires the endpoint set. publisher and vector may be nil.
func New(runner Runner, store session.Store, cfg *config.Config, metrics *observability.Metrics, publisher *events.RedisPublisher, vector VectorBackend, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		runner:    runner,
		store:     store,
		cfg:       cfg,
		metrics:   metrics,
		publisher: publisher,
		vector:    vector,
		logger:    logger,
	}
}

// redisSink mirrors events onto the per-thread pub/sub channel. The
// thread id may only become known mid-stream (thread_created carries it
// for fresh threads), so the sink resolves it lazily from event data.
func (h *Handlers) redisSink(threadID string) events.Sink {
	if h.publisher == nil {
		return nil
	}
	var mu sync.Mutex
	return events.SinkFunc(func(ctx context.Context, event datatypes.StreamEvent) error {
		mu.Lock()
		if threadID == "" {
			if id, ok := event.Data["thread_id"].(string); ok {
				threadID = id
			}
		}
		id := threadID
		mu.Unlock()
		if id == "" {
			return nil
		}
		return h.publisher.ForThread(id).Emit(ctx, event)
	})
}

// fanOut combines the client transport with the optional redis mirror.
func (h *Handlers) fanOut(primary events.Sink, threadID string) events.Sink {
	secondary := h.redisSink(threadID)
	if secondary == nil {
		return primary
	}
	return &events.Multi{Primary: primary, Secondary: []events.Sink{secondary}}
}

func outcomeOf(terminal datatypes.StreamEvent) string {
	if terminal.EventType == datatypes.EventError {
		if cat, ok := terminal.Data["category"].(string); ok {
			return cat
		}
	}
	return terminal.EventType
}
