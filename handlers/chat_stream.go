// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docentlab/docent/datatypes"
	"github.com/docentlab/docent/events"
)

// heartbeatInterval keeps the SSE connection alive through load
// balancer idle timeouts (60s for typical ALB/Nginx setups).
const heartbeatInterval = 15 * time.Second

// HandleChatStream serves POST /chat/stream: the full event lifecycle
// of one pipeline invocation over SSE.
//
// # Description
//
// Binds and validates the request, then runs the pipeline with an SSE
// sink. Every lifecycle event is flushed as its own frame; a keepalive
// comment is sent every 15 seconds while the pipeline works. Client
// disconnects cancel the pipeline through the request context.
//
// # Inputs
//
//   - Request body: datatypes.QueryRequest JSON.
//
// # Outputs
//
//   - 400 with an error body when the request is malformed.
//   - 200 text/event-stream otherwise; the stream ends with exactly one
//     terminal generation or error event.
func (h *Handlers) HandleChatStream(c *gin.Context) {
	var req datatypes.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	h.metrics.ActiveStreams.Inc()
	defer h.metrics.ActiveStreams.Dec()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RequestTimeout)
	defer cancel()

	// Keepalive pings run until the pipeline returns.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	sseSink := events.SinkFunc(func(_ context.Context, event datatypes.StreamEvent) error {
		return writer.WriteEvent(event)
	})

	terminal := h.runner.Run(ctx, &req, h.fanOut(sseSink, req.ThreadID))
	close(done)

	if errors.Is(c.Request.Context().Err(), context.Canceled) {
		h.metrics.ClientDisconnects.Inc()
		h.logger.Info("Client disconnected mid-stream", "thread_id", req.ThreadID)
	}
	h.metrics.RequestsTotal.WithLabelValues("/chat/stream", outcomeOf(terminal)).Inc()
}
