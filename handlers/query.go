// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docentlab/docent/datatypes"
	"github.com/docentlab/docent/events"
)

// HandleQuery serves POST /query: the buffered, non-streaming variant.
// The pipeline runs to completion and only the terminal payload is
// returned.
func (h *Handlers) HandleQuery(c *gin.Context) {
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

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RequestTimeout)
	defer cancel()

	buf := &events.Buffer{}
	terminal := h.runner.Run(ctx, &req, h.fanOut(buf, req.ThreadID))
	h.metrics.RequestsTotal.WithLabelValues("/query", outcomeOf(terminal)).Inc()

	switch terminal.EventType {
	case datatypes.EventGeneration:
		c.JSON(http.StatusOK, responseFromTerminal(&req, terminal))
	case datatypes.EventError:
		c.JSON(http.StatusOK, errorFromTerminal(terminal))
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pipeline produced no terminal event"})
	}
}

func responseFromTerminal(req *datatypes.QueryRequest, terminal datatypes.StreamEvent) *datatypes.QueryResponse {
	resp := &datatypes.QueryResponse{Query: req.Query, Sources: []datatypes.SourceInfo{}}
	if answer, ok := terminal.Data["answer"].(string); ok {
		resp.Answer = answer
	}
	if sources, ok := terminal.Data["sources"].([]datatypes.SourceInfo); ok {
		resp.Sources = sources
	}
	if retries, ok := terminal.Data["retries"].(int); ok {
		resp.Retries = retries
	}
	if meta, ok := terminal.Data["context_metadata"].(datatypes.ContextMetadata); ok {
		resp.ContextMetadata = &meta
	}
	if threadID, ok := terminal.Data["thread_id"].(string); ok {
		resp.ThreadID = threadID
	}
	return resp
}

func errorFromTerminal(terminal datatypes.StreamEvent) *datatypes.ErrorResponse {
	resp := &datatypes.ErrorResponse{}
	if category, ok := terminal.Data["category"].(string); ok {
		resp.Category = category
	}
	if message, ok := terminal.Data["message"].(string); ok {
		resp.Message = message
	}
	if threadID, ok := terminal.Data["thread_id"].(string); ok {
		resp.ThreadID = threadID
	}
	return resp
}
