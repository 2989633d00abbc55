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

	"github.com/docentlab/docent/session"
)

func contextWithTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}

// HandleListSessions serves GET /v1/sessions.
func (h *Handlers) HandleListSessions(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, healthCheckTimeout)
	defer cancel()

	ids, err := h.store.List(ctx, c.Query("prefix"))
	if err != nil {
		h.logger.Error("Failed to list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids, "count": len(ids)})
}

// HandleSessionHistory serves GET /v1/sessions/:threadId/history.
func (h *Handlers) HandleSessionHistory(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, healthCheckTimeout)
	defer cancel()

	threadID := c.Param("threadId")
	state, err := h.store.Load(ctx, threadID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "thread_id": threadID})
			return
		}
		h.logger.Error("Failed to load session", "thread_id", threadID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"thread_id":      state.ThreadID,
		"messages":       state.Messages,
		"retry_count":    state.RetryCount,
		"query_language": state.QueryLanguage,
		"revision":       state.Revision,
		"created_at":     state.CreatedAt,
		"updated_at":     state.UpdatedAt,
	})
}

// HandleDeleteSession serves DELETE /v1/sessions/:threadId.
func (h *Handlers) HandleDeleteSession(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, healthCheckTimeout)
	defer cancel()

	threadID := c.Param("threadId")
	if err := h.store.Delete(ctx, threadID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "thread_id": threadID})
			return
		}
		h.logger.Error("Failed to delete session", "thread_id", threadID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "thread_id": threadID})
}
