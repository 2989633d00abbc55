// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 5 * time.Second

// HandleHealth serves GET /health. The object_store flag reports the
// redis event broker when one is configured and true otherwise, so a
// single-replica deployment without redis still reads healthy.
func (h *Handlers) HandleHealth(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, healthCheckTimeout)
	defer cancel()

	vectorOK := h.vector != nil && h.vector.Ready(ctx)
	objectStoreOK := true
	if h.publisher != nil {
		objectStoreOK = h.publisher.Ping(ctx)
	}

	collectionInfo := map[string]any{}
	if vectorOK {
		if info, err := h.vector.CollectionInfo(ctx); err == nil {
			collectionInfo = info
		} else {
			h.logger.Warn("Failed to read collection info", "error", err)
		}
	}

	status := "ok"
	code := http.StatusOK
	if !vectorOK || !objectStoreOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":          status,
		"vector_backend":  vectorOK,
		"object_store":    objectStoreOK,
		"collection_info": collectionInfo,
	})
}
