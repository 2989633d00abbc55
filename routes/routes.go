// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/docentlab/docent/handlers"
)

// SetupRoutes assembles the HTTP surface on router.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, registry *prometheus.Registry) {
	router.Use(otelgin.Middleware("docent"))

	router.GET("/health", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	router.POST("/query", h.HandleQuery)
	router.POST("/chat/stream", h.HandleChatStream)
	router.GET("/ws/chat", h.HandleWS)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", h.HandleListSessions)
			sessions.GET("/:threadId/history", h.HandleSessionHistory)
			sessions.DELETE("/:threadId", h.HandleDeleteSession)
		}
	}
}
