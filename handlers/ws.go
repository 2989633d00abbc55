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
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/docentlab/docent/datatypes"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The service sits behind the deployment's own origin checks.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink writes events as JSON text frames. gorilla/websocket permits
// one concurrent writer, hence the mutex.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) Emit(_ context.Context, event datatypes.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(event)
}

// HandleWS serves /ws/chat: each inbound text frame is one QueryRequest
// and produces the full event lifecycle as JSON frames on the same
// connection. Requests are processed sequentially per connection.
func (h *Handlers) HandleWS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.metrics.ActiveStreams.Inc()
	defer h.metrics.ActiveStreams.Dec()

	sink := &wsSink{conn: conn}
	for {
		var req datatypes.QueryRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Info("WebSocket closed unexpectedly", "error", err)
				h.metrics.ClientDisconnects.Inc()
			}
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			_ = sink.Emit(c.Request.Context(),
				datatypes.NewErrorEvent(datatypes.ErrCategoryGuardrailInput, err.Error()))
			continue
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RequestTimeout)
		terminal := h.runner.Run(ctx, &req, h.fanOut(sink, req.ThreadID))
		cancel()
		h.metrics.RequestsTotal.WithLabelValues("/ws/chat", outcomeOf(terminal)).Inc()
	}
}
