// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/docentlab/docent/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes pipeline stream events to an HTTP response in SSE
// wire format.
//
// # Description
//
// Each event is written as a single `data: {json}\n\n` frame and flushed
// immediately. The writer populates event metadata on every write:
//
//   - Id: UUID v4 for ordering and deduplication
//   - Hash: SHA-256 of event content for integrity
//   - PrevHash: hash of the previous event, forming a chain
//
// The hash chain gives clients chain of custody over the emitted
// sequence: a dropped or reordered event breaks verification.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the keepalive ticker
// and the pipeline emit from different goroutines.
type SSEWriter interface {
	// WriteEvent writes one event frame. Id, Hash and PrevHash are
	// populated before serialization.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteKeepAlive sends an SSE comment (": ping") to keep the
	// connection alive through load balancer idle timeouts. Comments do
	// not participate in the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

var _ SSEWriter = (*sseWriter)(nil)

// =============================================================================
// Constructor
// =============================================================================

// NewSSEWriter wraps w for SSE output. The caller must have set SSE
// headers via SetSSEHeaders before the first write.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// computeEventHash hashes the event content. The Hash field itself is
// excluded; PrevHash is included so the chain covers ordering.
func computeEventHash(event datatypes.StreamEvent) string {
	dataJSON := ""
	if len(event.Data) > 0 {
		if data, err := json.Marshal(event.Data); err == nil {
			dataJSON = string(data)
		}
	}
	hashInput := fmt.Sprintf("%s|%s|%s|%d|%s|%s",
		event.Id,
		event.EventType,
		event.Node,
		event.Timestamp,
		event.PrevHash,
		dataJSON,
	)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures the response headers for SSE streaming. Must
// be called before any body write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
