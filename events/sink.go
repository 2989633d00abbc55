// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events routes pipeline stream events to their transports: the
// per-request SSE/WS writer, the buffering collector behind /query, and
// the optional Redis fan-out for horizontally scaled deployments.
package events

import (
	"context"
	"sync"

	"github.com/docentlab/docent/datatypes"
)

// Sink consumes the ordered event stream of one invocation.
type Sink interface {
	Emit(ctx context.Context, event datatypes.StreamEvent) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event datatypes.StreamEvent) error

func (f SinkFunc) Emit(ctx context.Context, event datatypes.StreamEvent) error {
	return f(ctx, event)
}

// Multi fans one stream out to several sinks. The first sink is the
// client transport; its error aborts the emit. Secondary sinks are
// best-effort.
type Multi struct {
	Primary   Sink
	Secondary []Sink
}

func (m *Multi) Emit(ctx context.Context, event datatypes.StreamEvent) error {
	err := m.Primary.Emit(ctx, event)
	for _, s := range m.Secondary {
		// Side channels never fail the request.
		_ = s.Emit(ctx, event)
	}
	return err
}

// Buffer collects events in memory; the non-streaming endpoint replays
// only the terminal payload.
type Buffer struct {
	mu     sync.Mutex
	events []datatypes.StreamEvent
}

func (b *Buffer) Emit(ctx context.Context, event datatypes.StreamEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

// Events returns a copy of everything emitted so far.
func (b *Buffer) Events() []datatypes.StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]datatypes.StreamEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Terminal returns the terminal event, if one was emitted.
func (b *Buffer) Terminal() (datatypes.StreamEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].Terminal() {
			return b.events[i], true
		}
	}
	return datatypes.StreamEvent{}, false
}
