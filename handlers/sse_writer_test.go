// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docentlab/docent/datatypes"
)

func decodeSSEFrames(t *testing.T, body string) []datatypes.StreamEvent {
	t.Helper()
	var out []datatypes.StreamEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev datatypes.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		out = append(out, ev)
	}
	return out
}

func TestSSEWriterFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteEvent(datatypes.NewEvent(datatypes.EventThreadCreated,
		map[string]any{"thread_id": "t-1"})))
	require.NoError(t, writer.WriteEvent(datatypes.NewNodeEvent(datatypes.EventNodeStart,
		datatypes.NodeRetrieve, nil)))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	frames := decodeSSEFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, datatypes.EventThreadCreated, frames[0].EventType)
	assert.Equal(t, datatypes.NodeRetrieve, frames[1].Node)
	for _, f := range frames {
		assert.NotEmpty(t, f.Id)
		assert.NotEmpty(t, f.Hash)
	}
}

func TestSSEWriterHashChain(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, writer.WriteEvent(datatypes.NewNodeEvent(datatypes.EventNodeStart,
			datatypes.NodeRetrieve, nil)))
	}

	frames := decodeSSEFrames(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Empty(t, frames[0].PrevHash)
	assert.Equal(t, frames[0].Hash, frames[1].PrevHash)
	assert.Equal(t, frames[1].Hash, frames[2].PrevHash)

	// the hash is reproducible from the serialized frame
	for _, f := range frames {
		expected := f.Hash
		f.Hash = ""
		assert.Equal(t, expected, computeEventHash(f))
	}
}

func TestSSEWriterKeepAlive(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteKeepAlive())
	assert.Equal(t, ": ping\n\n", rec.Body.String())
	// comments do not enter the hash chain
	require.NoError(t, writer.WriteEvent(datatypes.NewEvent(datatypes.EventThreadCreated, nil)))
	frames := decodeSSEFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0].PrevHash)
}
