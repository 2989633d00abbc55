// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session holds per-thread conversational state. All mutations
// run under a per-thread lock so concurrent asks against one thread
// serialise; revisions increase strictly monotonically per mutation.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docentlab/docent/datatypes"
)

// ErrNotFound is returned when a thread has no stored session.
var ErrNotFound = errors.New("session not found")

// Store maps thread ids to session state.
type Store interface {
	// Create returns the session for threadID, creating it when absent.
	// An empty threadID allocates a new canonical id. The second return
	// reports whether a new session was created.
	Create(ctx context.Context, threadID string) (*datatypes.SessionState, bool, error)

	// Load returns a copy of the stored session or ErrNotFound.
	Load(ctx context.Context, threadID string) (*datatypes.SessionState, error)

	// Update applies fn to the session under the thread lock, bumps the
	// revision and persists the result. fn sees a private copy; an error
	// from fn aborts without persisting.
	Update(ctx context.Context, threadID string, fn func(*datatypes.SessionState) error) (*datatypes.SessionState, error)

	// Reset clears history and counters but keeps the thread id.
	Reset(ctx context.Context, threadID string) error

	// List returns stored thread ids, optionally filtered by prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the session entirely.
	Delete(ctx context.Context, threadID string) error

	Close() error
}

// NewThreadID allocates a canonical thread identifier.
func NewThreadID() string {
	return uuid.New().String()
}

// AppendTurn records one completed ask: the user/assistant pair plus the
// run's language, retry count and context metadata, preserving strict
// alternation.
func AppendTurn(ctx context.Context, store Store, threadID string, user, assistant datatypes.Message, queryLanguage string, retries int, meta *datatypes.ContextMetadata) (*datatypes.SessionState, error) {
	return store.Update(ctx, threadID, func(s *datatypes.SessionState) error {
		if err := s.AppendTurn(user, assistant); err != nil {
			return err
		}
		s.RetryCount = retries
		s.QueryLanguage = queryLanguage
		s.ContextMetadata = meta
		return nil
	})
}

// checkSchema validates the schema version of a stored record.
func checkSchema(state *datatypes.SessionState) error {
	if state.SchemaVersion > datatypes.SessionSchemaVersion {
		return fmt.Errorf("session schema version %d is newer than supported %d",
			state.SchemaVersion, datatypes.SessionSchemaVersion)
	}
	return nil
}

func touch(state *datatypes.SessionState) {
	state.Revision++
	state.UpdatedAt = time.Now().UnixMilli()
}
