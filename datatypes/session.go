// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"time"
)

// SessionSchemaVersion is the version stamp on persisted session records.
// Bump when the encoded layout changes; loaders reject newer versions.
const SessionSchemaVersion = 1

// Message roles. History alternates strictly user/assistant.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func NewMessage(role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UnixMilli()}
}

// SessionState is the per-thread conversational state. It is mutated only
// by the pipeline runtime under the store's per-thread lock, and encoded
// as a versioned JSON document owned by this package.
type SessionState struct {
	SchemaVersion   int              `json:"schema_version"`
	ThreadID        string           `json:"thread_id"`
	Messages        []Message        `json:"messages"`
	RetryCount      int              `json:"retry_count"`
	QueryLanguage   string           `json:"query_language,omitempty"`
	ContextMetadata *ContextMetadata `json:"context_metadata,omitempty"`
	Revision        uint64           `json:"revision"`
	CreatedAt       int64            `json:"created_at"`
	UpdatedAt       int64            `json:"updated_at"`
}

func NewSessionState(threadID string) *SessionState {
	now := time.Now().UnixMilli()
	return &SessionState{
		SchemaVersion: SessionSchemaVersion,
		ThreadID:      threadID,
		Messages:      []Message{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AppendTurn appends one user/assistant pair, preserving the strict
// alternation invariant. History length is always 2n.
func (s *SessionState) AppendTurn(user, assistant Message) error {
	if user.Role != RoleUser || assistant.Role != RoleAssistant {
		return fmt.Errorf("turn must be a user/assistant pair, got %s/%s", user.Role, assistant.Role)
	}
	if len(s.Messages)%2 != 0 {
		return fmt.Errorf("history for thread %s has odd length %d", s.ThreadID, len(s.Messages))
	}
	s.Messages = append(s.Messages, user, assistant)
	return nil
}

// Clone returns a deep copy safe to hand outside the store's lock.
func (s *SessionState) Clone() *SessionState {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.ContextMetadata != nil {
		meta := *s.ContextMetadata
		meta.Warnings = append([]string(nil), s.ContextMetadata.Warnings...)
		out.ContextMetadata = &meta
	}
	return &out
}
