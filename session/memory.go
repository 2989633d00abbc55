// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docentlab/docent/datatypes"
)

// MemoryStore keeps sessions in process memory. Used in lightweight
// deployments and tests; TTL expiry is checked lazily on access.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*datatypes.SessionState
	expiry   map[string]time.Time
	ttl      time.Duration
	locks    *KeyedLocks
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*datatypes.SessionState),
		expiry:   make(map[string]time.Time),
		ttl:      ttl,
		locks:    NewKeyedLocks(10 * time.Minute),
	}
}

func (m *MemoryStore) Create(ctx context.Context, threadID string) (*datatypes.SessionState, bool, error) {
	if threadID == "" {
		threadID = NewThreadID()
	}
	unlock := m.locks.Lock(threadID)
	defer unlock()

	if existing := m.get(threadID); existing != nil {
		return existing.Clone(), false, nil
	}
	state := datatypes.NewSessionState(threadID)
	m.put(state)
	return state.Clone(), true, nil
}

func (m *MemoryStore) Load(ctx context.Context, threadID string) (*datatypes.SessionState, error) {
	if state := m.get(threadID); state != nil {
		return state.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Update(ctx context.Context, threadID string, fn func(*datatypes.SessionState) error) (*datatypes.SessionState, error) {
	unlock := m.locks.Lock(threadID)
	defer unlock()

	state := m.get(threadID)
	if state == nil {
		return nil, ErrNotFound
	}
	working := state.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	touch(working)
	m.put(working)
	return working.Clone(), nil
}

func (m *MemoryStore) Reset(ctx context.Context, threadID string) error {
	_, err := m.Update(ctx, threadID, func(s *datatypes.SessionState) error {
		s.Messages = []datatypes.Message{}
		s.RetryCount = 0
		s.QueryLanguage = ""
		s.ContextMetadata = nil
		return nil
	})
	return err
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		if exp, ok := m.expiry[id]; ok && exp.Before(now) {
			continue
		}
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Delete(ctx context.Context, threadID string) error {
	unlock := m.locks.Lock(threadID)
	defer unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, threadID)
	delete(m.expiry, threadID)
	return nil
}

func (m *MemoryStore) Close() error {
	m.locks.Close()
	return nil
}

func (m *MemoryStore) get(threadID string) *datatypes.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.sessions[threadID]
	if !ok {
		return nil
	}
	if exp, hasTTL := m.expiry[threadID]; hasTTL && exp.Before(time.Now()) {
		return nil
	}
	return state
}

func (m *MemoryStore) put(state *datatypes.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[state.ThreadID] = state
	if m.ttl > 0 {
		m.expiry[state.ThreadID] = time.Now().Add(m.ttl)
	}
}
