// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/docentlab/docent/datatypes"
)

const badgerKeyPrefix = "session/"

// BadgerConfig configures the durable checkpoint backend.
type BadgerConfig struct {
	// Path is the on-disk directory; ignored when InMemory is set.
	Path string
	// InMemory runs without persistence (tests, ephemeral deployments).
	InMemory bool
	// TTL expires idle sessions; zero keeps them forever.
	TTL time.Duration
}

// BadgerStore persists sessions in a local Badger database. Records are
// versioned JSON documents keyed by session/<thread_id>.
type BadgerStore struct {
	db    *badger.DB
	ttl   time.Duration
	locks *KeyedLocks
}

func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	return &BadgerStore{
		db:    db,
		ttl:   cfg.TTL,
		locks: NewKeyedLocks(10 * time.Minute),
	}, nil
}

func (b *BadgerStore) Create(ctx context.Context, threadID string) (*datatypes.SessionState, bool, error) {
	if threadID == "" {
		threadID = NewThreadID()
	}
	unlock := b.locks.Lock(threadID)
	defer unlock()

	existing, err := b.load(threadID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	state := datatypes.NewSessionState(threadID)
	if err := b.save(state); err != nil {
		return nil, false, err
	}
	return state, true, nil
}

func (b *BadgerStore) Load(ctx context.Context, threadID string) (*datatypes.SessionState, error) {
	return b.load(threadID)
}

func (b *BadgerStore) Update(ctx context.Context, threadID string, fn func(*datatypes.SessionState) error) (*datatypes.SessionState, error) {
	unlock := b.locks.Lock(threadID)
	defer unlock()

	state, err := b.load(threadID)
	if err != nil {
		return nil, err
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	touch(state)
	if err := b.save(state); err != nil {
		return nil, err
	}
	return state, nil
}

func (b *BadgerStore) Reset(ctx context.Context, threadID string) error {
	_, err := b.Update(ctx, threadID, func(s *datatypes.SessionState) error {
		s.Messages = []datatypes.Message{}
		s.RetryCount = 0
		s.QueryLanguage = ""
		s.ContextMetadata = nil
		return nil
	})
	return err
}

func (b *BadgerStore) List(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerKeyPrefix + prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, badgerKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

func (b *BadgerStore) Delete(ctx context.Context, threadID string) error {
	unlock := b.locks.Lock(threadID)
	defer unlock()
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + threadID))
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", threadID, err)
	}
	return nil
}

func (b *BadgerStore) Close() error {
	b.locks.Close()
	return b.db.Close()
}

func (b *BadgerStore) load(threadID string) (*datatypes.SessionState, error) {
	var state datatypes.SessionState
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + threadID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", threadID, err)
	}
	if err := checkSchema(&state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (b *BadgerStore) save(state *datatypes.SessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", state.ThreadID, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(badgerKeyPrefix+state.ThreadID), payload)
		if b.ttl > 0 {
			entry = entry.WithTTL(b.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", state.ThreadID, err)
	}
	return nil
}
