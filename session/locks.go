// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"sync"
	"time"
)

// KeyedLocks provides one mutex per active thread id with idle eviction
// to bound memory on long-running processes. The locks are not
// reentrant; holders at different layers need separate instances.
type KeyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	idleTTL time.Duration
	stop    chan struct{}
	once    sync.Once
}

type lockEntry struct {
	mu       sync.Mutex
	refs     int
	lastUsed time.Time
}

func NewKeyedLocks(idleTTL time.Duration) *KeyedLocks {
	k := &KeyedLocks{
		entries: make(map[string]*lockEntry),
		idleTTL: idleTTL,
		stop:    make(chan struct{}),
	}
	go k.janitor()
	return k
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *KeyedLocks) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		entry.lastUsed = time.Now()
		k.mu.Unlock()
	}
}

func (k *KeyedLocks) janitor() {
	interval := k.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			k.evictIdle()
		}
	}
}

func (k *KeyedLocks) evictIdle() {
	cutoff := time.Now().Add(-k.idleTTL)
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, entry := range k.entries {
		if entry.refs == 0 && entry.lastUsed.Before(cutoff) {
			delete(k.entries, key)
		}
	}
}

func (k *KeyedLocks) Close() {
	k.once.Do(func() { close(k.stop) })
}
