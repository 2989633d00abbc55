// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docentlab/docent/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both backends satisfy the same contract; run the suite against each.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	badgerStore, err := NewBadgerStore(BadgerConfig{InMemory: true, TTL: time.Hour})
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(time.Hour),
		"badger": badgerStore,
	}
}

func TestStoreCreateAndLoad(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			state, created, err := store.Create(ctx, "")
			require.NoError(t, err)
			assert.True(t, created)
			assert.NotEmpty(t, state.ThreadID)
			assert.Equal(t, datatypes.SessionSchemaVersion, state.SchemaVersion)

			again, created, err := store.Create(ctx, state.ThreadID)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, state.ThreadID, again.ThreadID)

			loaded, err := store.Load(ctx, state.ThreadID)
			require.NoError(t, err)
			assert.Empty(t, loaded.Messages)

			_, err = store.Load(ctx, "missing-thread")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreRevisionMonotonic(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			state, _, err := store.Create(ctx, "rev-thread")
			require.NoError(t, err)

			last := state.Revision
			for i := 0; i < 5; i++ {
				updated, err := AppendTurn(ctx, store, "rev-thread",
					datatypes.NewMessage(datatypes.RoleUser, fmt.Sprintf("q%d", i)),
					datatypes.NewMessage(datatypes.RoleAssistant, fmt.Sprintf("a%d", i)),
					"en", 0, nil)
				require.NoError(t, err)
				assert.Greater(t, updated.Revision, last)
				last = updated.Revision
			}
		})
	}
}

func TestStoreAlternationInvariant(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			_, _, err := store.Create(ctx, "alt-thread")
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				_, err := AppendTurn(ctx, store, "alt-thread",
					datatypes.NewMessage(datatypes.RoleUser, "q"),
					datatypes.NewMessage(datatypes.RoleAssistant, "a"),
					"en", 0, nil)
				require.NoError(t, err)
			}

			state, err := store.Load(ctx, "alt-thread")
			require.NoError(t, err)
			require.Len(t, state.Messages, 6)
			for i, m := range state.Messages {
				if i%2 == 0 {
					assert.Equal(t, datatypes.RoleUser, m.Role)
				} else {
					assert.Equal(t, datatypes.RoleAssistant, m.Role)
				}
			}

			// A malformed pair is rejected and nothing persists.
			_, err = AppendTurn(ctx, store, "alt-thread",
				datatypes.NewMessage(datatypes.RoleAssistant, "bad"),
				datatypes.NewMessage(datatypes.RoleAssistant, "pair"),
				"en", 0, nil)
			require.Error(t, err)
			after, err := store.Load(ctx, "alt-thread")
			require.NoError(t, err)
			assert.Len(t, after.Messages, 6)
		})
	}
}

func TestStoreConcurrentUpdatesSerialise(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			_, _, err := store.Create(ctx, "conc-thread")
			require.NoError(t, err)

			const writers = 16
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := AppendTurn(ctx, store, "conc-thread",
						datatypes.NewMessage(datatypes.RoleUser, "q"),
						datatypes.NewMessage(datatypes.RoleAssistant, "a"),
						"en", 0, nil)
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			state, err := store.Load(ctx, "conc-thread")
			require.NoError(t, err)
			assert.Len(t, state.Messages, writers*2)
			assert.Equal(t, uint64(writers), state.Revision)
		})
	}
}

func TestStoreResetAndDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			_, _, err := store.Create(ctx, "rd-thread")
			require.NoError(t, err)
			_, err = AppendTurn(ctx, store, "rd-thread",
				datatypes.NewMessage(datatypes.RoleUser, "q"),
				datatypes.NewMessage(datatypes.RoleAssistant, "a"),
				"ru", 1, &datatypes.ContextMetadata{ModelName: "m"})
			require.NoError(t, err)

			require.NoError(t, store.Reset(ctx, "rd-thread"))
			state, err := store.Load(ctx, "rd-thread")
			require.NoError(t, err)
			assert.Empty(t, state.Messages)
			assert.Zero(t, state.RetryCount)
			assert.Nil(t, state.ContextMetadata)

			require.NoError(t, store.Delete(ctx, "rd-thread"))
			_, err = store.Load(ctx, "rd-thread")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			for _, id := range []string{"team-a-1", "team-a-2", "team-b-1"} {
				_, _, err := store.Create(ctx, id)
				require.NoError(t, err)
			}

			all, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			teamA, err := store.List(ctx, "team-a-")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"team-a-1", "team-a-2"}, teamA)
		})
	}
}
