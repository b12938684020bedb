package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	mem, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	return map[string]Store{
		"sqlite":        sqlite,
		"sqlite-memory": mem,
		"memory":        NewMemoryStore(),
	}
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "tabState:1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "tabState:1", []byte(`{"a":1}`)))
			got, err := s.Get(ctx, "tabState:1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":1}`, string(got))

			require.NoError(t, s.Set(ctx, "tabState:1", []byte(`{"a":2}`)))
			got, err = s.Get(ctx, "tabState:1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":2}`, string(got))

			require.NoError(t, s.Remove(ctx, "tabState:1"))
			_, err = s.Get(ctx, "tabState:1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Remove(ctx, "tabState:1"), "removing twice is fine")
		})
	}
}

func TestStore_Keys(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"tabState:2", "tabState:10", "other:1", "tabState_x"} {
				require.NoError(t, s.Set(ctx, k, []byte("{}")))
			}

			keys, err := s.Keys(ctx, "tabState:")
			require.NoError(t, err)
			assert.Equal(t, []string{"tabState:10", "tabState:2"}, keys)

			keys, err = s.Keys(ctx, "nothing:")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "tabState:7", []byte(`{"agentState":"idle"}`)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "tabState:7")
	require.NoError(t, err)
	assert.Equal(t, `{"agentState":"idle"}`, string(got))
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	in := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", in))
	in[0] = 'X'

	out, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
}

func TestStore_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, s.Set(ctx, fmt.Sprintf("k:%02d", i), []byte("v")))
				}(i)
			}
			wg.Wait()

			keys, err := s.Keys(ctx, "k:")
			require.NoError(t, err)
			assert.Len(t, keys, 20)
		})
	}
}
