// Package drivertest runs the behaviour every keystore driver must share
// against a live session. Driver packages call Run from their own tests.
package drivertest

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/keystore/internal/affinity"
	"github.com/oriys/keystore/internal/keystore"
	"github.com/oriys/keystore/internal/workspace"
)

// Workers is the fan-out of the concurrent increment check.
const Workers = 16

// Opener returns a fresh session for one subtest. Run closes it.
type Opener func(t *testing.T) *keystore.Session

// Run exercises the uniform operations through sessions from open. Keys are
// prefixed with a random id so a shared backend can be reused between runs.
func Run(t *testing.T, open Opener) {
	t.Helper()
	prefix := "kst:" + uuid.NewString() + ":"
	key := func(name string) string { return prefix + name }

	with := func(name string, fn func(t *testing.T, ctx context.Context, s *keystore.Session)) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := affinity.WithWorker(context.Background(), 1)
			fn(t, ctx, s)
		})
	}

	with("AddIsIdempotent", func(t *testing.T, ctx context.Context, s *keystore.Session) {
		k := key("add")
		added, err := s.Add(ctx, k, "first")
		require.NoError(t, err)
		assert.True(t, added)

		added, err = s.Add(ctx, k, "second")
		require.NoError(t, err)
		assert.False(t, added)

		v, found, err := s.Get(ctx, nil, k)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "first", string(v))
	})

	with("SetGetRoundTrip", func(t *testing.T, ctx context.Context, s *keystore.Session) {
		ws := workspace.New(256)
		for i, v := range []string{"v", "hello world", "~!@#$%^&*()_+{}|:<>?", "0"} {
			k := key("set") + string(rune('a'+i))
			require.NoError(t, s.Set(ctx, k, v))
			got, found, err := s.Get(ctx, ws, k)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, v, string(got))
		}
		require.NoError(t, s.Set(ctx, key("seta"), "replaced"))
		got, _, err := s.Get(ctx, ws, key("seta"))
		require.NoError(t, err)
		assert.Equal(t, "replaced", string(got))
	})

	with("GetMissing", func(t *testing.T, ctx context.Context, s *keystore.Session) {
		v, found, err := s.Get(ctx, nil, key("missing"))
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, v)
	})

	with("IncrementThenDecrement", func(t *testing.T, ctx context.Context, s *keystore.Session) {
		k := key("counter")
		n, err := s.Increment(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.Decrement(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	with("DeleteAndExists", func(t *testing.T, ctx context.Context, s *keystore.Session) {
		k := key("del")
		deleted, err := s.Delete(ctx, k)
		require.NoError(t, err)
		assert.False(t, deleted)

		require.NoError(t, s.Set(ctx, k, "x"))
		exists, err := s.Exists(ctx, k)
		require.NoError(t, err)
		assert.True(t, exists)

		deleted, err = s.Delete(ctx, k)
		require.NoError(t, err)
		assert.True(t, deleted)

		exists, err = s.Exists(ctx, k)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	with("Expire", func(t *testing.T, ctx context.Context, s *keystore.Session) {
		ok, err := s.Expire(ctx, key("expire-missing"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		k := key("expire")
		require.NoError(t, s.Set(ctx, k, "x"))
		ok, err = s.Expire(ctx, k, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		exists, err := s.Exists(ctx, k)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	with("ConcurrentIncrement", func(t *testing.T, _ context.Context, s *keystore.Session) {
		k := key("concurrent")
		var wg sync.WaitGroup
		errs := make(chan error, Workers)
		for i := 0; i < Workers; i++ {
			wg.Add(1)
			go func(id affinity.WorkerID) {
				defer wg.Done()
				ctx := affinity.WithWorker(context.Background(), id)
				if _, err := s.Increment(ctx, k); err != nil {
					errs <- err
				}
			}(affinity.WorkerID(i + 1))
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		v, found, err := s.Get(affinity.WithWorker(context.Background(), 1), nil, k)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, strconv.Itoa(Workers), string(v))
	})
}
