// Package drivertest holds the behavior every prefstore.Driver must share.
package drivertest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"code.byted.org/khicago/prefstore"
)

// Run exercises d through the Driver contract. newDriver must return an
// empty driver for each call.
func Run(t *testing.T, newDriver func(t *testing.T) prefstore.Driver) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		d := newDriver(t)
		_, err := d.Get(context.Background(), "app:standard:missing")
		require.True(t, errors.Is(err, prefstore.ErrNotFound), "got %v", err)
	})

	t.Run("SetGetOverwrite", func(t *testing.T) {
		d := newDriver(t)
		ctx := context.Background()

		require.NoError(t, d.Set(ctx, "app:standard:k", []byte("v1")))
		require.NoError(t, d.Set(ctx, "app:standard:k", []byte("v2")))

		got, err := d.Get(ctx, "app:standard:k")
		require.NoError(t, err)
		require.Equal(t, []byte("v2"), got)
	})

	t.Run("DeleteExists", func(t *testing.T) {
		d := newDriver(t)
		ctx := context.Background()

		require.NoError(t, d.Set(ctx, "app:standard:k", []byte("v")))
		ok, err := d.Exists(ctx, "app:standard:k")
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, d.Delete(ctx, "app:standard:k"))
		ok, err = d.Exists(ctx, "app:standard:k")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, d.Delete(ctx, "app:standard:never"), "deleting a missing key is not an error")
	})

	t.Run("KeysAndClearStayInPrefix", func(t *testing.T) {
		d := newDriver(t)
		ctx := context.Background()

		for _, k := range []string{"app:a:x1", "app:a:x2", "app:a:y", "app:ab:x3", "app:b:x1"} {
			require.NoError(t, d.Set(ctx, k, []byte(k)))
		}

		keys, err := d.Keys(ctx, "app:a", "")
		require.NoError(t, err)
		require.Equal(t, []string{"app:a:x1", "app:a:x2", "app:a:y"}, keys)

		keys, err = d.Keys(ctx, "app:a", "x*")
		require.NoError(t, err)
		require.Equal(t, []string{"app:a:x1", "app:a:x2"}, keys)

		require.NoError(t, d.Clear(ctx, "app:a"))
		keys, err = d.Keys(ctx, "app:a", "*")
		require.NoError(t, err)
		require.Empty(t, keys)

		for _, k := range []string{"app:ab:x3", "app:b:x1"} {
			got, err := d.Get(ctx, k)
			require.NoError(t, err, k)
			require.Equal(t, []byte(k), got)
		}
	})

	t.Run("SetNX", func(t *testing.T) {
		d := newDriver(t)
		ctx := context.Background()

		ok, err := d.SetNX(ctx, "app:standard:k", []byte("first"))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = d.SetNX(ctx, "app:standard:k", []byte("second"))
		require.NoError(t, err)
		require.False(t, ok)

		got, err := d.Get(ctx, "app:standard:k")
		require.NoError(t, err)
		require.Equal(t, []byte("first"), got)
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		d := newDriver(t)
		ctx := context.Background()

		ok, err := d.CompareAndSwap(ctx, "app:standard:k", []byte("a"), []byte("b"))
		require.NoError(t, err)
		require.False(t, ok, "missing key must not be swapped")

		require.NoError(t, d.Set(ctx, "app:standard:k", []byte("a")))

		ok, err = d.CompareAndSwap(ctx, "app:standard:k", []byte("stale"), []byte("b"))
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = d.CompareAndSwap(ctx, "app:standard:k", []byte("a"), []byte("b"))
		require.NoError(t, err)
		require.True(t, ok)

		got, err := d.Get(ctx, "app:standard:k")
		require.NoError(t, err)
		require.Equal(t, []byte("b"), got)
	})

	t.Run("StoreRoundTrip", func(t *testing.T) {
		s := prefstore.New(prefstore.WithDriver(newDriver(t)), prefstore.WithRootNamespace("app"))
		ctx := context.Background()
		slot := prefstore.NewSlot("retry_count", 0, prefstore.InSuite(prefstore.Common))

		require.Equal(t, 0, slot.Get(ctx, s))
		slot.Set(ctx, s, 5)
		require.Equal(t, 5, slot.Get(ctx, s))
		require.NoError(t, slot.Update(ctx, s, func(n int) int { return n + 1 }))
		require.Equal(t, 6, slot.Get(ctx, s))
		slot.Reset(ctx, s)
		require.Equal(t, 0, slot.Get(ctx, s))
	})
}
