package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLookupMissThenHitIncrementsHitCount(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	_, ok, err := c.Lookup(ctx, "hello", "en", "fr", "gemini-2.0-flash")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Store(ctx, "hello", "en", "fr", "gemini-2.0-flash", "bonjour"))

	text, ok, err := c.Lookup(ctx, "hello", "en", "fr", "gemini-2.0-flash")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bonjour", text)

	hits, err := c.HitCount(ctx, "hello", "en", "fr", "gemini-2.0-flash")
	require.NoError(t, err)
	require.Equal(t, int64(1), hits)
}

func TestKeyIncludesModel(t *testing.T) {
	k1 := Key("hello", "en", "fr", "gemini-2.0-flash")
	k2 := Key("hello", "en", "fr", "gpt-4o-mini")
	require.NotEqual(t, k1, k2)
}
