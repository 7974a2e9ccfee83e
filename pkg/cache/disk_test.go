package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Value string `json:"value"`
}

func TestDiskCacheSetAndGet(t *testing.T) {
	c, err := NewDiskCache(t.TempDir(), time.Minute, "v1")
	require.NoError(t, err)

	require.NoError(t, c.Set("key", sample{Value: "hello"}))

	var out sample
	ok, err := c.Get("key", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", out.Value)
}

func TestDiskCacheMiss(t *testing.T) {
	c, err := NewDiskCache(t.TempDir(), time.Minute, "v1")
	require.NoError(t, err)

	var out sample
	ok, err := c.Get("missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskCacheTTLExpiry(t *testing.T) {
	c, err := NewDiskCache(t.TempDir(), 30*time.Millisecond, "v1")
	require.NoError(t, err)

	require.NoError(t, c.Set("key", sample{Value: "content"}))

	var out sample
	ok, err := c.Get("key", &out)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	ok, err = c.Get("key", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskCachePromptVersionMismatchIsAMiss(t *testing.T) {
	dir := t.TempDir()
	oldCache, err := NewDiskCache(dir, time.Minute, "v1")
	require.NoError(t, err)
	require.NoError(t, oldCache.Set("key", sample{Value: "stale"}))

	newCache, err := NewDiskCache(dir, time.Minute, "v2")
	require.NoError(t, err)

	var out sample
	ok, err := newCache.Get("key", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskCacheOverwrite(t *testing.T) {
	c, err := NewDiskCache(t.TempDir(), time.Minute, "v1")
	require.NoError(t, err)

	require.NoError(t, c.Set("key", sample{Value: "old"}))
	require.NoError(t, c.Set("key", sample{Value: "new"}))

	var out sample
	ok, err := c.Get("key", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", out.Value)
}

func TestDiskCacheInvalidate(t *testing.T) {
	c, err := NewDiskCache(t.TempDir(), time.Minute, "v1")
	require.NoError(t, err)

	require.NoError(t, c.Set("key", sample{Value: "x"}))
	require.NoError(t, c.Invalidate("key"))

	var out sample
	ok, err := c.Get("key", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskCacheDistinctKeysDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	c, err := NewDiskCache(dir, time.Minute, "v1")
	require.NoError(t, err)

	require.NoError(t, c.Set("alpha", sample{Value: "a"}))
	require.NoError(t, c.Set("beta", sample{Value: "b"}))

	var a, b sample
	_, err = c.Get("alpha", &a)
	require.NoError(t, err)
	_, err = c.Get("beta", &b)
	require.NoError(t, err)
	assert.Equal(t, "a", a.Value)
	assert.Equal(t, "b", b.Value)
}

func TestDiskCacheCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	_, err := NewDiskCache(dir, time.Minute, "v1")
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
