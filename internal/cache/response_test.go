package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestResponseCache_PutGet(t *testing.T) {
	c, err := NewResponseCache(t.TempDir(), time.Hour)
	require.NoError(t, err)

	in := doc{Name: "manifest", Count: 42}
	require.NoError(t, c.Put("https://example.com/manifest", in))

	var out doc
	require.True(t, c.Get("https://example.com/manifest", &out))
	assert.Equal(t, in, out)
}

func TestResponseCache_Miss(t *testing.T) {
	c, err := NewResponseCache(t.TempDir(), time.Hour)
	require.NoError(t, err)

	var out doc
	assert.False(t, c.Get("https://example.com/nothing", &out))
}

func TestResponseCache_TTLExpiry(t *testing.T) {
	dir := t.TempDir()
	c, err := NewResponseCache(dir, 50*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, c.Put("https://example.com/old", doc{Name: "old"}))

	// Age the entry past the TTL by backdating its mtime.
	path := filepath.Join(dir, Key("https://example.com/old")+".json")
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	var out doc
	assert.False(t, c.Get("https://example.com/old", &out), "expired entry must miss")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "expired entry must be deleted on get")
}

func TestResponseCache_StartupSweep(t *testing.T) {
	dir := t.TempDir()

	c, err := NewResponseCache(dir, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Put("https://example.com/stale", doc{Name: "stale"}))
	require.NoError(t, c.Put("https://example.com/fresh", doc{Name: "fresh"}))

	stalePath := filepath.Join(dir, Key("https://example.com/stale")+".json")
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, old, old))

	// A fresh cache over the same dir sweeps the expired entry.
	c2, err := NewResponseCache(dir, time.Hour)
	require.NoError(t, err)

	_, statErr := os.Stat(stalePath)
	assert.True(t, os.IsNotExist(statErr))

	var out doc
	assert.True(t, c2.Get("https://example.com/fresh", &out))
	assert.Equal(t, "fresh", out.Name)
}

func TestResponseCache_Invalidate(t *testing.T) {
	c, err := NewResponseCache(t.TempDir(), time.Hour)
	require.NoError(t, err)

	require.NoError(t, c.Put("https://example.com/x", doc{Name: "x"}))
	c.Invalidate("https://example.com/x")

	var out doc
	assert.False(t, c.Get("https://example.com/x", &out))
	assert.Equal(t, 0, c.Len())
}

func TestResponseCache_LRUBound(t *testing.T) {
	c, err := NewResponseCache(t.TempDir(), time.Hour)
	require.NoError(t, err)

	for i := 0; i < maxEntries+20; i++ {
		require.NoError(t, c.Put(fmt.Sprintf("https://example.com/entry/%d", i), doc{Count: i}))
	}
	assert.LessOrEqual(t, c.Len(), maxEntries)
}

func TestObjectStore_HasAndRepair(t *testing.T) {
	root := t.TempDir()
	store := NewObjectStore(root)

	content := []byte("asset bytes")
	sum := sha1.Sum(content)
	hash := hex.EncodeToString(sum[:])

	// Absent
	assert.False(t, store.Has(hash, int64(len(content))))

	// Present and valid
	path := store.Path(hash)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, content, 0644))
	assert.True(t, store.Has(hash, int64(len(content))))

	// Corrupted: treated as absent and removed
	require.NoError(t, os.WriteFile(path, []byte("flipped bits!!"), 0644))
	assert.False(t, store.Has(hash, int64(len(content))))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupt object must be deleted")
}

func TestObjectStore_Path(t *testing.T) {
	store := NewObjectStore("/data/assets/objects")
	hash := "abcdef0123456789abcdef0123456789abcdef01"
	assert.Equal(t, filepath.Join("/data/assets/objects", "ab", hash), store.Path(hash))
}
