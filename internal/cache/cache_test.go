package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPutRestore(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Options{Dir: dir})
	require.NoError(t, err)

	key := Key("https://example.com/db.tar.gz")
	entry, err := c.Put(key, "https://example.com/db.tar.gz", writeTemp(t, "db.tar.gz", "payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.Size)

	dest := filepath.Join(t.TempDir(), "out", "db.tar.gz")
	ok, err := c.Restore(key, dest)
	require.NoError(t, err)
	assert.True(t, ok)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	ok, err = c.Restore(Key("other"), dest)
	require.NoError(t, err)
	assert.False(t, ok)

	// metadata survives reopening
	reopened, err := New(Options{Dir: dir})
	require.NoError(t, err)
	_, ok = reopened.Get(key)
	assert.True(t, ok)
}

func TestGetDropsStaleEntries(t *testing.T) {
	c, err := New(Options{Dir: t.TempDir()})
	require.NoError(t, err)

	entry, err := c.Put("k", "u", writeTemp(t, "a", "x"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(entry.Path))

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Options{Dir: dir})
	require.NoError(t, err)

	_, err = c.Put("fresh", "u1", writeTemp(t, "a", "1"))
	require.NoError(t, err)
	old, err := c.Put("old", "u2", writeTemp(t, "b", "22"))
	require.NoError(t, err)
	old.ExpiresAt = time.Now().Add(-time.Hour)

	assert.Equal(t, 1, c.Stats().Expired)
	n, err := c.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, filepath.Join(dir, "old"))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Size)

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Stats().Entries)

	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)
	var meta map[string]*Entry
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Empty(t, meta)
}

func TestKeyAndFormatBytes(t *testing.T) {
	assert.Len(t, Key("a"), 16)
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KiB", FormatBytes(1536))
	assert.Equal(t, "2.0 MiB", FormatBytes(2<<20))
}
