// Package cache keeps downloaded data packages between builds.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/phovea/productbuild/internal/fsutil"
)

// DefaultMaxAge is how long an entry is reused.
const DefaultMaxAge = 7 * 24 * time.Hour

// Cache manages cached downloads
type Cache struct {
	dir      string
	maxAge   time.Duration
	metaFile string

	mu       sync.RWMutex
	metadata map[string]*Entry
}

// Entry represents a cached download
type Entry struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
}

// Options configures cache behavior
type Options struct {
	Dir    string
	MaxAge time.Duration
}

// DefaultDir returns the per-user cache directory.
func DefaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "productbuild")
}

// New opens the cache in opts.Dir.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		opts.Dir = DefaultDir()
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	c := &Cache{
		dir:      opts.Dir,
		maxAge:   opts.MaxAge,
		metaFile: filepath.Join(opts.Dir, "metadata.json"),
		metadata: make(map[string]*Entry),
	}
	c.loadMetadata()
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) loadMetadata() {
	data, err := os.ReadFile(c.metaFile)
	if err != nil {
		return
	}
	meta := make(map[string]*Entry)
	if err := json.Unmarshal(data, &meta); err != nil {
		log.Warn("Ignoring corrupt cache metadata", "path", c.metaFile, "error", err)
		return
	}
	c.metadata = meta
}

func (c *Cache) saveMetadataLocked() error {
	data, err := json.MarshalIndent(c.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.metaFile, data, 0644)
}

// Key generates a cache key from inputs
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Get returns a live entry. Expired entries and entries whose file vanished are dropped.
func (c *Cache) Get(key string) (*Entry, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.metadata[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) || !fsutil.Exists(entry.Path) {
		_ = c.Delete(key)
		return nil, false
	}
	return entry, true
}

// Restore copies the entry of key to dest and reports whether there was one.
func (c *Cache) Restore(key, dest string) (bool, error) {
	entry, ok := c.Get(key)
	if !ok {
		return false, nil
	}
	if err := fsutil.CopyFile(entry.Path, dest); err != nil {
		return false, fmt.Errorf("failed to restore cached %s: %w", entry.URL, err)
	}
	return true, nil
}

// Put stores a copy of the downloaded file src for url under key.
func (c *Cache) Put(key, url, src string) (*Entry, error) {
	if c == nil {
		return nil, nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(c.dir, key, filepath.Base(src))
	if err := fsutil.CopyFile(src, path); err != nil {
		return nil, fmt.Errorf("failed to cache %s: %w", url, err)
	}

	now := time.Now()
	entry := &Entry{
		Key:       key,
		URL:       url,
		Path:      path,
		CreatedAt: now,
		ExpiresAt: now.Add(c.maxAge),
		Size:      info.Size(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = entry
	if err := c.saveMetadataLocked(); err != nil {
		return nil, err
	}
	log.Debug("Cached download", "url", url, "key", key)
	return entry, nil
}

// Delete removes an entry
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.metadata[key]; !ok {
		return nil
	}
	delete(c.metadata, key)
	if err := os.RemoveAll(filepath.Join(c.dir, key)); err != nil {
		return err
	}
	return c.saveMetadataLocked()
}

// Clear removes all entries
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.metadata {
		if err := os.RemoveAll(filepath.Join(c.dir, key)); err != nil {
			return err
		}
	}
	c.metadata = make(map[string]*Entry)
	return c.saveMetadataLocked()
}

// Prune removes expired entries and returns how many were removed.
func (c *Cache) Prune() (int, error) {
	c.mu.RLock()
	var expired []string
	now := time.Now()
	for key, e := range c.metadata {
		if now.After(e.ExpiresAt) {
			expired = append(expired, key)
		}
	}
	c.mu.RUnlock()

	for _, key := range expired {
		if err := c.Delete(key); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// Stats summarizes the cache.
type Stats struct {
	Dir     string
	Entries int
	Expired int
	Size    int64
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Dir: c.dir, Entries: len(c.metadata)}
	now := time.Now()
	for _, e := range c.metadata {
		s.Size += e.Size
		if now.After(e.ExpiresAt) {
			s.Expired++
		}
	}
	return s
}

// FormatBytes renders a size for humans.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
