// Package cache provides the three on-disk caches used by the
// interpretation pipeline: concept expansion, LLM decision, and OMOP
// query result caching. Entries carry a prompt version alongside their
// TTL so a prompt-template change invalidates previously cached answers
// without needing a cache-wide flush (spec.md §4.4, §9).
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// entry is the on-disk envelope around a cached payload.
type entry struct {
	PromptVersion string          `json:"prompt_version"`
	StoredAt      time.Time       `json:"stored_at"`
	Payload       json.RawMessage `json:"payload"`
}

// DiskCache is a thread-safe, file-backed cache keyed by an arbitrary
// string. Each entry is written as its own JSON file via a write-to-temp,
// rename-into-place sequence so a crash mid-write never leaves a
// truncated file behind for a reader to trip over. Expired or
// stale-prompt-version entries are treated as misses and cleaned up
// lazily on Get, mirroring the runbook cache's lazy-expiry idiom.
type DiskCache struct {
	mu            sync.Mutex
	dir           string
	ttl           time.Duration
	promptVersion string
}

// NewDiskCache creates (if needed) the cache directory and returns a
// cache bound to it.
func NewDiskCache(dir string, ttl time.Duration, promptVersion string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir %s: %w", dir, err)
	}
	return &DiskCache{dir: dir, ttl: ttl, promptVersion: promptVersion}, nil
}

func (c *DiskCache) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Get unmarshals the cached payload for key into out. It returns
// (false, nil) on a clean miss (absent, expired, or prompt-version
// mismatch) and a non-nil error only for unexpected I/O or decode
// failures on an otherwise-present file.
func (c *DiskCache) Get(key string, out any) (bool, error) {
	path := c.pathFor(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("cache: read %s: %w", path, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", path, err)
	}

	if e.PromptVersion != c.promptVersion || time.Since(e.StoredAt) > c.ttl {
		_ = os.Remove(path)
		return false, nil
	}

	if err := json.Unmarshal(e.Payload, out); err != nil {
		return false, fmt.Errorf("cache: decode payload %s: %w", path, err)
	}
	return true, nil
}

// Set stores value under key, stamped with the cache's current prompt
// version and the current time.
func (c *DiskCache) Set(key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal payload: %w", err)
	}
	e := entry{PromptVersion: c.promptVersion, StoredAt: time.Now(), Payload: payload}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}

	path := c.pathFor(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cache: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache: rename into place: %w", err)
	}
	return nil
}

// Invalidate removes the cached entry for key, if present.
func (c *DiskCache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.pathFor(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cache: invalidate %s: %w", key, err)
	}
	return nil
}
