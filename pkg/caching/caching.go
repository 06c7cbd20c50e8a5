package caching

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Entry is a cached response body with the content type it was served with.
type Entry struct {
	ContentType string
	Body        []byte
}

// Cache is a file-based cache of fetched pages with a TTL.
type Cache struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

// NewCache creates a Cache rooted at path, creating the directory if needed.
func NewCache(path string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{path: path, ttl: ttl, now: time.Now}, nil
}

// key is the hex sha256 of the URL.
func (c *Cache) key(url string) string {
	hash := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%x", hash)
}

// Get returns the entry for url if present and younger than the TTL.
func (c *Cache) Get(url string) (Entry, bool) {
	filePath := filepath.Join(c.path, c.key(url))

	info, err := os.Stat(filePath)
	if err != nil {
		return Entry{}, false
	}
	if c.now().Sub(info.ModTime()) > c.ttl {
		return Entry{}, false
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return Entry{}, false
	}
	contentType, body, ok := bytes.Cut(data, []byte("\n"))
	if !ok {
		return Entry{}, false
	}
	return Entry{ContentType: string(contentType), Body: body}, true
}

// Set stores the entry for url, replacing any previous one.
func (c *Cache) Set(url string, e Entry) error {
	filePath := filepath.Join(c.path, c.key(url))

	var buf bytes.Buffer
	buf.Grow(len(e.ContentType) + 1 + len(e.Body))
	buf.WriteString(e.ContentType)
	buf.WriteByte('\n')
	buf.Write(e.Body)

	if err := os.WriteFile(filePath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

// Delete removes the entry for url. A missing entry is not an error.
func (c *Cache) Delete(url string) error {
	err := os.Remove(filepath.Join(c.path, c.key(url)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}
