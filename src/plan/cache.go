package plan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"faultscope/src/logger"
	"faultscope/src/metrics"
	"faultscope/src/transport"
)

// Cache holds local copies of remote artifacts. Files are content-addressed by
// the remote host and path, so entries written by an earlier process are
// reused. Entries only leave the cache through Invalidate.
type Cache struct {
	dir       string
	transport transport.Transport
	logger    logger.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	entries map[string]string // remote path -> local path
	group   singleflight.Group
}

// NewCache creates dir if needed.
func NewCache(dir string, t transport.Transport, log logger.Logger, m *metrics.Metrics) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		dir:       dir,
		transport: t,
		logger:    log,
		metrics:   m,
		entries:   make(map[string]string),
	}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// PathFor returns the local file used for remotePath.
func (c *Cache) PathFor(remotePath string) string {
	sum := sha256.Sum256([]byte(c.transport.Name() + ":" + remotePath))
	name := hex.EncodeToString(sum[:])
	if strings.HasSuffix(remotePath, ".gz") {
		name += ".gz"
	}
	return filepath.Join(c.dir, name)
}

// Fetch returns the local copy of remotePath, downloading it at most once even
// under concurrent callers.
func (c *Cache) Fetch(ctx context.Context, remotePath string) (localPath string, hit bool, err error) {
	if p, ok := c.lookup(remotePath); ok {
		c.metrics.CacheEvent(metrics.CacheHit)
		return p, true, nil
	}

	downloaded := false
	v, err, _ := c.group.Do(remotePath, func() (interface{}, error) {
		// A flight that finished just before this one started already
		// populated the entry.
		if p, ok := c.lookup(remotePath); ok {
			return p, nil
		}
		local := c.PathFor(remotePath)
		c.logger.Info("downloading %s into cache", remotePath)
		if err := c.transport.Download(ctx, remotePath, local); err != nil {
			return "", err
		}
		c.metrics.Download()
		downloaded = true
		c.mu.Lock()
		c.entries[remotePath] = local
		c.mu.Unlock()
		return local, nil
	})
	if err != nil {
		return "", false, err
	}
	if downloaded {
		c.metrics.CacheEvent(metrics.CacheMiss)
	} else {
		c.metrics.CacheEvent(metrics.CacheHit)
	}
	return v.(string), !downloaded, nil
}

// lookup checks the in-memory index, then the disk.
func (c *Cache) lookup(remotePath string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.entries[remotePath]; ok {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
		delete(c.entries, remotePath)
	}
	p := c.PathFor(remotePath)
	if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
		c.entries[remotePath] = p
		return p, true
	}
	return "", false
}

// Invalidate drops the entry for remotePath and removes its file.
func (c *Cache) Invalidate(remotePath string) error {
	c.mu.Lock()
	delete(c.entries, remotePath)
	c.mu.Unlock()

	c.metrics.CacheEvent(metrics.CacheInvalidate)
	err := os.Remove(c.PathFor(remotePath))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cached copy of %s: %w", remotePath, err)
	}
	c.logger.Debug("invalidated cache entry for %s", remotePath)
	return nil
}

// Len returns the number of indexed entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
