package cache

import (
	"sync"
	"time"

	"github.com/mailsentry/mailsentry/internal/core"
	"go.uber.org/zap"
)

// URLCache caches per-URL verdicts under a fixed freshness window. The same
// URL seen in multiple places or visits within the window reuses the cached
// verdict; an older entry reads as cold and is re-fetched by the caller.
type URLCache struct {
	mu          sync.RWMutex
	entries     map[string]core.URLVerdict
	ttl         time.Duration
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewURLCache creates a URL cache with the given freshness window and
// starts its background sweep.
func NewURLCache(logger *zap.Logger, ttl, cleanupFreq time.Duration) *URLCache {
	c := &URLCache{
		entries:     make(map[string]core.URLVerdict),
		ttl:         ttl,
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	go c.startCleanupTask()

	return c
}

// Get returns a fresh cached verdict for the URL. Entries older than the
// freshness window are treated as missing.
func (c *URLCache) Get(url string) (core.URLVerdict, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.entries[url]
	if !ok {
		return core.URLVerdict{}, false
	}
	if time.Since(v.CheckedAt) > c.ttl {
		return core.URLVerdict{}, false
	}
	return v, true
}

// Set stores a verdict for the URL.
func (c *URLCache) Set(url string, v core.URLVerdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[url] = v
}

// startCleanupTask periodically drops entries past the freshness window.
func (c *URLCache) startCleanupTask() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *URLCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := 0
	for url, v := range c.entries {
		if time.Since(v.CheckedAt) > c.ttl {
			delete(c.entries, url)
			expired++
		}
	}
	if expired > 0 {
		c.logger.Debug("cleaned up expired url entries", zap.Int("expired_count", expired))
	}
}

// Stop stops the background sweep.
func (c *URLCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
