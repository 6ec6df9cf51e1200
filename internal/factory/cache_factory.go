package factory

import (
	"fmt"

	"github.com/mailsentry/mailsentry/internal/adapters/cache"
	"github.com/mailsentry/mailsentry/internal/config"
	"go.uber.org/zap"
)

// CacheFactory creates the verdict and URL caches based on configuration
type CacheFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewCacheFactory creates a new cache factory
func NewCacheFactory(cfg *config.Config, logger *zap.Logger) *CacheFactory {
	return &CacheFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateVerdictStore creates the session-scoped verdict store
func (f *CacheFactory) CreateVerdictStore() *cache.VerdictStore {
	return cache.NewVerdictStore(f.logger)
}

// CreateURLCache creates the per-URL verdict cache with its freshness window
func (f *CacheFactory) CreateURLCache() (*cache.URLCache, error) {
	ttl, err := f.cfg.GetDuration("cache.url_ttl")
	if err != nil {
		return nil, fmt.Errorf("invalid URL cache TTL: %w", err)
	}
	cleanupFreq, err := f.cfg.GetDuration("cache.cleanup_frequency")
	if err != nil {
		return nil, fmt.Errorf("invalid cache cleanup frequency: %w", err)
	}
	return cache.NewURLCache(f.logger, ttl, cleanupFreq), nil
}
