package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mailsentry/mailsentry/internal/adapters/cache"
	"github.com/mailsentry/mailsentry/internal/adapters/page"
	"github.com/mailsentry/mailsentry/internal/badge"
	"github.com/mailsentry/mailsentry/internal/config"
	"github.com/mailsentry/mailsentry/internal/core"
	"github.com/mailsentry/mailsentry/internal/engine"
	"github.com/mailsentry/mailsentry/internal/factory"
	"github.com/mailsentry/mailsentry/internal/linkscan"
	"github.com/mailsentry/mailsentry/internal/logging"
	"github.com/mailsentry/mailsentry/internal/scheduler"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewAnalysisFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCacheFactory); err != nil {
		return nil, err
	}

	// Register analysis client
	if err := container.Provide(func(f *factory.AnalysisFactory) (core.AnalysisClient, error) {
		return f.CreateAnalysisClient()
	}); err != nil {
		return nil, err
	}

	// Register verdict store
	if err := container.Provide(func(f *factory.CacheFactory) *cache.VerdictStore {
		return f.CreateVerdictStore()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *cache.VerdictStore) core.VerdictStore {
		return s
	}); err != nil {
		return nil, err
	}

	// Register URL cache
	if err := container.Provide(func(f *factory.CacheFactory) (*cache.URLCache, error) {
		return f.CreateURLCache()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(c *cache.URLCache) core.URLCache {
		return c
	}); err != nil {
		return nil, err
	}

	// Register page session
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *page.Session {
		return page.NewSession(
			cfg.GetString("devtools.url"),
			cfg.GetString("devtools.target_url_contains"),
			logger,
		)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *page.Session) core.HostPage {
		return s
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *page.Session) core.BadgeSurface {
		return s
	}); err != nil {
		return nil, err
	}

	// Register badge synchronizer
	if err := container.Provide(func(surface core.BadgeSurface, store core.VerdictStore, cfg *config.Config, logger *zap.Logger) *badge.Synchronizer {
		return badge.NewSynchronizer(surface, store, cfg.GetString("dashboard.base_url"), logger)
	}); err != nil {
		return nil, err
	}

	// Register link scanner
	if err := container.Provide(func(urls core.URLCache, analyzer core.AnalysisClient, badges *badge.Synchronizer, cfg *config.Config, logger *zap.Logger) *linkscan.Scanner {
		return linkscan.NewScanner(urls, analyzer, badges, cfg.GetBool("analysis.private_mode"), logger)
	}); err != nil {
		return nil, err
	}

	// Register annotation engine
	if err := container.Provide(func(
		hostPage core.HostPage,
		analyzer core.AnalysisClient,
		store core.VerdictStore,
		badges *badge.Synchronizer,
		links *linkscan.Scanner,
		cfg *config.Config,
		logger *zap.Logger,
	) *engine.Engine {
		return engine.New(hostPage, analyzer, store, badges, links, cfg.GetBool("analysis.private_mode"), logger)
	}); err != nil {
		return nil, err
	}

	// Register scheduler
	if err := container.Provide(func(cfg *config.Config, hostPage core.HostPage, eng *engine.Engine, logger *zap.Logger) (*scheduler.Scheduler, error) {
		sc, err := factory.SchedulerConfig(cfg)
		if err != nil {
			return nil, err
		}
		return scheduler.New(sc, hostPage, eng, logger), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}
