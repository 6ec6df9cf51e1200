package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailsentry/mailsentry/internal/adapters/cache"
	"github.com/mailsentry/mailsentry/internal/adapters/page"
	"github.com/mailsentry/mailsentry/internal/config"
	"github.com/mailsentry/mailsentry/internal/di"
	"github.com/mailsentry/mailsentry/internal/engine"
	"github.com/mailsentry/mailsentry/internal/scheduler"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	session *page.Session,
	eng *engine.Engine,
	sched *scheduler.Scheduler,
	urlCache *cache.URLCache,
) error {
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Attach to the browser tab and install the page hooks
	if err := session.Attach(ctx); err != nil {
		logger.Error("Failed to attach to browser tab", zap.Error(err))
		return err
	}
	defer session.Close()

	if err := session.Enable(); err != nil {
		logger.Error("Failed to enable page session", zap.Error(err))
		return err
	}

	// Wait for the mail surface to render before the first pass. A timeout
	// is not fatal; the scheduler's tick will catch a late-loading inbox.
	if err := waitForInbox(ctx, cfg, eng, logger); err != nil {
		return err
	}

	sched.Start(ctx)
	logger.Info("Inbox annotation started")

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	sched.Stop()
	urlCache.Stop()

	logger.Info("Shutdown complete")
	return nil
}

// waitForInbox polls for the host page's mail surface until it appears or
// the configured deadline passes.
func waitForInbox(ctx context.Context, cfg *config.Config, eng *engine.Engine, logger *zap.Logger) error {
	poll, err := cfg.GetDuration("devtools.ready_poll_interval")
	if err != nil {
		return fmt.Errorf("invalid ready poll interval: %w", err)
	}
	deadline, err := cfg.GetDuration("devtools.ready_deadline")
	if err != nil {
		return fmt.Errorf("invalid ready deadline: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if eng.InboxReady() {
			logger.Info("Mail surface detected")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitCtx.Done():
			logger.Warn("Mail surface not detected before deadline, continuing anyway",
				zap.Duration("deadline", deadline))
			return nil
		case <-ticker.C:
		}
	}
}
