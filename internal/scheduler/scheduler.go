// Package scheduler coalesces events from multiple asynchronous host-page
// sources into bounded-rate scan passes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/mailsentry/mailsentry/internal/core"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds the per-source debounce windows and pass limits.
type Config struct {
	MutationDebounce time.Duration
	ScrollDebounce   time.Duration
	FocusDebounce    time.Duration
	HashDebounce     time.Duration
	OpenDebounce     time.Duration
	TickInterval     time.Duration
	MaxPassesPerSec  float64
}

// Passes is the pair of idempotent scan operations the scheduler drives.
type Passes interface {
	ScanInbox(ctx context.Context)
	ScanOpenMessage(ctx context.Context)
}

// Scheduler owns one single-slot debounce timer per event source: any event
// from a source restarts only that source's timer, so a fast-scrolling
// burst and a slow mutation burst never starve each other. Fired timers
// request passes through coalescing channels, and the pass loop drains them
// through a token bucket so coalesced sources cannot exceed a bounded rate.
type Scheduler struct {
	cfg     Config
	page    core.HostPage
	passes  Passes
	logger  *zap.Logger
	limiter *rate.Limiter

	listDebouncers map[core.EventSource]func(func())
	openDebouncer  func(func())

	listReq chan struct{}
	openReq chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler for the given pass implementations.
func New(cfg Config, page core.HostPage, passes Passes, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		page:    page,
		passes:  passes,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxPassesPerSec), 1),
		listReq: make(chan struct{}, 1),
		openReq: make(chan struct{}, 1),
	}
	s.listDebouncers = map[core.EventSource]func(func()){
		core.SourceMutation:   debounce.New(cfg.MutationDebounce),
		core.SourceScroll:     debounce.New(cfg.ScrollDebounce),
		core.SourceFocus:      debounce.New(cfg.FocusDebounce),
		core.SourceHashChange: debounce.New(cfg.HashDebounce),
	}
	s.openDebouncer = debounce.New(cfg.OpenDebounce)
	return s
}

// Start launches the event consumer, the safety-net tick and the pass loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(3)
	go s.consumeEvents(ctx)
	go s.tick(ctx)
	go s.runPasses(ctx)

	// Prime an initial pass so a freshly attached page is annotated without
	// waiting for the first event.
	s.requestList()
	s.requestOpen()
}

// Stop tears down the timers and the pass loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) consumeEvents(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.page.Events():
			if !ok {
				return
			}
			s.dispatch(ev)
		}
	}
}

// dispatch restarts the owning source's timer. Open-message scanning has
// its own channel fed by mutation and navigation events, so it never
// contends with the inbox-list timer.
func (s *Scheduler) dispatch(ev core.SourceEvent) {
	if ev.Source == core.SourceVisibility {
		// The tab may have changed under us while hidden; returning to it
		// re-scans immediately. Going hidden schedules nothing, the tick is
		// already gated on visibility.
		if ev.Visible {
			s.requestList()
			s.requestOpen()
		}
		return
	}
	if d, ok := s.listDebouncers[ev.Source]; ok {
		d(s.requestList)
	}
	switch ev.Source {
	case core.SourceMutation, core.SourceHashChange, core.SourceFocus:
		s.openDebouncer(s.requestOpen)
	}
}

// tick is the low-frequency safety net that re-scans while the page is
// visible, catching anything the mutation hints missed.
func (s *Scheduler) tick(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.page.Visible() {
				s.requestList()
				s.requestOpen()
			}
		}
	}
}

// runPasses serializes all scan passes in one goroutine.
func (s *Scheduler) runPasses(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.listReq:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.passes.ScanInbox(ctx)
		case <-s.openReq:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.passes.ScanOpenMessage(ctx)
		}
	}
}

// requestList schedules a list pass; an already-pending request coalesces.
func (s *Scheduler) requestList() {
	select {
	case s.listReq <- struct{}{}:
	default:
	}
}

func (s *Scheduler) requestOpen() {
	select {
	case s.openReq <- struct{}{}:
	default:
	}
}
