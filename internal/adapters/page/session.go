// Package page attaches to a live browser tab over the Chrome DevTools
// Protocol and exposes it as the engine's host-page, node and badge ports.
package page

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	cdppage "github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
	"go.uber.org/zap"

	"github.com/mailsentry/mailsentry/internal/core"
)

// eventBinding is the name of the page-side function the bootstrap script
// calls to report scroll/focus/hash/visibility activity.
const eventBinding = "mailsentryEmit"

// opTimeout bounds every individual protocol round trip. The host tab can
// hang under load; a scan pass must not.
const opTimeout = 3 * time.Second

// Session is one attached DevTools connection to the webmail tab. It
// implements core.HostPage and core.BadgeSurface.
type Session struct {
	devtoolsURL string
	targetMatch string
	conn        *rpcc.Conn
	client      *cdp.Client
	ctx         context.Context
	cancel      context.CancelFunc
	events      chan core.SourceEvent
	visible     atomic.Bool
	logger      *zap.Logger
}

// NewSession creates an unattached session. targetMatch filters the
// candidate tabs by URL substring.
func NewSession(devtoolsURL, targetMatch string, logger *zap.Logger) *Session {
	s := &Session{
		devtoolsURL: devtoolsURL,
		targetMatch: targetMatch,
		events:      make(chan core.SourceEvent, 64),
		logger:      logger,
	}
	s.visible.Store(true)
	return s
}

// Attach connects to the first page target matching the configured URL
// substring, or the first page target at all when none matches.
func (s *Session) Attach(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancel = cancel

	dt := devtool.New(s.devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devtools targets: %w", err)
	}

	var sel *devtool.Target
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if s.targetMatch == "" || strings.Contains(t.URL, s.targetMatch) {
			sel = t
			break
		}
		if sel == nil {
			sel = t
		}
	}
	if sel == nil {
		return fmt.Errorf("no page target at %s", s.devtoolsURL)
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("failed to dial target: %w", err)
	}
	s.conn = conn
	s.client = cdp.NewClient(conn)

	s.logger.Info("attached to page target",
		zap.String("target_url", sel.URL))
	return nil
}

// Enable turns on the protocol domains, installs the event bootstrap in
// the page and starts the event consumers.
func (s *Session) Enable() error {
	if s.client == nil {
		return fmt.Errorf("not attached")
	}
	if err := s.client.DOM.Enable(s.ctx, nil); err != nil {
		return fmt.Errorf("failed to enable DOM domain: %w", err)
	}
	if err := s.client.Page.Enable(s.ctx); err != nil {
		return fmt.Errorf("failed to enable Page domain: %w", err)
	}
	if err := s.client.Runtime.Enable(s.ctx); err != nil {
		return fmt.Errorf("failed to enable Runtime domain: %w", err)
	}
	if err := s.client.Runtime.AddBinding(s.ctx, runtime.NewAddBindingArgs(eventBinding)); err != nil {
		return fmt.Errorf("failed to add event binding: %w", err)
	}
	if _, err := s.client.Page.AddScriptToEvaluateOnNewDocument(s.ctx,
		cdppage.NewAddScriptToEvaluateOnNewDocumentArgs(bootstrapScript)); err != nil {
		return fmt.Errorf("failed to install bootstrap script: %w", err)
	}
	// The tab is usually already loaded when we attach; hook it directly too.
	if _, err := s.client.Runtime.Evaluate(s.ctx, runtime.NewEvaluateArgs(bootstrapScript)); err != nil {
		return fmt.Errorf("failed to bootstrap current document: %w", err)
	}

	go s.consumeInserted()
	go s.consumeRemoved()
	go s.consumeCountUpdated()
	go s.consumeDocumentUpdated()
	go s.consumeBindings()
	go s.consumeNavigation()

	return nil
}

// Close detaches from the target.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Document returns the current page root.
func (s *Session) Document() core.Node {
	ctx, cancel := s.opCtx()
	defer cancel()

	reply, err := s.client.DOM.GetDocument(ctx, nil)
	if err != nil {
		s.logger.Debug("failed to fetch document root", zap.Error(err))
		return nil
	}
	return &node{s: s, id: reply.Root.NodeID}
}

// Events emits re-scan hints from the page.
func (s *Session) Events() <-chan core.SourceEvent {
	return s.events
}

// Visible reports the page's last known visibility state.
func (s *Session) Visible() bool {
	return s.visible.Load()
}

func (s *Session) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, opTimeout)
}

// sendEvent drops on a full channel; events are hints, not a queue.
func (s *Session) sendEvent(ev core.SourceEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Session) consumeInserted() {
	c, err := s.client.DOM.ChildNodeInserted(s.ctx)
	if err != nil {
		s.logger.Debug("failed to subscribe to node insertions", zap.Error(err))
		return
	}
	defer c.Close()
	for {
		if _, err := c.Recv(); err != nil {
			return
		}
		s.sendEvent(core.SourceEvent{Source: core.SourceMutation, Visible: s.Visible()})
	}
}

func (s *Session) consumeRemoved() {
	c, err := s.client.DOM.ChildNodeRemoved(s.ctx)
	if err != nil {
		s.logger.Debug("failed to subscribe to node removals", zap.Error(err))
		return
	}
	defer c.Close()
	for {
		if _, err := c.Recv(); err != nil {
			return
		}
		s.sendEvent(core.SourceEvent{Source: core.SourceMutation, Visible: s.Visible()})
	}
}

func (s *Session) consumeCountUpdated() {
	c, err := s.client.DOM.ChildNodeCountUpdated(s.ctx)
	if err != nil {
		s.logger.Debug("failed to subscribe to child count updates", zap.Error(err))
		return
	}
	defer c.Close()
	for {
		if _, err := c.Recv(); err != nil {
			return
		}
		s.sendEvent(core.SourceEvent{Source: core.SourceMutation, Visible: s.Visible()})
	}
}

func (s *Session) consumeDocumentUpdated() {
	c, err := s.client.DOM.DocumentUpdated(s.ctx)
	if err != nil {
		s.logger.Debug("failed to subscribe to document updates", zap.Error(err))
		return
	}
	defer c.Close()
	for {
		if _, err := c.Recv(); err != nil {
			return
		}
		s.sendEvent(core.SourceEvent{Source: core.SourceMutation, Visible: s.Visible()})
	}
}

// consumeBindings receives the bootstrap script's scroll/focus/hash/
// visibility notifications.
func (s *Session) consumeBindings() {
	c, err := s.client.Runtime.BindingCalled(s.ctx)
	if err != nil {
		s.logger.Debug("failed to subscribe to binding calls", zap.Error(err))
		return
	}
	defer c.Close()
	for {
		ev, err := c.Recv()
		if err != nil {
			return
		}
		if ev.Name != eventBinding {
			continue
		}
		switch {
		case ev.Payload == "scroll":
			s.sendEvent(core.SourceEvent{Source: core.SourceScroll, Visible: s.Visible()})
		case ev.Payload == "focus":
			s.sendEvent(core.SourceEvent{Source: core.SourceFocus, Visible: s.Visible()})
		case ev.Payload == "hashchange":
			s.sendEvent(core.SourceEvent{Source: core.SourceHashChange, Visible: s.Visible()})
		case strings.HasPrefix(ev.Payload, "visibility:"):
			visible := strings.TrimPrefix(ev.Payload, "visibility:") == "visible"
			s.visible.Store(visible)
			s.sendEvent(core.SourceEvent{Source: core.SourceVisibility, Visible: visible})
		}
	}
}

// consumeNavigation maps same-document navigations (the host is a hash
// router) onto the hashchange source.
func (s *Session) consumeNavigation() {
	c, err := s.client.Page.NavigatedWithinDocument(s.ctx)
	if err != nil {
		s.logger.Debug("failed to subscribe to navigation events", zap.Error(err))
		return
	}
	defer c.Close()
	for {
		if _, err := c.Recv(); err != nil {
			return
		}
		s.sendEvent(core.SourceEvent{Source: core.SourceHashChange, Visible: s.Visible()})
	}
}

var _ core.HostPage = (*Session)(nil)
