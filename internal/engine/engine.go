// Package engine orchestrates scan passes over the host page: extraction,
// identity resolution, cache consultation, analysis dispatch and badge
// repair. A pass is idempotent; running it twice over an unchanged tree
// changes nothing.
package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mailsentry/mailsentry/internal/badge"
	"github.com/mailsentry/mailsentry/internal/core"
	"github.com/mailsentry/mailsentry/internal/extract"
	"github.com/mailsentry/mailsentry/internal/identity"
	"github.com/mailsentry/mailsentry/internal/linkscan"
	"go.uber.org/zap"
)

// Structural selectors for the host page's known markup variants.
const (
	rowSelector         = `tr.zA, tr[role="row"], div[data-message-id]`
	mainSelector        = `[role="main"]`
	openSubjectSelector = "h2.hP"
	openBodySelector    = "div.a3s"
	openSenderSelector  = "span.gD[email]"
	bodyLinkSelector    = `a[href^="http"]`
)

// Engine drives inbox-list and open-message scan passes.
type Engine struct {
	page        core.HostPage
	analyzer    core.AnalysisClient
	store       core.VerdictStore
	badges      *badge.Synchronizer
	links       *linkscan.Scanner
	privateMode bool
	logger      *zap.Logger

	mu            sync.Mutex
	sigs          map[core.ItemKey]identity.Signature
	threadsActive map[core.ItemKey]struct{}
}

// New creates the annotation engine.
func New(
	page core.HostPage,
	analyzer core.AnalysisClient,
	store core.VerdictStore,
	badges *badge.Synchronizer,
	links *linkscan.Scanner,
	privateMode bool,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		page:          page,
		analyzer:      analyzer,
		store:         store,
		badges:        badges,
		links:         links,
		privateMode:   privateMode,
		logger:        logger,
		sigs:          make(map[core.ItemKey]identity.Signature),
		threadsActive: make(map[core.ItemKey]struct{}),
	}
}

// InboxReady reports whether the host page has rendered its mail surface.
func (e *Engine) InboxReady() bool {
	doc := e.page.Document()
	if doc == nil {
		return false
	}
	return doc.Query(mainSelector) != nil || doc.Query("tr.zA") != nil
}

// ScanInbox re-evaluates all currently visible inbox rows. Most rows hit
// the cache, so a pass over an unchanged tree is cheap.
func (e *Engine) ScanInbox(ctx context.Context) {
	doc := e.page.Document()
	if doc == nil {
		return
	}

	passID := uuid.NewString()[:8]
	rows := doc.QueryAll(rowSelector)
	e.logger.Debug("inbox scan pass",
		zap.String("pass_id", passID),
		zap.Int("rows", len(rows)))

	for _, row := range rows {
		e.processRow(ctx, row)
	}
}

// processRow handles one inbox row. A failure here never aborts the pass.
func (e *Engine) processRow(ctx context.Context, row core.Node) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("row processing panicked", zap.Any("panic", r))
		}
	}()

	key := identity.ResolveKey(row)
	if key == "" {
		return
	}

	item := extract.Item(row)

	if v, ok := e.store.Get(key); ok {
		// Already analyzed; repair the badge if the host recycled the row.
		e.badges.Ensure(row, item.SubjectAnchor, key, v)
		return
	}
	if e.badges.Has(row, key) {
		return
	}
	if item.EmailText() == "" && item.Sender == "" {
		// Extraction miss: nothing to analyze, not an error.
		return
	}
	if !e.store.TryMarkInFlight(key) {
		return
	}

	go e.analyzeItem(ctx, row, key, item)
}

// analyzeItem performs the asynchronous boundary call for one item and
// records the outcome. Transport failures degrade to the local heuristic.
func (e *Engine) analyzeItem(ctx context.Context, row core.Node, key core.ItemKey, item core.MailItem) {
	content := item.EmailText()
	if content == "" {
		content = "(no content)"
	}

	v, err := e.analyzer.Analyze(ctx, core.AnalysisRequest{
		Content:     content,
		Sender:      item.Sender,
		URLs:        item.URLs,
		PrivateMode: e.privateMode,
	})
	if err != nil {
		e.logger.Debug("analysis failed, using heuristic fallback",
			zap.String("key", string(key)),
			zap.Error(err))
		v = core.FallbackVerdict(item.Subject, item.Sender)
	}

	e.store.Resolve(key, v, core.Payload{
		EmailText: item.EmailText(),
		Sender:    item.Sender,
		FirstURL:  item.FirstURL(),
	})
	e.badges.Ensure(row, item.SubjectAnchor, key, v)
}

// ScanOpenMessage analyzes the fully opened message, if one is on screen.
// The whole-thread analysis is gated by a content signature so revisiting
// an unchanged thread never re-triggers a remote call; the per-link
// sub-scan runs on every pass to pick up newly rendered anchors.
func (e *Engine) ScanOpenMessage(ctx context.Context) {
	doc := e.page.Document()
	if doc == nil {
		return
	}
	heading := doc.Query(openSubjectSelector)
	if heading == nil {
		return
	}
	subject := heading.Text()
	if subject == "" {
		return
	}

	sender := ""
	if el := doc.Query(openSenderSelector); el != nil {
		sender = el.Attr("email")
	}

	bodies := doc.QueryAll(openBodySelector)
	var text strings.Builder
	linkCount := 0
	var urls []string
	urlSeen := make(map[string]struct{})
	for _, body := range bodies {
		text.WriteString(body.Text())
		text.WriteByte('\n')
		for _, a := range body.QueryAll(bodyLinkSelector) {
			linkCount++
			u := extract.SanitizeHref(a.Attr("href"))
			if u == "" {
				continue
			}
			if _, ok := urlSeen[u]; !ok {
				urlSeen[u] = struct{}{}
				urls = append(urls, u)
			}
		}
	}
	bodyText := strings.TrimSpace(text.String())

	key := identity.ResolveThreadKey(doc, subject, sender)
	if key == "" {
		return
	}
	sig := identity.NewSignature(subject, len(bodyText), linkCount)

	if e.needsThreadAnalysis(key, sig) {
		headingScope := scopeOf(heading)
		e.badges.EnsureScanning(headingScope, heading, key)
		go e.analyzeThread(ctx, heading, key, subject, sender, bodyText, urls)
	} else if v, ok := e.store.Get(key); ok {
		e.badges.Ensure(scopeOf(heading), heading, key, v)
	}

	for _, body := range bodies {
		e.links.ScanBody(ctx, body)
	}
}

// needsThreadAnalysis records the signature and reports whether a new
// analysis must be dispatched. A thread already being analyzed is never
// re-queued; a cached thread is re-analyzed only on signature change.
func (e *Engine) needsThreadAnalysis(key core.ItemKey, sig identity.Signature) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, active := e.threadsActive[key]; active {
		return false
	}
	prev, seen := e.sigs[key]
	e.sigs[key] = sig
	if seen && prev.Equal(sig) && e.store.Has(key) {
		return false
	}
	e.threadsActive[key] = struct{}{}
	return true
}

func (e *Engine) analyzeThread(ctx context.Context, heading core.Node, key core.ItemKey, subject, sender, bodyText string, urls []string) {
	defer func() {
		e.mu.Lock()
		delete(e.threadsActive, key)
		e.mu.Unlock()
	}()

	content := strings.TrimSpace(subject + "\n" + bodyText)
	v, err := e.analyzer.Analyze(ctx, core.AnalysisRequest{
		Content:     content,
		Sender:      sender,
		URLs:        urls,
		PrivateMode: e.privateMode,
	})
	if err != nil {
		e.logger.Debug("thread analysis failed, using heuristic fallback",
			zap.String("key", string(key)),
			zap.Error(err))
		v = core.FallbackVerdict(subject, sender)
	}

	firstURL := ""
	if len(urls) > 0 {
		firstURL = urls[0]
	}
	e.store.Resolve(key, v, core.Payload{
		EmailText: content,
		Sender:    sender,
		FirstURL:  firstURL,
	})

	e.badges.Ensure(scopeOf(heading), heading, key, v)
	e.propagateToList(key, v)
}

// propagateToList repaints any still-present inbox-list marker for the
// thread so the two views never visibly disagree.
func (e *Engine) propagateToList(key core.ItemKey, v *core.Verdict) {
	doc := e.page.Document()
	if doc == nil {
		return
	}
	for _, row := range doc.QueryAll(rowSelector) {
		if identity.ResolveKey(row) != key {
			continue
		}
		_, anchor := extract.Subject(row)
		e.badges.Ensure(row, anchor, key, v)
		return
	}
}

// scopeOf returns the container used to look up sibling markers of an
// anchor, falling back to the anchor itself.
func scopeOf(anchor core.Node) core.Node {
	if anchor == nil {
		return nil
	}
	if p := anchor.Parent(); p != nil {
		return p
	}
	return anchor
}
