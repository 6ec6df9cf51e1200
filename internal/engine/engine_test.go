package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mailsentry/mailsentry/internal/adapters/cache"
	"github.com/mailsentry/mailsentry/internal/badge"
	"github.com/mailsentry/mailsentry/internal/core"
	"github.com/mailsentry/mailsentry/internal/linkscan"
	"go.uber.org/zap"
)

type fakeNode struct {
	text     string
	attrs    map[string]string
	children map[string][]*fakeNode
	parent   *fakeNode
	id       string
}

func (n *fakeNode) Query(selector string) core.Node {
	if ns := n.children[selector]; len(ns) > 0 {
		return ns[0]
	}
	return nil
}

func (n *fakeNode) QueryAll(selector string) []core.Node {
	ns := n.children[selector]
	out := make([]core.Node, 0, len(ns))
	for _, c := range ns {
		out = append(out, c)
	}
	return out
}

func (n *fakeNode) Attr(name string) string { return n.attrs[name] }
func (n *fakeNode) Text() string            { return n.text }

func (n *fakeNode) Parent() core.Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *fakeNode) ID() string     { return n.id }
func (n *fakeNode) Attached() bool { return true }

func (n *fakeNode) under(root *fakeNode) bool {
	for p := n; p != nil; p = p.parent {
		if p == root {
			return true
		}
	}
	return false
}

// child registers c under the selector and links the parent pointer.
func (n *fakeNode) child(selector string, c *fakeNode) *fakeNode {
	if n.children == nil {
		n.children = make(map[string][]*fakeNode)
	}
	n.children[selector] = append(n.children[selector], c)
	c.parent = n
	return c
}

type fakePage struct {
	mu      sync.Mutex
	doc     *fakeNode
	events  chan core.SourceEvent
	visible bool
}

func newFakePage(doc *fakeNode) *fakePage {
	return &fakePage{doc: doc, events: make(chan core.SourceEvent, 8), visible: true}
}

func (p *fakePage) Document() core.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return nil
	}
	return p.doc
}

func (p *fakePage) Events() <-chan core.SourceEvent { return p.events }
func (p *fakePage) Visible() bool                   { return p.visible }

// fakeSurface models marker containment: a badge inserted after an anchor
// is found when listing any of the anchor's ancestors.
type anchoredBadge struct {
	anchor *fakeNode
	info   core.BadgeInfo
}

type fakeSurface struct {
	mu     sync.Mutex
	badges []anchoredBadge
}

func (f *fakeSurface) Badges(row core.Node) []core.BadgeInfo {
	rowNode, ok := row.(*fakeNode)
	if !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.BadgeInfo
	for _, b := range f.badges {
		if b.anchor.under(rowNode) {
			out = append(out, b.info)
		}
	}
	return out
}

func (f *fakeSurface) RemoveBadges(row core.Node) {
	rowNode, ok := row.(*fakeNode)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.badges[:0]
	for _, b := range f.badges {
		if !b.anchor.under(rowNode) {
			kept = append(kept, b)
		}
	}
	f.badges = kept
}

func (f *fakeSurface) Insert(anchor core.Node, spec core.BadgeSpec) error {
	anchorNode, ok := anchor.(*fakeNode)
	if !ok {
		return errors.New("not a fake node")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badges = append(f.badges, anchoredBadge{
		anchor: anchorNode,
		info: core.BadgeInfo{
			Key:      spec.Key,
			Level:    spec.Level,
			Score:    spec.Score,
			Scanning: spec.Scanning,
		},
	})
	return nil
}

func (f *fakeSurface) Repaint(row core.Node, spec core.BadgeSpec) error {
	rowNode, ok := row.(*fakeNode)
	if !ok {
		return errors.New("not a fake node")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range f.badges {
		if b.anchor.under(rowNode) && b.info.Key == spec.Key {
			f.badges[i].info = core.BadgeInfo{Key: spec.Key, Level: spec.Level, Score: spec.Score}
			return nil
		}
	}
	return errors.New("no badge with that key under row")
}

func (f *fakeSurface) badgesUnder(row *fakeNode) []core.BadgeInfo {
	return f.Badges(row)
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
	score int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req core.AnalysisRequest) (*core.Verdict, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &core.Verdict{Level: core.LevelForScore(f.score), Score: f.score}, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	engine   *Engine
	page     *fakePage
	surface  *fakeSurface
	store    *cache.VerdictStore
	analyzer *fakeAnalyzer
	urls     *cache.URLCache
}

func newTestEnv(t *testing.T, doc *fakeNode, analyzer *fakeAnalyzer) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	page := newFakePage(doc)
	surface := &fakeSurface{}
	store := cache.NewVerdictStore(logger)
	urls := cache.NewURLCache(logger, 10*time.Minute, time.Hour)
	t.Cleanup(urls.Stop)
	badges := badge.NewSynchronizer(surface, store, "http://dash.example", logger)
	links := linkscan.NewScanner(urls, analyzer, badges, true, logger)
	eng := New(page, analyzer, store, badges, links, true, logger)
	return &testEnv{engine: eng, page: page, surface: surface, store: store, analyzer: analyzer, urls: urls}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

// inboxRow builds a list row carrying a native thread id, subject, sender
// and snippet, attached under the document.
func inboxRow(doc *fakeNode, threadID, subject, sender, snippet string) *fakeNode {
	row := &fakeNode{attrs: map[string]string{"data-thread-id": threadID}}
	row.child("span.bog", &fakeNode{text: subject})
	row.child("span[email]", &fakeNode{attrs: map[string]string{"email": sender}})
	row.child(".y2", &fakeNode{text: snippet})
	if doc.children == nil {
		doc.children = make(map[string][]*fakeNode)
	}
	doc.children[rowSelector] = append(doc.children[rowSelector], row)
	row.parent = doc
	return row
}

func TestScanInboxAnalyzesNewRow(t *testing.T) {
	doc := &fakeNode{}
	row := inboxRow(doc, "t-1", "Invoice due", "billing@example.com", "Pay now")
	env := newTestEnv(t, doc, &fakeAnalyzer{score: 80})

	env.engine.ScanInbox(context.Background())
	waitFor(t, func() bool { return env.store.Has("t-1") })

	v, _ := env.store.Get("t-1")
	if v.Level != core.LevelMalicious || v.Score != 80 {
		t.Errorf("verdict = %+v", v)
	}
	p, ok := env.store.Payload("t-1")
	if !ok || p.EmailText != "Invoice due Pay now" || p.Sender != "billing@example.com" {
		t.Errorf("payload = %+v, %v", p, ok)
	}

	waitFor(t, func() bool { return len(env.surface.badgesUnder(row)) == 1 })
	b := env.surface.badgesUnder(row)[0]
	if b.Key != "t-1" || b.Level != core.LevelMalicious {
		t.Errorf("badge = %+v", b)
	}
}

func TestScanInboxAtMostOneAnalysisPerKey(t *testing.T) {
	doc := &fakeNode{}
	inboxRow(doc, "t-1", "Hello", "a@example.com", "world")
	env := newTestEnv(t, doc, &fakeAnalyzer{score: 10, delay: 100 * time.Millisecond})

	// Overlapping passes while the first analysis is still pending.
	env.engine.ScanInbox(context.Background())
	env.engine.ScanInbox(context.Background())
	env.engine.ScanInbox(context.Background())

	waitFor(t, func() bool { return env.store.Has("t-1") })
	env.engine.ScanInbox(context.Background())
	time.Sleep(50 * time.Millisecond)

	if calls := env.analyzer.callCount(); calls != 1 {
		t.Errorf("analyzer calls = %d, want 1", calls)
	}
}

func TestScanInboxFallsBackOnAnalysisFailure(t *testing.T) {
	doc := &fakeNode{}
	inboxRow(doc, "t-1", "Urgent: verify your account", "x@example.com", "")
	env := newTestEnv(t, doc, &fakeAnalyzer{err: errors.New("service down")})

	env.engine.ScanInbox(context.Background())
	waitFor(t, func() bool { return env.store.Has("t-1") })

	v, _ := env.store.Get("t-1")
	if !v.Degraded {
		t.Error("Degraded = false, want a heuristic verdict")
	}
	if v.Level != core.LevelMalicious {
		t.Errorf("Level = %q, want the heuristic classification", v.Level)
	}
}

func TestScanInboxSkipsUnkeyableRow(t *testing.T) {
	doc := &fakeNode{}
	// No identifying attributes and no extractable subject.
	row := &fakeNode{parent: doc}
	doc.children = map[string][]*fakeNode{rowSelector: {row}}
	env := newTestEnv(t, doc, &fakeAnalyzer{score: 50})

	env.engine.ScanInbox(context.Background())
	time.Sleep(50 * time.Millisecond)

	if env.analyzer.callCount() != 0 {
		t.Errorf("analyzer calls = %d, want 0", env.analyzer.callCount())
	}
	if env.store.Len() != 0 {
		t.Errorf("store entries = %d, want 0", env.store.Len())
	}
}

func TestScanInboxRepairsBadgeFromCache(t *testing.T) {
	doc := &fakeNode{}
	row := inboxRow(doc, "t-1", "Hello", "a@example.com", "")
	env := newTestEnv(t, doc, &fakeAnalyzer{score: 50})

	env.store.Put("t-1", &core.Verdict{Level: core.LevelSuspicious, Score: 40}, core.Payload{})

	env.engine.ScanInbox(context.Background())
	env.engine.ScanInbox(context.Background())
	time.Sleep(50 * time.Millisecond)

	if env.analyzer.callCount() != 0 {
		t.Errorf("analyzer calls = %d, want 0 for a cached item", env.analyzer.callCount())
	}
	badges := env.surface.badgesUnder(row)
	if len(badges) != 1 {
		t.Fatalf("badges = %d, want exactly 1 after repeated passes", len(badges))
	}
	if badges[0].Level != core.LevelSuspicious {
		t.Errorf("badge level = %q", badges[0].Level)
	}
}

// openMessageDoc builds a document showing one opened thread.
func openMessageDoc(threadID, subject, sender, bodyText string) (*fakeNode, *fakeNode) {
	doc := &fakeNode{}
	doc.child(openSubjectSelector, &fakeNode{text: subject})
	doc.child(openSenderSelector, &fakeNode{attrs: map[string]string{"email": sender}})
	body := doc.child(openBodySelector, &fakeNode{text: bodyText})
	doc.child("[data-thread-id]", &fakeNode{attrs: map[string]string{"data-thread-id": threadID}})
	return doc, body
}

func TestScanOpenMessageAnalyzesThread(t *testing.T) {
	doc, _ := openMessageDoc("t-7", "Quarterly report", "boss@example.com", "Numbers attached.")
	env := newTestEnv(t, doc, &fakeAnalyzer{score: 20})

	env.engine.ScanOpenMessage(context.Background())
	waitFor(t, func() bool { return env.store.Has("t-7") })

	v, _ := env.store.Get("t-7")
	if v.Level != core.LevelSafe || v.Score != 20 {
		t.Errorf("verdict = %+v", v)
	}
	p, _ := env.store.Payload("t-7")
	if p.EmailText != "Quarterly report\nNumbers attached." {
		t.Errorf("payload text = %q", p.EmailText)
	}
}

func TestScanOpenMessageSkipsUnchangedThread(t *testing.T) {
	doc, _ := openMessageDoc("t-7", "Subject", "a@example.com", "Body.")
	env := newTestEnv(t, doc, &fakeAnalyzer{score: 20})

	env.engine.ScanOpenMessage(context.Background())
	waitFor(t, func() bool { return env.store.Has("t-7") })

	// Revisiting the same content must not re-trigger analysis.
	env.engine.ScanOpenMessage(context.Background())
	env.engine.ScanOpenMessage(context.Background())
	time.Sleep(50 * time.Millisecond)

	if calls := env.analyzer.callCount(); calls != 1 {
		t.Errorf("analyzer calls = %d, want 1", calls)
	}
}

func TestScanOpenMessageReanalyzesOnSignatureChange(t *testing.T) {
	doc, body := openMessageDoc("t-7", "Subject", "a@example.com", "Short body.")
	env := newTestEnv(t, doc, &fakeAnalyzer{score: 20})

	env.engine.ScanOpenMessage(context.Background())
	waitFor(t, func() bool { return env.store.Has("t-7") })

	// New content arrived in the thread; the body length changes.
	body.text = "Short body, plus a freshly loaded reply with more text."
	env.engine.ScanOpenMessage(context.Background())
	waitFor(t, func() bool { return env.analyzer.callCount() == 2 })
}

func TestScanOpenMessagePropagatesToList(t *testing.T) {
	doc, _ := openMessageDoc("t-7", "Subject line", "a@example.com", "Body.")
	row := inboxRow(doc, "t-7", "Subject line", "a@example.com", "")
	env := newTestEnv(t, doc, &fakeAnalyzer{score: 75})

	env.engine.ScanOpenMessage(context.Background())
	waitFor(t, func() bool { return env.store.Has("t-7") })

	waitFor(t, func() bool {
		for _, b := range env.surface.badgesUnder(row) {
			if b.Key == "t-7" && b.Level == core.LevelMalicious {
				return true
			}
		}
		return false
	})
}

func TestScanOpenMessageNoOpWithoutHeading(t *testing.T) {
	doc := &fakeNode{}
	env := newTestEnv(t, doc, &fakeAnalyzer{score: 50})

	env.engine.ScanOpenMessage(context.Background())
	time.Sleep(20 * time.Millisecond)

	if env.analyzer.callCount() != 0 {
		t.Errorf("analyzer calls = %d, want 0", env.analyzer.callCount())
	}
}

func TestInboxReady(t *testing.T) {
	env := newTestEnv(t, &fakeNode{}, &fakeAnalyzer{})
	if env.engine.InboxReady() {
		t.Error("InboxReady = true on an empty document")
	}

	doc := &fakeNode{}
	doc.child(mainSelector, &fakeNode{})
	env2 := newTestEnv(t, doc, &fakeAnalyzer{})
	if !env2.engine.InboxReady() {
		t.Error("InboxReady = false with a main region present")
	}
}
