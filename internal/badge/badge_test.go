package badge

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailsentry/mailsentry/internal/core"
	"go.uber.org/zap"
)

type fakeNode struct {
	id       string
	detached bool
}

func (n *fakeNode) Query(string) core.Node      { return nil }
func (n *fakeNode) QueryAll(string) []core.Node { return nil }
func (n *fakeNode) Attr(string) string          { return "" }
func (n *fakeNode) Text() string                { return "" }
func (n *fakeNode) Parent() core.Node           { return nil }
func (n *fakeNode) ID() string                  { return n.id }
func (n *fakeNode) Attached() bool              { return !n.detached }

// fakeSurface records marker state per row like the live page would. An
// optional per-operation delay models the protocol round trip to the page.
type fakeSurface struct {
	mu       sync.Mutex
	badges   map[core.Node][]core.BadgeInfo
	inserts  int
	repaints int
	removes  int
	lastSpec core.BadgeSpec
	delay    time.Duration
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{badges: make(map[core.Node][]core.BadgeInfo)}
}

func (f *fakeSurface) Badges(row core.Node) []core.BadgeInfo {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.BadgeInfo(nil), f.badges[row]...)
}

func (f *fakeSurface) RemoveBadges(row core.Node) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	delete(f.badges, row)
}

func (f *fakeSurface) Insert(anchor core.Node, spec core.BadgeSpec) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	f.lastSpec = spec
	f.badges[anchor] = append(f.badges[anchor], core.BadgeInfo{
		Key:      spec.Key,
		Level:    spec.Level,
		Score:    spec.Score,
		Scanning: spec.Scanning,
	})
	return nil
}

func (f *fakeSurface) Repaint(row core.Node, spec core.BadgeSpec) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repaints++
	f.lastSpec = spec
	infos := f.badges[row]
	for i := range infos {
		if infos[i].Key == spec.Key {
			infos[i] = core.BadgeInfo{Key: spec.Key, Level: spec.Level, Score: spec.Score}
		}
	}
	return nil
}

type fakeStore struct {
	core.VerdictStore
	payloads map[core.ItemKey]core.Payload
}

func (f *fakeStore) Payload(key core.ItemKey) (core.Payload, bool) {
	p, ok := f.payloads[key]
	return p, ok
}

func newSync(surface core.BadgeSurface, payloads map[core.ItemKey]core.Payload) *Synchronizer {
	return NewSynchronizer(surface, &fakeStore{payloads: payloads}, "http://dash.example", zap.NewNop())
}

func TestEnsureIsIdempotent(t *testing.T) {
	surface := newFakeSurface()
	s := newSync(surface, nil)
	row := &fakeNode{id: "row"}
	v := &core.Verdict{Level: core.LevelMalicious, Score: 85}

	// The anchor doubles as the row in this fake; Badges and Insert share it.
	s.Ensure(row, row, "k1", v)
	s.Ensure(row, row, "k1", v)
	s.Ensure(row, row, "k1", v)

	if surface.inserts != 1 {
		t.Errorf("inserts = %d, want 1", surface.inserts)
	}
	if surface.repaints != 0 {
		t.Errorf("repaints = %d, want 0", surface.repaints)
	}
}

func TestEnsureConcurrentCallsInsertOneMarker(t *testing.T) {
	surface := newFakeSurface()
	// Slow operations widen the window between observing "no marker" and
	// inserting one, which is where concurrent callers used to collide.
	surface.delay = 5 * time.Millisecond
	s := newSync(surface, nil)
	row := &fakeNode{id: "row"}
	v := &core.Verdict{Level: core.LevelMalicious, Score: 85}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Ensure(row, row, "k1", v)
		}()
	}
	wg.Wait()

	// A later repair pass over the unchanged item must also change nothing.
	s.Ensure(row, row, "k1", v)

	if got := len(surface.Badges(row)); got != 1 {
		t.Fatalf("markers = %d, want exactly 1 after concurrent Ensure calls", got)
	}
	if surface.inserts != 1 {
		t.Errorf("inserts = %d, want 1", surface.inserts)
	}
}

func TestEnsureRepaintsChangedVerdict(t *testing.T) {
	surface := newFakeSurface()
	s := newSync(surface, nil)
	row := &fakeNode{id: "row"}

	s.Ensure(row, row, "k1", &core.Verdict{Level: core.LevelSafe, Score: 10})
	s.Ensure(row, row, "k1", &core.Verdict{Level: core.LevelMalicious, Score: 90})

	if surface.inserts != 1 {
		t.Errorf("inserts = %d, want 1", surface.inserts)
	}
	if surface.repaints != 1 {
		t.Errorf("repaints = %d, want 1", surface.repaints)
	}
	if surface.lastSpec.Level != core.LevelMalicious {
		t.Errorf("repainted level = %q", surface.lastSpec.Level)
	}
}

func TestEnsureReplacesForeignBadge(t *testing.T) {
	surface := newFakeSurface()
	s := newSync(surface, nil)
	row := &fakeNode{id: "row"}

	// The host recycled this row element for a different item.
	s.Ensure(row, row, "old-key", &core.Verdict{Level: core.LevelSafe, Score: 10})
	s.Ensure(row, row, "new-key", &core.Verdict{Level: core.LevelSuspicious, Score: 40})

	badges := surface.Badges(row)
	if len(badges) != 1 {
		t.Fatalf("badges = %d, want exactly 1", len(badges))
	}
	if badges[0].Key != "new-key" {
		t.Errorf("surviving key = %q, want new-key", badges[0].Key)
	}
	if surface.removes == 0 {
		t.Error("stale badge was never removed")
	}
}

func TestEnsureSkipsDetachedAnchor(t *testing.T) {
	surface := newFakeSurface()
	s := newSync(surface, nil)
	row := &fakeNode{id: "row"}
	gone := &fakeNode{id: "gone", detached: true}

	s.Ensure(row, gone, "k1", &core.Verdict{Level: core.LevelSafe, Score: 10})

	if surface.inserts != 0 {
		t.Errorf("inserts = %d, want 0 for a detached anchor", surface.inserts)
	}
}

func TestEnsureUpgradesScanningBadge(t *testing.T) {
	surface := newFakeSurface()
	s := newSync(surface, nil)
	row := &fakeNode{id: "row"}

	s.EnsureScanning(row, row, "k1")
	if surface.inserts != 1 || !surface.lastSpec.Scanning {
		t.Fatalf("scanning badge not inserted: inserts=%d", surface.inserts)
	}

	// Second scanning request is a no-op while the first is showing.
	s.EnsureScanning(row, row, "k1")
	if surface.inserts != 1 {
		t.Errorf("inserts = %d, want 1", surface.inserts)
	}

	// The final verdict repaints the scanning marker in place.
	s.Ensure(row, row, "k1", &core.Verdict{Level: core.LevelMalicious, Score: 80})
	if surface.repaints != 1 {
		t.Errorf("repaints = %d, want 1", surface.repaints)
	}
}

func TestEnsureLinkMarker(t *testing.T) {
	surface := newFakeSurface()
	s := newSync(surface, nil)
	anchor := &fakeNode{id: "a7"}

	s.EnsureLinkMarker(anchor, core.URLVerdict{Score: 88.4, Level: core.LevelMalicious})

	if surface.inserts != 1 {
		t.Fatalf("inserts = %d, want 1", surface.inserts)
	}
	spec := surface.lastSpec
	if spec.Key != "u-a7" {
		t.Errorf("Key = %q, want u-a7", spec.Key)
	}
	if !spec.Inline {
		t.Error("Inline = false, want true")
	}
	if spec.Score != 88 {
		t.Errorf("Score = %d, want rounded 88", spec.Score)
	}
}

func TestTooltipIncludesURLScore(t *testing.T) {
	surface := newFakeSurface()
	s := newSync(surface, nil)
	row := &fakeNode{id: "row"}
	urlScore := 91.2

	s.Ensure(row, row, "k1", &core.Verdict{Level: core.LevelMalicious, Score: 85, URLScore: &urlScore})

	if want := "High risk: 85% (URL: 91%)"; surface.lastSpec.Tooltip != want {
		t.Errorf("Tooltip = %q, want %q", surface.lastSpec.Tooltip, want)
	}
}

func TestDeepLinkCarriesPayload(t *testing.T) {
	payloads := map[core.ItemKey]core.Payload{
		"k1": {
			EmailText: "Urgent: verify account",
			Sender:    "noreply@example.com",
			FirstURL:  "https://evil.example/login",
		},
	}
	s := newSync(newFakeSurface(), payloads)

	link := s.DeepLink("k1")
	if !strings.HasPrefix(link, "http://dash.example/?") {
		t.Fatalf("link = %q", link)
	}
	for _, frag := range []string{"email_text=", "sender_email=", "url="} {
		if !strings.Contains(link, frag) {
			t.Errorf("link %q missing %q", link, frag)
		}
	}
}

func TestDeepLinkWithoutPayload(t *testing.T) {
	s := newSync(newFakeSurface(), nil)
	if got := s.DeepLink("unknown"); got != "http://dash.example/" {
		t.Errorf("DeepLink = %q, want the bare dashboard", got)
	}
}
