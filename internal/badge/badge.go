// Package badge keeps visual markers in sync with cached verdicts. All
// mutation goes through the core.BadgeSurface port; this package only
// decides what the marker state should be, which makes the idempotency
// rules testable without a browser.
package badge

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/mailsentry/mailsentry/internal/core"
	"go.uber.org/zap"
)

// Synchronizer idempotently attaches, repairs and removes markers so that
// exactly one marker matches the cache state for each live item. Marker
// mutations are serialized: analysis goroutines and scan passes call in
// concurrently, and an unsynchronized check-then-insert would let two
// callers both observe "no marker" and both insert.
type Synchronizer struct {
	surface      core.BadgeSurface
	store        core.VerdictStore
	dashboardURL string
	logger       *zap.Logger

	mu sync.Mutex
}

// NewSynchronizer creates a badge synchronizer. dashboardURL is the base of
// the standalone analysis view that marker clicks deep-link into.
func NewSynchronizer(surface core.BadgeSurface, store core.VerdictStore, dashboardURL string, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		surface:      surface,
		store:        store,
		dashboardURL: dashboardURL,
		logger:       logger,
	}
}

// Has reports whether a marker tagged with key exists under the row.
func (s *Synchronizer) Has(row core.Node, key core.ItemKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.has(row, key)
}

func (s *Synchronizer) has(row core.Node, key core.ItemKey) bool {
	if row == nil {
		return false
	}
	for _, b := range s.surface.Badges(row) {
		if b.Key == key {
			return true
		}
	}
	return false
}

// Ensure makes the row carry exactly one marker reflecting the verdict. An
// existing marker for the key is left alone when it already matches, or
// repainted when the verdict changed. Otherwise every other marker under the
// row is removed first: the host page replaces row content while keeping the
// row element, which would otherwise strand a stale marker.
func (s *Synchronizer) Ensure(row, anchor core.Node, key core.ItemKey, v *core.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if anchor == nil || !anchor.Attached() {
		// The item left the visible tree while analysis was pending. The
		// cache write already happened; skipping the marker is correct.
		s.logger.Debug("anchor detached, skipping badge", zap.String("key", string(key)))
		return
	}

	spec := s.specFor(key, v)
	for _, b := range s.surface.Badges(row) {
		if b.Key != key {
			continue
		}
		if !b.Scanning && b.Level == v.Level && b.Score == v.Score {
			return
		}
		if err := s.surface.Repaint(row, spec); err != nil {
			s.logger.Debug("badge repaint failed", zap.String("key", string(key)), zap.Error(err))
		}
		return
	}

	s.surface.RemoveBadges(row)
	if err := s.surface.Insert(anchor, spec); err != nil {
		s.logger.Debug("badge insert failed", zap.String("key", string(key)), zap.Error(err))
	}
}

// EnsureScanning attaches the distinct loading marker used while an open
// message's verdict is still in flight. A marker already present for the
// key, loading or final, is left alone.
func (s *Synchronizer) EnsureScanning(row, anchor core.Node, key core.ItemKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if anchor == nil || !anchor.Attached() {
		return
	}
	if s.has(row, key) {
		return
	}

	s.surface.RemoveBadges(row)
	spec := core.BadgeSpec{
		Key:      key,
		Scanning: true,
		Tooltip:  "Scanning…",
	}
	if err := s.surface.Insert(anchor, spec); err != nil {
		s.logger.Debug("scanning badge insert failed", zap.String("key", string(key)), zap.Error(err))
	}
}

// EnsureLinkMarker attaches the small inline marker after one outbound link
// occurrence. Callers guarantee per-node once-only processing, so this only
// checks liveness.
func (s *Synchronizer) EnsureLinkMarker(anchor core.Node, v core.URLVerdict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if anchor == nil || !anchor.Attached() {
		return
	}
	score := int(v.Score + 0.5)
	spec := core.BadgeSpec{
		Key:     core.ItemKey("u-" + anchor.ID()),
		Level:   v.Level,
		Score:   score,
		Tooltip: fmt.Sprintf("%s link: %d%%", v.Level.Label(), score),
		Inline:  true,
	}
	if err := s.surface.Insert(anchor, spec); err != nil {
		s.logger.Debug("link marker insert failed", zap.String("url_key", string(spec.Key)), zap.Error(err))
	}
}

// specFor builds the marker description for a verdict, including the
// hover tooltip and the deep link carrying the cached payload.
func (s *Synchronizer) specFor(key core.ItemKey, v *core.Verdict) core.BadgeSpec {
	tooltip := fmt.Sprintf("%s: %d%%", v.Level.Label(), v.Score)
	if v.URLScore != nil {
		tooltip += fmt.Sprintf(" (URL: %d%%)", int(*v.URLScore+0.5))
	}
	return core.BadgeSpec{
		Key:      key,
		Level:    v.Level,
		Score:    v.Score,
		Tooltip:  tooltip,
		DeepLink: s.DeepLink(key),
	}
}

// DeepLink builds the standalone analysis view URL for a cached item.
func (s *Synchronizer) DeepLink(key core.ItemKey) string {
	p, ok := s.store.Payload(key)
	if !ok {
		return s.dashboardURL + "/"
	}
	params := url.Values{}
	if p.EmailText != "" {
		params.Set("email_text", p.EmailText)
	}
	if p.Sender != "" {
		params.Set("sender_email", p.Sender)
	}
	if p.FirstURL != "" {
		params.Set("url", p.FirstURL)
	}
	if len(params) == 0 {
		return s.dashboardURL + "/"
	}
	return s.dashboardURL + "/?" + params.Encode()
}
