// Package linkscan scans outbound hyperlinks inside message bodies,
// independently of the whole-item flow.
package linkscan

import (
	"context"
	"sync"
	"time"

	"github.com/mailsentry/mailsentry/internal/badge"
	"github.com/mailsentry/mailsentry/internal/core"
	"github.com/mailsentry/mailsentry/internal/extract"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const linkSelector = `a[href^="http"]`

// Scanner marks every outbound link occurrence in a body with its own
// inline marker. The processed set is keyed by node identity, not URL: the
// same URL may legitimately appear many times and each occurrence gets its
// own marker. URL verdicts themselves are shared through the URL cache, and
// concurrent cold fetches of one URL collapse into a single remote call.
type Scanner struct {
	urls        core.URLCache
	analyzer    core.AnalysisClient
	badges      *badge.Synchronizer
	flight      singleflight.Group
	privateMode bool
	logger      *zap.Logger

	mu        sync.Mutex
	processed map[string]struct{}
}

// NewScanner creates a link scanner.
func NewScanner(urls core.URLCache, analyzer core.AnalysisClient, badges *badge.Synchronizer, privateMode bool, logger *zap.Logger) *Scanner {
	return &Scanner{
		urls:        urls,
		analyzer:    analyzer,
		badges:      badges,
		privateMode: privateMode,
		logger:      logger,
		processed:   make(map[string]struct{}),
	}
}

// ScanBody processes every unseen link in the body container. Each anchor
// node is processed at most once for its lifetime.
func (s *Scanner) ScanBody(ctx context.Context, body core.Node) {
	if body == nil {
		return
	}
	for _, a := range body.QueryAll(linkSelector) {
		id := a.ID()
		if id == "" {
			continue
		}
		if !s.markProcessed(id) {
			continue
		}
		u := extract.SanitizeHref(a.Attr("href"))
		if u == "" {
			continue
		}
		go s.scanLink(ctx, a, u)
	}
}

// markProcessed records the node and reports whether it was unseen.
func (s *Scanner) markProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[id]; ok {
		return false
	}
	s.processed[id] = struct{}{}
	return true
}

func (s *Scanner) scanLink(ctx context.Context, anchor core.Node, u string) {
	if v, ok := s.urls.Get(u); ok {
		s.badges.EnsureLinkMarker(anchor, v)
		return
	}

	res, err, _ := s.flight.Do(u, func() (interface{}, error) {
		// A sibling occurrence may have filled the cache while we queued.
		if v, ok := s.urls.Get(u); ok {
			return v, nil
		}
		verdict, err := s.analyzer.Analyze(ctx, core.AnalysisRequest{
			Content:     u,
			URLs:        []string{u},
			PrivateMode: s.privateMode,
		})
		if err != nil {
			return core.URLVerdict{}, err
		}
		v := urlVerdictOf(verdict)
		s.urls.Set(u, v)
		return v, nil
	})
	if err != nil {
		// No marker on failure; the URL stays cold and a later pass retries.
		s.logger.Debug("link analysis failed", zap.String("url", u), zap.Error(err))
		return
	}

	s.badges.EnsureLinkMarker(anchor, res.(core.URLVerdict))
}

// urlVerdictOf reduces a full verdict to the per-URL form, preferring the
// dedicated URL sub-score when the service provided one.
func urlVerdictOf(v *core.Verdict) core.URLVerdict {
	score := float64(v.Score)
	if v.URLScore != nil {
		score = *v.URLScore
	}
	return core.URLVerdict{
		Score:     score,
		Level:     core.LevelForScore(int(score + 0.5)),
		CheckedAt: time.Now(),
	}
}
