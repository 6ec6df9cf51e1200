package core

import (
	"strings"
	"time"
)

// ItemKey is the stable identity of a mail item or open-message thread.
// The same logical item must always resolve to the same key across scan
// passes, even when the host page recycles its DOM.
type ItemKey string

// RiskLevel classifies a verdict into one of three visual states.
type RiskLevel string

const (
	LevelSafe       RiskLevel = "safe"
	LevelSuspicious RiskLevel = "suspicious"
	LevelMalicious  RiskLevel = "malicious"
)

// Risk score thresholds shared between verdict normalization and badge
// styling. Changing one side of this contract requires changing the other.
const (
	MaliciousThreshold  = 70
	SuspiciousThreshold = 30
)

// LevelForScore derives the risk level from a 0..100 score.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= MaliciousThreshold:
		return LevelMalicious
	case score >= SuspiciousThreshold:
		return LevelSuspicious
	default:
		return LevelSafe
	}
}

// Label returns the human-readable form used in tooltips.
func (l RiskLevel) Label() string {
	switch l {
	case LevelMalicious:
		return "High risk"
	case LevelSuspicious:
		return "Suspicious"
	default:
		return "Safe"
	}
}

// Verdict is the classification result for an item or thread. A verdict is
// immutable once stored; a fresh analysis replaces it wholesale under the
// same key.
type Verdict struct {
	Level      RiskLevel
	Score      int
	Reasoning  string
	Confidence string
	Category   string
	URLScore   *float64
	Breakdown  map[string]float64
	Degraded   bool
	AnalyzedAt time.Time
	Provider   string
}

// Payload is the extracted content kept alongside a verdict so a later
// user-initiated deep dive can carry it into the standalone analysis view.
type Payload struct {
	EmailText string
	Sender    string
	FirstURL  string
}

// MailItem is the ephemeral view of one inbox row. It is re-derived on every
// scan pass and discarded after producing a key and payload.
type MailItem struct {
	Subject       string
	SubjectAnchor Node
	Sender        string
	Snippet       string
	URLs          []string
}

// EmailText joins subject and snippet into the content sent for analysis.
func (m MailItem) EmailText() string {
	parts := make([]string, 0, 2)
	if m.Subject != "" {
		parts = append(parts, m.Subject)
	}
	if m.Snippet != "" {
		parts = append(parts, m.Snippet)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// FirstURL returns the highest-priority candidate URL, if any.
func (m MailItem) FirstURL() string {
	if len(m.URLs) == 0 {
		return ""
	}
	return m.URLs[0]
}

// AnalysisRequest is the structured request sent to the scoring boundary.
type AnalysisRequest struct {
	Content     string
	Header      string
	Sender      string
	URLs        []string
	PrivateMode bool
}

// URLVerdict is the cached result of scanning a single outbound URL.
type URLVerdict struct {
	Score     float64
	Level     RiskLevel
	CheckedAt time.Time
}

// EventSource identifies which asynchronous host-page signal produced an
// event. Each source owns its own debounce timer in the scheduler.
type EventSource string

const (
	SourceMutation   EventSource = "mutation"
	SourceScroll     EventSource = "scroll"
	SourceFocus      EventSource = "focus"
	SourceHashChange EventSource = "hashchange"
	SourceVisibility EventSource = "visibility"
)

// SourceEvent is a re-scan hint from the host page. The page's mutation
// notifications are never trusted as a complete diff; an event only means
// "something may have changed, schedule a pass".
type SourceEvent struct {
	Source  EventSource
	Visible bool
}

// BadgeSpec describes the marker to attach for a verdict.
type BadgeSpec struct {
	Key      ItemKey
	Level    RiskLevel
	Score    int
	Tooltip  string
	DeepLink string
	Scanning bool
	Inline   bool
}

// BadgeInfo describes a marker already present under a row.
type BadgeInfo struct {
	Key      ItemKey
	Level    RiskLevel
	Score    int
	Scanning bool
}
