package core

import (
	"context"
)

// Node is a live element in the host page tree. Implementations are views
// onto an externally mutated document: any method may observe the element
// disappearing, in which case queries return empty results and Attached
// reports false.
type Node interface {
	// Query returns the first descendant matching the selector, or nil.
	Query(selector string) Node

	// QueryAll returns all descendants matching the selector.
	QueryAll(selector string) []Node

	// Attr returns the value of an attribute, or "" when absent.
	Attr(name string) string

	// Text returns the trimmed text content of the element.
	Text() string

	// Parent returns the parent element, or nil at the tree root or when
	// the node is gone.
	Parent() Node

	// ID returns an identity for the node that is stable for the node's
	// lifetime within the page session. Used for processed-once sets.
	ID() string

	// Attached reports whether the node is still part of the document.
	Attached() bool
}

// HostPage is the live, externally mutated tree the engine annotates.
type HostPage interface {
	// Document returns the page root, or nil when no document is available.
	Document() Node

	// Events emits re-scan hints (mutations, scroll, focus, navigation,
	// visibility changes). The channel closes when the session ends.
	Events() <-chan SourceEvent

	// Visible reports whether the page is currently visible.
	Visible() bool
}

// AnalysisClient is the boundary call to the external scoring service.
// Transport failures and non-success statuses surface as errors; callers
// are responsible for fallback.
type AnalysisClient interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*Verdict, error)
}

// VerdictStore is the sole source of truth for "already analyzed". A key is
// in at most one of {in flight, cached} at any time.
type VerdictStore interface {
	// Get returns the cached verdict for a key.
	Get(key ItemKey) (*Verdict, bool)

	// Put stores a verdict and its payload; later writes win.
	Put(key ItemKey, v *Verdict, p Payload)

	// Has reports whether a verdict is cached for the key.
	Has(key ItemKey) bool

	// TryMarkInFlight marks the key as awaiting analysis. It returns false
	// when the key is already in flight or already cached, guaranteeing
	// at-most-one outstanding analysis per key.
	TryMarkInFlight(key ItemKey) bool

	// Resolve atomically stores the verdict and clears the in-flight mark.
	Resolve(key ItemKey, v *Verdict, p Payload)

	// ClearInFlight removes the in-flight mark without storing a verdict.
	ClearInFlight(key ItemKey)

	// Payload returns the extracted content stored with a verdict.
	Payload(key ItemKey) (Payload, bool)
}

// URLCache caches per-URL verdicts under a fixed freshness window. Entries
// older than the window read as cold.
type URLCache interface {
	Get(url string) (URLVerdict, bool)
	Set(url string, v URLVerdict)
}

// BadgeSurface applies marker mutations to the host page. Implementations
// must tolerate dead nodes: an operation on a detached element is a no-op
// error at worst, never a crash.
type BadgeSurface interface {
	// Badges lists the markers currently attached under a row.
	Badges(row Node) []BadgeInfo

	// RemoveBadges removes every marker attached under a row.
	RemoveBadges(row Node)

	// Insert attaches a new marker immediately after the anchor.
	Insert(anchor Node, spec BadgeSpec) error

	// Repaint updates the marker tagged with spec.Key under the row.
	Repaint(row Node, spec BadgeSpec) error
}
