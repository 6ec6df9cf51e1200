// Package extract holds the heuristics that map raw host-page nodes to
// identity and content fields. Everything here is best-effort and total:
// absent data is a valid outcome (the caller skips the item), and no
// function ever panics on a malformed or half-recycled row.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mailsentry/mailsentry/internal/core"
)

// maxSubjectLen rejects obviously-wrong selector matches, e.g. a selector
// landing on a container that swallowed the whole row text.
const maxSubjectLen = 500

// maxSnippetLen bounds the preview text carried into analysis payloads.
const maxSnippetLen = 200

// Ordered selector strategies, tried in sequence; the first non-empty match
// under the length bound wins. The lists mirror the host page's known
// structural variants and degrade gracefully when none match.
var subjectSelectors = []string{
	"span.bog",
	".bog span",
	"span[data-thread-id]",
	".y2",
	".y6 span",
	`[role="link"] span`,
	"span[data-tooltip]",
}

var senderSelectors = []string{
	"span[email]",
	"span.yW span[email]",
	".yW [email]",
	".yP",
	"td.yX span",
	".xY span",
}

var snippetSelectors = []string{
	".y2",
	`[class*="snippet"]`,
}

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s\]\)"'<>]+`)

var trailingJunk = regexp.MustCompile(`[\]\)"'>]+$`)

// Subject returns the item's subject text and the node it was found on.
// The node doubles as the badge anchor. An empty text means no subject.
func Subject(n core.Node) (string, core.Node) {
	if n == nil {
		return "", nil
	}
	for _, sel := range subjectSelectors {
		el := n.Query(sel)
		if el == nil {
			continue
		}
		t := strings.TrimSpace(el.Text())
		if t != "" && len(t) < maxSubjectLen {
			return t, el
		}
	}
	return "", nil
}

// Sender returns the item's sender address, preferring the dedicated
// attribute over visible text.
func Sender(n core.Node) string {
	if n == nil {
		return ""
	}
	for _, sel := range senderSelectors {
		el := n.Query(sel)
		if el == nil {
			continue
		}
		if email := el.Attr("email"); email != "" {
			return email
		}
		if t := strings.TrimSpace(el.Text()); t != "" {
			return t
		}
	}
	return ""
}

// Snippet returns the item's preview text, truncated on a rune boundary.
func Snippet(n core.Node) string {
	if n == nil {
		return ""
	}
	for _, sel := range snippetSelectors {
		el := n.Query(sel)
		if el == nil {
			continue
		}
		return truncate(strings.TrimSpace(el.Text()), maxSnippetLen)
	}
	return ""
}

// SanitizeHref cuts an anchor href at the first whitespace, quote or
// bracket. Host pages occasionally leave tracking garbage appended to the
// visible href.
func SanitizeHref(href string) string {
	if href == "" {
		return ""
	}
	if i := strings.IndexAny(href, " \t\n\r])\"'>"); i >= 0 {
		href = href[:i]
	}
	return href
}

// URLFromText extracts the first http(s) URL pattern-matched out of free
// text, with trailing punctuation stripped.
func URLFromText(text string) string {
	m := urlPattern.FindString(text)
	if m == "" {
		return ""
	}
	return trailingJunk.ReplaceAllString(m, "")
}

// URLs merges link-sourced and text-sourced URLs for an item. Anchor hrefs
// come first: they are more trustworthy than pattern matches.
func URLs(n core.Node, subject, snippet string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	if n != nil {
		for _, a := range n.QueryAll(`a[href^="http"]`) {
			add(SanitizeHref(a.Attr("href")))
		}
	}

	combined := strings.TrimSpace(subject + " " + snippet)
	add(URLFromText(combined))

	return out
}

// Item derives the full ephemeral view of one inbox row.
func Item(n core.Node) core.MailItem {
	subject, anchor := Subject(n)
	sender := Sender(n)
	snippet := Snippet(n)
	return core.MailItem{
		Subject:       subject,
		SubjectAnchor: anchor,
		Sender:        sender,
		Snippet:       snippet,
		URLs:          URLs(n, subject, snippet),
	}
}

// truncate limits s to max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) && len(s) > 0 {
		s = s[:len(s)-1]
	}
	return s
}
