// Package identity derives stable keys and cheap content fingerprints for
// mail items living in an unstable host tree.
package identity

import (
	"strings"
	"unicode/utf8"

	"github.com/mailsentry/mailsentry/internal/core"
	"github.com/mailsentry/mailsentry/internal/extract"
)

// Native identifying attributes, in resolution priority order.
var idAttributes = []string{
	"data-message-id",
	"data-legacy-message-id",
	"data-thread-id",
}

// synthesizedKeyLen bounds the subject prefix used for content-derived keys.
const synthesizedKeyLen = 80

// ResolveKey derives the stable identity for a row. Resolution order: a
// native identifying attribute on the row, the same attribute on a
// descendant, then a synthesized key from truncated subject+sender text.
// Returns "" when there is nothing to key on.
//
// Synthesized keys are best-effort: two distinct items sharing a long
// subject prefix and sender can collide, and an edited subject drifts the
// key. Native attributes are always preferred for exactly this reason.
func ResolveKey(n core.Node) core.ItemKey {
	if n == nil {
		return ""
	}
	for _, attr := range idAttributes {
		if v := n.Attr(attr); v != "" {
			return core.ItemKey(v)
		}
	}
	if el := n.Query("[data-thread-id]"); el != nil {
		if v := el.Attr("data-thread-id"); v != "" {
			return core.ItemKey(v)
		}
	}
	if v := n.Attr("data-id"); v != "" {
		return core.ItemKey(v)
	}

	subject, _ := extract.Subject(n)
	if subject == "" {
		return ""
	}
	sender := extract.Sender(n)
	return SynthesizeKey(subject, sender)
}

// SynthesizeKey builds the content-derived fallback key from subject and
// sender text. The subject prefix is cut on a rune boundary so a multi-byte
// subject never leaves a mangled partial rune in the key.
func SynthesizeKey(subject, sender string) core.ItemKey {
	if len(subject) > synthesizedKeyLen {
		subject = subject[:synthesizedKeyLen]
		for !utf8.ValidString(subject) && len(subject) > 0 {
			subject = subject[:len(subject)-1]
		}
	}
	return core.ItemKey("r-" + stripSpace(subject+sender))
}

// Thread-level identifying attributes for an opened message, in priority
// order. The generic thread id comes first so an open message resolves to
// the same key as its inbox-list row whenever the host exposes both.
var threadAttributes = []string{
	"data-thread-id",
	"data-thread-perm-id",
	"data-legacy-thread-id",
}

// ResolveThreadKey derives the stable identity for an opened message from
// the document. Falls back to the synthesized subject+sender key.
func ResolveThreadKey(doc core.Node, subject, sender string) core.ItemKey {
	if doc != nil {
		for _, attr := range threadAttributes {
			el := doc.Query("[" + attr + "]")
			if el == nil {
				continue
			}
			if v := el.Attr(attr); v != "" {
				return core.ItemKey(v)
			}
		}
	}
	if subject == "" {
		return ""
	}
	return SynthesizeKey(subject, sender)
}

// Signature is a cheap fingerprint of an opened message, used to skip
// re-analysis when the user revisits an unchanged thread.
type Signature struct {
	Subject   string
	BodyLen   int
	LinkCount int
}

// NewSignature builds the fingerprint for an open message.
func NewSignature(subject string, bodyLen, linkCount int) Signature {
	return Signature{Subject: subject, BodyLen: bodyLen, LinkCount: linkCount}
}

// Equal reports whether two fingerprints describe the same content.
func (s Signature) Equal(o Signature) bool {
	return s == o
}

func stripSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
