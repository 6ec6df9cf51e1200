package core

import (
	"regexp"
	"strings"
	"time"
)

// Local keyword heuristics applied when the scoring service is unreachable.
// The degraded verdict is cached exactly as if it were authoritative so the
// user still sees a marker and a down service is not hammered with retries.
var (
	highSubjectPattern       = regexp.MustCompile(`urgent|action required|verify|suspended|confirm your|payroll`)
	suspiciousSubjectPattern = regexp.MustCompile(`click here|limited time|delivery|support`)
	highSenderPattern        = regexp.MustCompile(`noreply`)
	suspiciousSenderPattern  = regexp.MustCompile(`delivery|support`)
)

// Representative scores for each heuristic bucket.
const (
	fallbackMaliciousScore  = 85
	fallbackSuspiciousScore = 55
	fallbackSafeScore       = 15
)

// FallbackVerdict classifies an item from subject/sender substrings alone.
func FallbackVerdict(subject, sender string) *Verdict {
	subject = strings.ToLower(subject)
	sender = strings.ToLower(sender)

	level := LevelSafe
	score := fallbackSafeScore
	switch {
	case highSubjectPattern.MatchString(subject) || highSenderPattern.MatchString(sender):
		level = LevelMalicious
		score = fallbackMaliciousScore
	case suspiciousSubjectPattern.MatchString(subject) || suspiciousSenderPattern.MatchString(sender):
		level = LevelSuspicious
		score = fallbackSuspiciousScore
	}

	return &Verdict{
		Level:      level,
		Score:      score,
		Reasoning:  "Scoring service unavailable; classified by local keyword heuristics",
		Confidence: "low",
		Degraded:   true,
		AnalyzedAt: time.Now(),
		Provider:   "heuristic",
	}
}
