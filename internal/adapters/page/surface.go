package page

import (
	"encoding/json"
	"errors"

	"github.com/mailsentry/mailsentry/internal/core"
)

// badgeDTO is the JSON shape the in-page badge scripts consume and emit.
type badgeDTO struct {
	Key      string `json:"key"`
	Level    string `json:"level"`
	Score    int    `json:"score"`
	Tooltip  string `json:"tooltip"`
	DeepLink string `json:"deepLink"`
	Scanning bool   `json:"scanning"`
	Inline   bool   `json:"inline"`
}

func specDTO(spec core.BadgeSpec) badgeDTO {
	return badgeDTO{
		Key:      string(spec.Key),
		Level:    string(spec.Level),
		Score:    spec.Score,
		Tooltip:  spec.Tooltip,
		DeepLink: spec.DeepLink,
		Scanning: spec.Scanning,
		Inline:   spec.Inline,
	}
}

// Badges lists the markers currently attached under a row.
func (s *Session) Badges(row core.Node) []core.BadgeInfo {
	n, ok := row.(*node)
	if !ok || n == nil {
		return nil
	}
	raw, err := n.callJSON(listBadgesScript)
	if err != nil {
		return nil
	}
	var dtos []struct {
		Key      string `json:"key"`
		Level    string `json:"level"`
		Score    int    `json:"score"`
		Scanning bool   `json:"scanning"`
	}
	if err := json.Unmarshal(raw, &dtos); err != nil {
		return nil
	}
	infos := make([]core.BadgeInfo, 0, len(dtos))
	for _, d := range dtos {
		infos = append(infos, core.BadgeInfo{
			Key:      core.ItemKey(d.Key),
			Level:    core.RiskLevel(d.Level),
			Score:    d.Score,
			Scanning: d.Scanning,
		})
	}
	return infos
}

// RemoveBadges removes every marker attached under a row.
func (s *Session) RemoveBadges(row core.Node) {
	n, ok := row.(*node)
	if !ok || n == nil {
		return
	}
	_, _ = n.callJSON(removeBadgesScript)
}

// Insert attaches a new marker immediately after the anchor.
func (s *Session) Insert(anchor core.Node, spec core.BadgeSpec) error {
	n, ok := anchor.(*node)
	if !ok || n == nil {
		return errors.New("anchor is not a page node")
	}
	_, err := n.callJSON(insertBadgeScript, specDTO(spec))
	return err
}

// Repaint updates the marker tagged with spec.Key under the row.
func (s *Session) Repaint(row core.Node, spec core.BadgeSpec) error {
	n, ok := row.(*node)
	if !ok || n == nil {
		return errors.New("row is not a page node")
	}
	raw, err := n.callJSON(repaintBadgeScript, specDTO(spec))
	if err != nil {
		return err
	}
	var found bool
	if err := json.Unmarshal(raw, &found); err != nil {
		return err
	}
	if !found {
		return errors.New("no badge with that key under row")
	}
	return nil
}

var _ core.BadgeSurface = (*Session)(nil)
