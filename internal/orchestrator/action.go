package orchestrator

import (
	"regexp"
	"strings"
)

// ActionKind is the funnel signal attached to a model reply.
type ActionKind int

const (
	// ActionStay keeps the case at its current stage.
	ActionStay ActionKind = iota
	// ActionProceed asks the funnel to advance to Action.Stage.
	ActionProceed
)

// Action is the parsed trailing marker of a reply.
type Action struct {
	Kind  ActionKind
	Stage string
}

var actionMarker = regexp.MustCompile(`\[ACTION:(PROCEED:([^\]]+)|STAY)\]\s*$`)

// parseAction splits the action marker off the end of a reply.
// A missing or malformed marker means STAY.
func parseAction(reply string) (string, Action) {
	reply = strings.TrimSpace(reply)
	m := actionMarker.FindStringSubmatch(reply)
	if m == nil {
		return reply, Action{Kind: ActionStay}
	}
	clean := strings.TrimSpace(strings.TrimSuffix(reply, m[0]))
	if m[2] != "" {
		return clean, Action{Kind: ActionProceed, Stage: strings.TrimSpace(m[2])}
	}
	return clean, Action{Kind: ActionStay}
}
