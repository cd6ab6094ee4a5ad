// Package funnel implements the qualification funnel: stage
// progression rules, agent resolution, and the model-backed
// classifiers that route client messages.
package funnel

import (
	"github.com/lexflow/lexflow/internal/store"
)

// IsTerminal reports whether a case in this status stops moving on its
// own. Archived is final; Not Qualified only leaves via manual
// reopening by an operator, never an automated turn. Converted cases
// keep talking (follow-ups, archiving).
func IsTerminal(status string) bool {
	return status == store.StatusNotQualified || status == store.StatusArchived
}

// CanAdvance reports whether a case may move from one status to
// another. Progression is forward-only; terminal statuses never move.
func CanAdvance(from, to string) bool {
	if IsTerminal(from) {
		return false
	}
	fromRank, toRank := store.StatusRank(from), store.StatusRank(to)
	if fromRank < 0 || toRank < 0 {
		return false
	}
	return toRank > fromRank
}

// ResolveAgent picks the agent that owns a case at the given status.
// A stage override wins, then the tenant default, then any active
// agent. Returns nil when no agent is active.
func ResolveAgent(agents []store.Agent, status string) *store.Agent {
	var fallback, def *store.Agent
	for i := range agents {
		a := &agents[i]
		if !a.IsActive {
			continue
		}
		if a.StageOverride == status && status != "" {
			return a
		}
		if a.IsDefault && def == nil {
			def = a
		}
		if fallback == nil {
			fallback = a
		}
	}
	if def != nil {
		return def
	}
	return fallback
}
