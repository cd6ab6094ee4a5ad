// Package handoff transfers a case between agents: it builds the
// context artifact, tells the client, switches the assignment, and
// schedules the new agent's delayed greeting.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexflow/lexflow/internal/audit"
	"github.com/lexflow/lexflow/internal/channel"
	"github.com/lexflow/lexflow/internal/funnel"
	"github.com/lexflow/lexflow/internal/provider"
	"github.com/lexflow/lexflow/internal/store"
)

// historyTurns caps how much conversation feeds the artifact prompt.
const historyTurns = 20

// Manager executes agent handoffs.
type Manager struct {
	store         *store.Store
	chat          provider.ChatCompletionProvider
	sender        channel.Sender
	trail         *audit.Trail
	greetingDelay time.Duration
	logger        *slog.Logger
}

// New builds a Manager.
func New(st *store.Store, chat provider.ChatCompletionProvider, sender channel.Sender, trail *audit.Trail, greetingDelay time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if greetingDelay <= 0 {
		greetingDelay = 60 * time.Second
	}
	return &Manager{store: st, chat: chat, sender: sender, trail: trail, greetingDelay: greetingDelay, logger: logger}
}

// Execute transfers the case to the destination agent. The artifact is
// best effort; the transfer itself is not.
func (m *Manager) Execute(ctx context.Context, c *store.Case, to *store.Agent, reason string) error {
	history, err := m.store.RecentEntries(ctx, c.ID, historyTurns)
	if err != nil {
		m.logger.Warn("Handoff history unavailable", "case_id", c.ID, "error", err)
	}
	fields, err := m.store.CaseFields(ctx, c.ID)
	if err != nil {
		fields = map[string]string{}
	}

	artifact := m.generateArtifact(ctx, c, history, fields, reason)
	artifactJSON, err := json.Marshal(artifact)
	if err != nil {
		artifactJSON = []byte("{}")
	}

	fromAgentID := c.ActiveAgentID
	if err := m.store.AddHandoff(ctx, &store.Handoff{
		CaseID:      c.ID,
		FromAgentID: fromAgentID,
		ToAgentID:   to.ID,
		Reason:      reason,
		Artifact:    string(artifactJSON),
	}); err != nil {
		return fmt.Errorf("persist handoff: %w", err)
	}

	m.notifyClient(ctx, c, to)

	// The switch itself: new agent, pause cleared, script cursor at
	// the destination's first step, stage advanced when the
	// destination owns a later stage.
	wasPaused := c.IsPaused
	c.ActiveAgentID = to.ID
	c.IsPaused = false
	c.CurrentStepID = ""
	if steps, err := m.store.ScriptSteps(ctx, to.ID); err == nil && len(steps) > 0 {
		c.CurrentStepID = steps[0].ID
	}
	fromStatus := c.Status
	if to.StageOverride != "" && funnel.CanAdvance(c.Status, to.StageOverride) {
		c.Status = to.StageOverride
	}
	if err := m.store.UpdateCase(ctx, c); err != nil {
		return fmt.Errorf("switch agent: %w", err)
	}

	if m.trail != nil {
		if wasPaused {
			_ = m.trail.Record(ctx, &store.WorkflowEvent{
				CaseID:    c.ID,
				EventType: audit.EventCaseResumed,
				Metadata:  "handoff",
			})
		}
		_ = m.trail.Record(ctx, &store.WorkflowEvent{
			CaseID:      c.ID,
			EventType:   audit.EventAgentHandoff,
			FromStatus:  fromStatus,
			ToStatus:    c.Status,
			FromAgentID: fromAgentID,
			ToAgentID:   to.ID,
			Metadata:    reason,
		})
	}

	m.scheduleGreeting(ctx, c, to)
	return nil
}

// notifyClient sends the transition message naming the new agent.
// Send failure does not abort the handoff.
func (m *Manager) notifyClient(ctx context.Context, c *store.Case, to *store.Agent) {
	msg := fmt.Sprintf("Vou te transferir para %s, que vai continuar seu atendimento. Um momento!", to.Name)
	externalID, err := m.sender.SendText(ctx, c.Phone, msg)
	if err != nil {
		m.logger.Warn("Transition message failed", "case_id", c.ID, "error", err)
		return
	}
	if err := m.store.AddEntry(ctx, &store.ConversationEntry{
		CaseID:     c.ID,
		Role:       store.RoleAssistant,
		Content:    msg,
		ExternalID: externalID,
	}); err != nil {
		m.logger.Warn("Transition entry not persisted", "case_id", c.ID, "error", err)
	}
}

// scheduleGreeting queues the destination agent's opening message for
// delayed delivery. Failure is logged, never retried inline.
func (m *Manager) scheduleGreeting(ctx context.Context, c *store.Case, to *store.Agent) {
	greeting := ""
	if steps, err := m.store.ScriptSteps(ctx, to.ID); err == nil && len(steps) > 0 {
		greeting = steps[0].Message
	}
	if greeting == "" {
		if rules, err := m.store.RulesForAgent(ctx, to.ID); err == nil {
			greeting = rules.WelcomeMessage
		}
	}
	if greeting == "" {
		return
	}
	greeting = Personalize(greeting, c.Name)

	err := m.store.ScheduleDelayedMessage(ctx, &store.DelayedMessage{
		CaseID:  c.ID,
		Phone:   c.Phone,
		Content: greeting,
		SendAt:  time.Now().Add(m.greetingDelay),
	})
	if err != nil {
		m.logger.Warn("Greeting not scheduled", "case_id", c.ID, "error", err)
		return
	}
	if m.trail != nil {
		_ = m.trail.Record(ctx, &store.WorkflowEvent{
			CaseID:    c.ID,
			EventType: audit.EventGreetingQueued,
			ToAgentID: to.ID,
		})
	}
}

// Personalize substitutes the {name} placeholder, falling back to a
// neutral greeting when the contact has no name yet.
func Personalize(template, name string) string {
	if strings.TrimSpace(name) == "" {
		name = "tudo bem"
	}
	return strings.ReplaceAll(template, "{name}", name)
}
