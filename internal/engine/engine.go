// Package engine is the conversational pipeline: it receives
// normalized webhook events, drives the funnel for each case, and
// dispatches replies.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lexflow/lexflow/internal/audit"
	"github.com/lexflow/lexflow/internal/config"
	"github.com/lexflow/lexflow/internal/dispatch"
	"github.com/lexflow/lexflow/internal/funnel"
	"github.com/lexflow/lexflow/internal/handoff"
	"github.com/lexflow/lexflow/internal/notify"
	"github.com/lexflow/lexflow/internal/orchestrator"
	"github.com/lexflow/lexflow/internal/provider"
	"github.com/lexflow/lexflow/internal/retrieval"
	"github.com/lexflow/lexflow/internal/store"
	"github.com/lexflow/lexflow/internal/webhook"
)

// proposedSlotsField is the case field holding the last offered slots.
const proposedSlotsField = "_proposed_slots"

// Engine wires the funnel together. It implements webhook.Processor.
type Engine struct {
	store        *store.Store
	dispatcher   *dispatch.Dispatcher
	orchestrator *orchestrator.Orchestrator
	classifier   *funnel.Classifier
	describer    *funnel.Describer
	handoffs     *handoff.Manager
	retriever    *retrieval.Retriever
	resolver     *webhook.Resolver
	notifier     *notify.Notifier
	trail        *audit.Trail
	embedder     provider.Embedder
	cfg          config.EngineConfig
	locks        *caseLocks
	logger       *slog.Logger
}

// Deps collects the engine's collaborators.
type Deps struct {
	Store        *store.Store
	Dispatcher   *dispatch.Dispatcher
	Orchestrator *orchestrator.Orchestrator
	Classifier   *funnel.Classifier
	Describer    *funnel.Describer
	Handoffs     *handoff.Manager
	Retriever    *retrieval.Retriever
	Resolver     *webhook.Resolver
	Notifier     *notify.Notifier
	Trail        *audit.Trail
	Embedder     provider.Embedder
	Config       config.EngineConfig
	Logger       *slog.Logger
}

// New builds an Engine.
func New(d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        d.Store,
		dispatcher:   d.Dispatcher,
		orchestrator: d.Orchestrator,
		classifier:   d.Classifier,
		describer:    d.Describer,
		handoffs:     d.Handoffs,
		retriever:    d.Retriever,
		resolver:     d.Resolver,
		notifier:     d.Notifier,
		trail:        d.Trail,
		embedder:     d.Embedder,
		cfg:          d.Config,
		locks:        newCaseLocks(),
		logger:       logger,
	}
}

// Process handles one normalized channel event.
func (e *Engine) Process(ctx context.Context, tenantID string, ev webhook.Event) {
	switch ev.Kind {
	case webhook.EventDelivery:
		if err := e.store.UpdateDeliveryStatus(ctx, ev.MessageID, ev.DeliveryStatus); err != nil {
			e.logger.Warn("Delivery status not updated", "message_id", ev.MessageID, "error", err)
		}
	case webhook.EventInbound:
		unlock := e.locks.lock(tenantID + "/" + ev.Phone)
		defer unlock()
		e.handleInbound(ctx, tenantID, ev)
	}
}

func (e *Engine) handleInbound(ctx context.Context, tenantID string, ev webhook.Event) {
	text := ev.Text
	if e.resolver != nil {
		resolveCtx, cancel := context.WithTimeout(ctx, e.externalTimeout())
		text = e.resolver.Resolve(resolveCtx, ev)
		cancel()
	}

	c, err := e.store.CaseByPhone(ctx, tenantID, ev.Phone)
	if err == store.ErrNotFound {
		e.handleFirstContact(ctx, tenantID, ev, text)
		return
	}
	if err != nil {
		e.logger.Error("Case lookup failed", "tenant", tenantID, "phone", ev.Phone, "error", err)
		return
	}

	if err := e.store.AddEntry(ctx, &store.ConversationEntry{
		CaseID:     c.ID,
		Role:       store.RoleClient,
		Content:    text,
		MediaType:  ev.MediaType,
		ExternalID: ev.MessageID,
	}); err != nil {
		e.logger.Error("Inbound entry not persisted", "case_id", c.ID, "error", err)
		return
	}
	e.bumpUnread(ctx, c)

	if c.IsPaused || funnel.IsTerminal(c.Status) {
		return
	}

	agents, err := e.store.ActiveAgents(ctx, tenantID)
	if err != nil {
		e.logger.Error("Agent lookup failed", "tenant", tenantID, "error", err)
		return
	}
	agent := e.currentAgent(ctx, agents, c)
	if agent == nil {
		// No active agents: store-only mode.
		return
	}

	// FAQ short-circuit.
	if faqs, err := e.store.FAQsForAgent(ctx, agent.ID); err == nil && len(faqs) > 0 {
		classifyCtx, cancel := context.WithTimeout(ctx, e.modelTimeout())
		match := e.classifier.MatchFAQ(classifyCtx, faqs, text)
		cancel()
		if match != nil {
			if err := e.dispatcher.SendAndRecord(ctx, c, match.Answer); err != nil {
				e.logger.Warn("FAQ answer not delivered", "case_id", c.ID, "error", err)
			}
			return
		}
	}

	// Specialist routing.
	if agent.Category == "" {
		others := otherAgents(agents, agent.ID)
		if len(others) > 0 {
			classifyCtx, cancel := context.WithTimeout(ctx, e.modelTimeout())
			target := e.classifier.DetectCategory(classifyCtx, others, text)
			cancel()
			if target != nil && target.ID != agent.ID {
				if err := e.handoffs.Execute(ctx, c, target, "specialist_match"); err != nil {
					e.logger.Error("Handoff failed", "case_id", c.ID, "error", err)
				}
				return
			}
		}
	}

	e.runTurn(ctx, c, agent, text)
}

// handleFirstContact creates the case and sends the opening message.
// The first reply is scripted, not model generated.
func (e *Engine) handleFirstContact(ctx context.Context, tenantID string, ev webhook.Event, text string) {
	agents, err := e.store.ActiveAgents(ctx, tenantID)
	if err != nil {
		e.logger.Error("Agent lookup failed", "tenant", tenantID, "error", err)
		return
	}
	agent := funnel.ResolveAgent(agents, store.StatusNewContact)

	c := &store.Case{
		TenantID: tenantID,
		Phone:    ev.Phone,
		Name:     ev.PushName,
	}
	if agent != nil {
		c.ActiveAgentID = agent.ID
	}
	if err := e.store.CreateCase(ctx, c); err != nil {
		e.logger.Error("Case not created", "tenant", tenantID, "phone", ev.Phone, "error", err)
		return
	}
	if err := e.store.AddEntry(ctx, &store.ConversationEntry{
		CaseID:     c.ID,
		Role:       store.RoleClient,
		Content:    text,
		MediaType:  ev.MediaType,
		ExternalID: ev.MessageID,
	}); err != nil {
		e.logger.Error("Inbound entry not persisted", "case_id", c.ID, "error", err)
	}
	e.bumpUnread(ctx, c)

	e.record(ctx, &store.WorkflowEvent{
		CaseID:    c.ID,
		EventType: audit.EventStatusChanged,
		ToStatus:  store.StatusNewContact,
		ToAgentID: c.ActiveAgentID,
	})
	if e.notifier != nil {
		e.notifier.StageChanged(ctx, c, store.StatusNewContact)
	}

	if agent == nil {
		return
	}

	opening := ""
	if steps, err := e.store.ScriptSteps(ctx, agent.ID); err == nil && len(steps) > 0 {
		opening = steps[0].Message
		c.CurrentStepID = steps[0].ID
		if err := e.store.UpdateCase(ctx, c); err != nil {
			e.logger.Warn("Script cursor not saved", "case_id", c.ID, "error", err)
		}
	}
	if opening == "" {
		if rules, err := e.store.RulesForAgent(ctx, agent.ID); err == nil {
			opening = rules.WelcomeMessage
		}
	}
	if opening == "" {
		return
	}
	opening = handoff.Personalize(opening, c.Name)
	if err := e.dispatcher.SendAndRecord(ctx, c, opening); err != nil {
		e.logger.Warn("Opening message not delivered", "case_id", c.ID, "error", err)
	}
}

// bumpUnread counts the inbound message for operators. Best effort;
// the in-memory copy tracks the bump so later UpdateCase calls do not
// roll it back.
func (e *Engine) bumpUnread(ctx context.Context, c *store.Case) {
	if err := e.store.IncrementUnread(ctx, c.ID); err != nil {
		e.logger.Warn("Unread count not updated", "case_id", c.ID, "error", err)
		return
	}
	c.UnreadCount++
}

// PauseCase suspends automated replies for a case without clearing the
// agent assignment. Inbound messages keep being stored.
func (e *Engine) PauseCase(ctx context.Context, caseID string) error {
	c, err := e.store.CaseByID(ctx, caseID)
	if err != nil {
		return err
	}
	if c.IsPaused {
		return nil
	}
	c.IsPaused = true
	if err := e.store.UpdateCase(ctx, c); err != nil {
		return err
	}
	e.record(ctx, &store.WorkflowEvent{CaseID: c.ID, EventType: audit.EventCasePaused})
	return nil
}

// ResumeCase lifts an operator pause.
func (e *Engine) ResumeCase(ctx context.Context, caseID string) error {
	c, err := e.store.CaseByID(ctx, caseID)
	if err != nil {
		return err
	}
	if !c.IsPaused {
		return nil
	}
	c.IsPaused = false
	if err := e.store.UpdateCase(ctx, c); err != nil {
		return err
	}
	e.record(ctx, &store.WorkflowEvent{CaseID: c.ID, EventType: audit.EventCaseResumed})
	return nil
}

// runTurn executes the model turn and applies its outcome.
func (e *Engine) runTurn(ctx context.Context, c *store.Case, agent *store.Agent, text string) {
	in, err := e.buildInput(ctx, c, agent, text)
	if err != nil {
		e.logger.Error("Turn input unavailable", "case_id", c.ID, "error", err)
		return
	}

	turnCtx, cancel := context.WithTimeout(ctx, e.modelTimeout())
	out, err := e.orchestrator.Respond(turnCtx, in)
	cancel()
	if err != nil {
		// All providers failing a turn drops the reply. The client
		// message is stored; a human can follow up.
		e.logger.Error("Turn failed, reply dropped", "case_id", c.ID, "error", err)
		return
	}

	if out.Reply != "" {
		if err := e.dispatcher.SendAndRecord(ctx, c, out.Reply); err != nil {
			e.logger.Warn("Reply not delivered", "case_id", c.ID, "error", err)
		}
	}

	e.applyOutcome(ctx, c, agent, in, out)
	e.afterTurn(ctx, c, text)
}

func (e *Engine) applyOutcome(ctx context.Context, c *store.Case, agent *store.Agent, in *orchestrator.Input, out *orchestrator.Output) {
	changed := false

	if len(out.ProposedSlots) > 0 {
		if encoded, err := json.Marshal(out.ProposedSlots); err == nil {
			if err := e.store.SetCaseField(ctx, c.ID, proposedSlotsField, string(encoded)); err != nil {
				e.logger.Warn("Proposed slots not saved", "case_id", c.ID, "error", err)
			}
		}
	}
	if out.Booked != nil {
		_ = e.store.SetCaseField(ctx, c.ID, proposedSlotsField, "")
		e.record(ctx, &store.WorkflowEvent{
			CaseID:    c.ID,
			EventType: audit.EventMeetingBooked,
			Metadata:  out.Booked.Start.Format(time.RFC3339),
		})
	}
	if out.DocumentSent {
		e.record(ctx, &store.WorkflowEvent{CaseID: c.ID, EventType: audit.EventDocumentSent})
	}

	// Advance the script cursor past the step just handled.
	if !out.AutoBooked && len(in.Steps) > 0 && c.CurrentStepID != "" {
		for i, s := range in.Steps {
			if s.ID == c.CurrentStepID {
				if i+1 < len(in.Steps) {
					c.CurrentStepID = in.Steps[i+1].ID
				} else {
					c.CurrentStepID = ""
				}
				changed = true
				break
			}
		}
	}

	if out.Action.Kind == orchestrator.ActionProceed && funnel.CanAdvance(c.Status, out.Action.Stage) {
		from := c.Status
		c.Status = out.Action.Stage
		changed = true
		e.record(ctx, &store.WorkflowEvent{
			CaseID:     c.ID,
			EventType:  audit.EventStatusChanged,
			FromStatus: from,
			ToStatus:   c.Status,
		})
		if e.notifier != nil {
			e.notifier.StageChanged(ctx, c, c.Status)
		}
		if e.describer != nil {
			e.describer.MaybeDescribe(ctx, c, c.Status)
		}
	}

	if changed {
		if err := e.store.UpdateCase(ctx, c); err != nil {
			e.logger.Error("Case not updated after turn", "case_id", c.ID, "error", err)
		}
	}
}

// afterTurn runs best-effort follow-ups: remembering the exchange for
// future retrieval.
func (e *Engine) afterTurn(ctx context.Context, c *store.Case, text string) {
	if e.embedder == nil || text == "" {
		return
	}
	embedCtx, cancel := context.WithTimeout(ctx, e.externalTimeout())
	defer cancel()
	resp, err := e.embedder.Embed(embedCtx, &provider.EmbeddingRequest{Input: text})
	if err != nil {
		e.logger.Debug("Memory embedding skipped", "case_id", c.ID, "error", err)
		return
	}
	err = e.store.UpsertChunk(ctx, &store.Chunk{
		TenantID:     c.TenantID,
		ContactPhone: c.Phone,
		Kind:         store.ChunkContactMemory,
		Content:      text,
	}, resp.Vector)
	if err != nil {
		e.logger.Debug("Memory chunk not saved", "case_id", c.ID, "error", err)
	}
}

func (e *Engine) buildInput(ctx context.Context, c *store.Case, agent *store.Agent, text string) (*orchestrator.Input, error) {
	rules, err := e.store.RulesForAgent(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	steps, err := e.store.ScriptSteps(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	fields, err := e.store.CaseFields(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	tenant, err := e.store.TenantSettings(ctx, c.TenantID)
	if err != nil {
		return nil, err
	}

	historyTurns := e.cfg.HistoryTurns
	if historyTurns <= 0 {
		historyTurns = 20
	}
	entries, err := e.store.RecentEntries(ctx, c.ID, historyTurns)
	if err != nil {
		return nil, err
	}
	// The current inbound message was just persisted; it goes into the
	// request separately, not as history.
	if n := len(entries); n > 0 && entries[n-1].Role == store.RoleClient && entries[n-1].Content == text {
		entries = entries[:n-1]
	}
	history := make([]provider.Message, 0, len(entries))
	for _, entry := range entries {
		role := "user"
		if entry.Role == store.RoleAssistant {
			role = "assistant"
		}
		history = append(history, provider.Message{Role: role, Content: entry.Content})
	}

	retrieved := ""
	if e.retriever != nil {
		retrieveCtx, cancel := context.WithTimeout(ctx, e.externalTimeout())
		retrieved = e.retriever.Context(retrieveCtx, retrieval.Scope{
			TenantID:     c.TenantID,
			AgentID:      agent.ID,
			ContactPhone: c.Phone,
		}, text)
		cancel()
	}

	artifact := ""
	if h, err := e.store.LatestHandoff(ctx, c.ID); err == nil && h.ToAgentID == agent.ID {
		artifact = h.Artifact
	}

	var proposed []time.Time
	if raw := fields[proposedSlotsField]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &proposed)
	}
	delete(fields, proposedSlotsField)

	return &orchestrator.Input{
		Case:              c,
		Agent:             agent,
		Rules:             rules,
		Steps:             steps,
		CurrentStepID:     c.CurrentStepID,
		Fields:            fields,
		History:           history,
		Message:           text,
		RetrievedContext:  retrieved,
		HandoffArtifact:   artifact,
		CalendarConnected: tenant.CalendarConnected,
		SignEnabled:       tenant.SignEnabled,
		ProposedSlots:     proposed,
	}, nil
}

func (e *Engine) currentAgent(ctx context.Context, agents []store.Agent, c *store.Case) *store.Agent {
	if c.ActiveAgentID != "" {
		for i := range agents {
			if agents[i].ID == c.ActiveAgentID {
				return &agents[i]
			}
		}
	}
	agent := funnel.ResolveAgent(agents, c.Status)
	if agent != nil && agent.ID != c.ActiveAgentID {
		c.ActiveAgentID = agent.ID
		if err := e.store.UpdateCase(ctx, c); err != nil {
			e.logger.Warn("Agent assignment not saved", "case_id", c.ID, "error", err)
		}
	}
	return agent
}

func otherAgents(agents []store.Agent, exceptID string) []store.Agent {
	var out []store.Agent
	for _, a := range agents {
		if a.ID != exceptID {
			out = append(out, a)
		}
	}
	return out
}

func (e *Engine) record(ctx context.Context, ev *store.WorkflowEvent) {
	if e.trail == nil {
		if err := e.store.AddWorkflowEvent(ctx, ev); err != nil {
			e.logger.Warn("Workflow event not recorded", "case_id", ev.CaseID, "error", err)
		}
		return
	}
	if err := e.trail.Record(ctx, ev); err != nil {
		e.logger.Warn("Workflow event not recorded", "case_id", ev.CaseID, "error", err)
	}
}

func (e *Engine) modelTimeout() time.Duration {
	if e.cfg.ModelCallTimeout > 0 {
		return e.cfg.ModelCallTimeout
	}
	return 60 * time.Second
}

func (e *Engine) externalTimeout() time.Duration {
	if e.cfg.ExternalTimeout > 0 {
		return e.cfg.ExternalTimeout
	}
	return 30 * time.Second
}
