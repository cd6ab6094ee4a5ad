// Package orchestrator runs one conversational turn: prompt assembly,
// the model call with tools, tool execution, and the action signal
// that drives the funnel.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lexflow/lexflow/internal/calendar"
	"github.com/lexflow/lexflow/internal/provider"
	"github.com/lexflow/lexflow/internal/retry"
	"github.com/lexflow/lexflow/internal/sign"
	"github.com/lexflow/lexflow/internal/store"
)

// Input is everything a turn needs. The engine loads it under the
// case lock.
type Input struct {
	Case          *store.Case
	Agent         *store.Agent
	Rules         *store.Rules
	Steps         []store.ScriptStep
	CurrentStepID string
	Fields        map[string]string

	History []provider.Message
	Message string

	RetrievedContext string
	HandoffArtifact  string

	CalendarConnected bool
	SignEnabled       bool
	// ProposedSlots are the slots last offered to this contact, used
	// for deterministic booking of a plain slot choice.
	ProposedSlots []time.Time
}

// Output is the result of one turn.
type Output struct {
	Reply  string
	Action Action
	// ProposedSlots set when the turn offered new slots.
	ProposedSlots []time.Time
	// Booked set when a consultation was created this turn.
	Booked *calendar.Event
	// AutoBooked marks the deterministic short-circuit path.
	AutoBooked   bool
	DocumentSent bool
}

// Orchestrator executes turns against the model and its tools.
type Orchestrator struct {
	chat      provider.ChatCompletionProvider
	scheduler *calendar.Scheduler
	signer    sign.Service
	logger    *slog.Logger
}

// New builds an Orchestrator. signer may be nil when the tenant has no
// signature integration.
func New(chat provider.ChatCompletionProvider, scheduler *calendar.Scheduler, signer sign.Service, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{chat: chat, scheduler: scheduler, signer: signer, logger: logger}
}

// Respond runs one turn. When the message is a plain choice among the
// last proposed slots and the agent is schedule oriented, the booking
// happens without a model call.
func (o *Orchestrator) Respond(ctx context.Context, in *Input) (*Output, error) {
	if slot, ok := o.autoBookable(in); ok {
		return o.autoBook(ctx, in, slot)
	}

	messages := []provider.Message{{Role: "system", Content: buildSystemPrompt(in)}}
	messages = append(messages, in.History...)
	messages = append(messages, provider.Message{Role: "user", Content: in.Message})

	req := &provider.ChatRequest{
		Messages:    messages,
		Tools:       toolDefinitions(in.SignEnabled && o.signer != nil),
		MaxTokens:   1024,
		Temperature: 0.7,
	}

	resp, err := o.chat.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	out := &Output{}
	if len(resp.ToolCalls) > 0 {
		resp, err = o.runTools(ctx, in, req, resp, out)
		if err != nil {
			return nil, err
		}
	}

	reply, action := parseAction(resp.Content)
	out.Reply = reply
	out.Action = action
	return out, nil
}

// runTools executes the first pass's tool calls and asks the model for
// the final reply. Tool calls on the second pass are dropped.
func (o *Orchestrator) runTools(ctx context.Context, in *Input, req *provider.ChatRequest, resp *provider.ChatResponse, out *Output) (*provider.ChatResponse, error) {
	req.Messages = append(req.Messages, provider.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	for _, tc := range resp.ToolCalls {
		result := o.executeTool(ctx, in, tc, out)
		req.Messages = append(req.Messages, provider.Message{
			Role:       "tool",
			Content:    result,
			ToolCallID: tc.ID,
		})
	}

	req.Tools = nil
	final, err := o.chat.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("model call after tools: %w", err)
	}
	return final, nil
}

// executeTool runs one tool call. Failures come back as text for the
// model to explain; they never abort the turn.
func (o *Orchestrator) executeTool(ctx context.Context, in *Input, tc provider.ToolCall, out *Output) string {
	call, err := parseToolCall(tc)
	if err != nil {
		o.logger.Warn("Invalid tool call", "tool", tc.Name, "error", err)
		return "erro: " + err.Error()
	}

	switch call := call.(type) {
	case ProposeSlotsCall:
		day, _ := time.ParseInLocation("2006-01-02", call.Date, o.scheduler.Location())
		slots, err := retry.Do(ctx, "free slots", func(ctx context.Context) ([]time.Time, error) {
			return o.scheduler.FreeSlots(ctx, day)
		})
		if err != nil {
			o.logger.Warn("Slot lookup failed", "date", call.Date, "error", err)
			return "erro: não foi possível consultar a agenda"
		}
		if len(slots) == 0 {
			return "nenhum horário disponível nessa data"
		}
		out.ProposedSlots = slots
		var b strings.Builder
		b.WriteString("Horários disponíveis:\n")
		for i, s := range slots {
			fmt.Fprintf(&b, "%d. %s\n", i+1, calendar.FormatSlot(s))
		}
		return b.String()

	case CreateEventCall:
		start, err := time.ParseInLocation("2006-01-02 15:04", call.Date+" "+call.Time, o.scheduler.Location())
		if err != nil {
			return "erro: data ou horário inválido"
		}
		ev := &calendar.Event{
			Title:    call.Summary,
			Start:    start,
			End:      start.Add(time.Duration(call.DurationMin) * time.Minute),
			Attendee: firstNonEmpty(call.AttendeeEmail, in.Case.Phone),
		}
		_, err = retry.Do(ctx, "create event", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.scheduler.Book(ctx, ev)
		})
		if err != nil {
			o.logger.Warn("Booking failed", "case_id", in.Case.ID, "error", err)
			return "erro: não foi possível agendar"
		}
		out.Booked = ev
		return "consulta agendada para " + calendar.FormatSlot(start)

	case SendDocumentCall:
		if o.signer == nil || !in.SignEnabled {
			return "erro: assinatura eletrônica não habilitada"
		}
		res, err := retry.Do(ctx, "send document", func(ctx context.Context) (*sign.Result, error) {
			return o.signer.SendDocument(ctx, &sign.Request{
				TemplateID: call.TemplateID,
				SignerName: firstNonEmpty(call.SignerName, in.Case.Name),
				SignerTel:  in.Case.Phone,
			})
		})
		if err != nil {
			o.logger.Warn("Document dispatch failed", "case_id", in.Case.ID, "error", err)
			return "erro: não foi possível enviar o documento"
		}
		out.DocumentSent = true
		result, _ := json.Marshal(map[string]string{"envelope_id": res.EnvelopeID, "sign_url": res.SignURL})
		return string(result)
	}
	return "erro: ferramenta desconhecida"
}

func (o *Orchestrator) autoBookable(in *Input) (time.Time, bool) {
	if in.Agent == nil || !in.Agent.ScheduleOriented || !in.CalendarConnected {
		return time.Time{}, false
	}
	if len(in.ProposedSlots) == 0 {
		return time.Time{}, false
	}
	return MatchSlotChoice(in.Message, in.ProposedSlots)
}

func (o *Orchestrator) autoBook(ctx context.Context, in *Input, slot time.Time) (*Output, error) {
	ev := &calendar.Event{
		Title:    "Consulta " + firstNonEmpty(in.Case.Name, in.Case.Phone),
		Start:    slot,
		End:      slot.Add(time.Hour),
		Attendee: in.Case.Phone,
	}
	_, err := retry.Do(ctx, "create event", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.scheduler.Book(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("auto booking: %w", err)
	}
	return &Output{
		Reply:      "Perfeito! Sua consulta está confirmada para " + calendar.FormatSlot(slot) + ". Até lá!",
		Action:     Action{Kind: ActionStay},
		Booked:     ev,
		AutoBooked: true,
	}, nil
}

var clockPattern = regexp.MustCompile(`(\d{1,2})(?::(\d{2})|h(\d{2})?)`)

// MatchSlotChoice interprets a client message as a choice among the
// proposed slots: a bare 1-based index, or a clock time like "15:00",
// "15h" or "15h30" matching one slot exactly.
func MatchSlotChoice(message string, slots []time.Time) (time.Time, bool) {
	trimmed := strings.Trim(strings.TrimSpace(message), ".!")
	if n, err := strconv.Atoi(trimmed); err == nil {
		if n >= 1 && n <= len(slots) {
			return slots[n-1], true
		}
		return time.Time{}, false
	}

	m := clockPattern.FindStringSubmatch(strings.ToLower(message))
	if m == nil {
		return time.Time{}, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	} else if m[3] != "" {
		minute, _ = strconv.Atoi(m[3])
	}

	var match time.Time
	found := false
	for _, s := range slots {
		if s.Hour() == hour && s.Minute() == minute {
			if found {
				return time.Time{}, false // ambiguous across days
			}
			match, found = s, true
		}
	}
	return match, found
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
