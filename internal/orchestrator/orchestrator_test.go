package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lexflow/lexflow/internal/calendar"
	"github.com/lexflow/lexflow/internal/config"
	"github.com/lexflow/lexflow/internal/provider"
	"github.com/lexflow/lexflow/internal/sign"
	"github.com/lexflow/lexflow/internal/store"
)

type mockProvider struct {
	responses []*provider.ChatResponse
	requests  []*provider.ChatRequest
}

func (m *mockProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	// Snapshot the messages; the orchestrator mutates the request.
	copied := *req
	copied.Messages = append([]provider.Message(nil), req.Messages...)
	m.requests = append(m.requests, &copied)
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}
func (m *mockProvider) Name() string         { return "mock" }
func (m *mockProvider) DefaultModel() string { return "gpt-4o" }

type fakeCalendarProvider struct {
	busy   []calendar.Interval
	booked []*calendar.Event
}

func (f *fakeCalendarProvider) BusyIntervals(ctx context.Context, day time.Time) ([]calendar.Interval, error) {
	return f.busy, nil
}

func (f *fakeCalendarProvider) CreateEvent(ctx context.Context, ev *calendar.Event) error {
	f.booked = append(f.booked, ev)
	return nil
}

type fakeSigner struct {
	requests []*sign.Request
}

func (f *fakeSigner) SendDocument(ctx context.Context, req *sign.Request) (*sign.Result, error) {
	f.requests = append(f.requests, req)
	return &sign.Result{EnvelopeID: "env-1", SignURL: "https://sign.example/env-1"}, nil
}

func testScheduler(p calendar.Provider) *calendar.Scheduler {
	return calendar.NewScheduler(p, config.CalendarConfig{
		WorkDayStart:  "09:00",
		WorkDayEnd:    "18:00",
		LunchStart:    "12:00",
		LunchEnd:      "13:00",
		SlotMinutes:   60,
		UTCOffsetHour: -3,
	})
}

func baseInput() *Input {
	return &Input{
		Case:  &store.Case{ID: "c1", Phone: "5511999990000", Name: "Maria", Status: store.StatusInProgress},
		Agent: &store.Agent{ID: "a1", Name: "Recepção"},
		Rules: &store.Rules{SystemPrompt: "Você é a recepcionista do escritório."},
	}
}

func TestRespondPlainReplyWithAction(t *testing.T) {
	p := &mockProvider{responses: []*provider.ChatResponse{
		{Content: "Entendi! Pode me contar mais sobre o caso?\n[ACTION:PROCEED:In Progress]"},
	}}
	o := New(p, testScheduler(&fakeCalendarProvider{}), nil, nil)

	out, err := o.Respond(context.Background(), baseInput())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.Reply, "[ACTION") {
		t.Errorf("marker leaked into reply: %q", out.Reply)
	}
	if out.Action.Kind != ActionProceed || out.Action.Stage != "In Progress" {
		t.Errorf("action = %+v", out.Action)
	}

	sys := p.requests[0].Messages[0]
	if sys.Role != "system" || !strings.Contains(sys.Content, "recepcionista") {
		t.Errorf("system prompt = %+v", sys)
	}
}

func TestRespondMissingMarkerMeansStay(t *testing.T) {
	p := &mockProvider{responses: []*provider.ChatResponse{{Content: "Olá!"}}}
	o := New(p, testScheduler(&fakeCalendarProvider{}), nil, nil)
	out, err := o.Respond(context.Background(), baseInput())
	if err != nil {
		t.Fatal(err)
	}
	if out.Action.Kind != ActionStay {
		t.Errorf("action = %+v", out.Action)
	}
	if out.Reply != "Olá!" {
		t.Errorf("reply = %q", out.Reply)
	}
}

func TestRespondToolLoopProposesSlots(t *testing.T) {
	p := &mockProvider{responses: []*provider.ChatResponse{
		{
			ToolCalls: []provider.ToolCall{{
				ID:        "tc1",
				Name:      "propose_slots",
				Arguments: map[string]any{"date": "2099-09-01"},
			}},
			FinishReason: "tool_calls",
		},
		{Content: "Temos estes horários disponíveis. Qual prefere?\n[ACTION:STAY]"},
	}}
	o := New(p, testScheduler(&fakeCalendarProvider{}), nil, nil)

	in := baseInput()
	in.CalendarConnected = true
	out, err := o.Respond(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.ProposedSlots) == 0 {
		t.Fatal("no slots proposed")
	}
	if out.ProposedSlots[0].Hour() != 9 {
		t.Errorf("first slot = %v", out.ProposedSlots[0])
	}

	// Second pass got the tool result and no tools.
	second := p.requests[1]
	if len(second.Tools) != 0 {
		t.Errorf("tools offered on second pass")
	}
	var toolMsg *provider.Message
	for i := range second.Messages {
		if second.Messages[i].Role == "tool" {
			toolMsg = &second.Messages[i]
		}
	}
	if toolMsg == nil || !strings.Contains(toolMsg.Content, "Horários disponíveis") {
		t.Errorf("tool result missing: %+v", toolMsg)
	}
	if !strings.Contains(out.Reply, "Qual prefere?") {
		t.Errorf("reply = %q", out.Reply)
	}
}

func TestRespondCreateEventBooks(t *testing.T) {
	cal := &fakeCalendarProvider{}
	p := &mockProvider{responses: []*provider.ChatResponse{
		{
			ToolCalls: []provider.ToolCall{{
				ID:   "tc1",
				Name: "create_event",
				Arguments: map[string]any{
					"date":     "2099-09-01",
					"time":     "15:00",
					"summary":  "Consulta inicial",
					"duration": float64(60),
				},
			}},
		},
		{Content: "Agendado! Te espero lá.\n[ACTION:PROCEED:Converted]"},
	}}
	o := New(p, testScheduler(cal), nil, nil)

	out, err := o.Respond(context.Background(), baseInput())
	if err != nil {
		t.Fatal(err)
	}
	if out.Booked == nil || len(cal.booked) != 1 {
		t.Fatal("event not booked")
	}
	if cal.booked[0].Start.Hour() != 15 || cal.booked[0].Title != "Consulta inicial" {
		t.Errorf("booked = %+v", cal.booked[0])
	}
	if out.Action.Stage != store.StatusConverted {
		t.Errorf("action = %+v", out.Action)
	}
}

func TestRespondSendDocument(t *testing.T) {
	signer := &fakeSigner{}
	p := &mockProvider{responses: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "tc1", Name: "send_document", Arguments: map[string]any{"signer_name": "Maria Silva"}}}},
		{Content: "Contrato enviado!\n[ACTION:STAY]"},
	}}
	o := New(p, testScheduler(&fakeCalendarProvider{}), signer, nil)

	in := baseInput()
	in.SignEnabled = true
	out, err := o.Respond(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !out.DocumentSent || len(signer.requests) != 1 {
		t.Fatal("document not sent")
	}
	if signer.requests[0].SignerName != "Maria Silva" || signer.requests[0].SignerTel != "5511999990000" {
		t.Errorf("request = %+v", signer.requests[0])
	}
}

func TestRespondInvalidToolCallFailsSoft(t *testing.T) {
	p := &mockProvider{responses: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "tc1", Name: "propose_slots", Arguments: map[string]any{"date": "amanhã"}}}},
		{Content: "Pode me dizer a data exata?\n[ACTION:STAY]"},
	}}
	o := New(p, testScheduler(&fakeCalendarProvider{}), nil, nil)

	out, err := o.Respond(context.Background(), baseInput())
	if err != nil {
		t.Fatal(err)
	}
	var toolMsg string
	for _, m := range p.requests[1].Messages {
		if m.Role == "tool" {
			toolMsg = m.Content
		}
	}
	if !strings.HasPrefix(toolMsg, "erro:") {
		t.Errorf("tool result = %q", toolMsg)
	}
	if out.Reply == "" {
		t.Error("turn aborted on bad tool call")
	}
}

func TestAutoBookingShortCircuit(t *testing.T) {
	cal := &fakeCalendarProvider{}
	p := &mockProvider{} // must never be called
	o := New(p, testScheduler(cal), nil, nil)

	loc := time.FixedZone("UTC-3", -3*3600)
	slots := []time.Time{
		time.Date(2099, 9, 1, 9, 0, 0, 0, loc),
		time.Date(2099, 9, 1, 15, 0, 0, 0, loc),
	}
	in := baseInput()
	in.Agent.ScheduleOriented = true
	in.CalendarConnected = true
	in.ProposedSlots = slots
	in.Message = "pode ser às 15h"

	out, err := o.Respond(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !out.AutoBooked || out.Booked == nil {
		t.Fatal("auto booking did not trigger")
	}
	if len(p.requests) != 0 {
		t.Errorf("model called %d times during auto booking", len(p.requests))
	}
	if cal.booked[0].Start.Hour() != 15 {
		t.Errorf("booked slot = %v", cal.booked[0].Start)
	}
	if !strings.Contains(out.Reply, "01/09/2099 às 15:00") {
		t.Errorf("reply = %q", out.Reply)
	}
}

func TestMatchSlotChoice(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	slots := []time.Time{
		time.Date(2099, 9, 1, 9, 0, 0, 0, loc),
		time.Date(2099, 9, 1, 13, 0, 0, 0, loc),
		time.Date(2099, 9, 1, 15, 30, 0, 0, loc),
	}

	if got, ok := MatchSlotChoice("2", slots); !ok || got.Hour() != 13 {
		t.Errorf("index choice = %v %v", got, ok)
	}
	if got, ok := MatchSlotChoice("prefiro 15:30", slots); !ok || got.Minute() != 30 {
		t.Errorf("clock choice = %v %v", got, ok)
	}
	if got, ok := MatchSlotChoice("pode ser 9h", slots); !ok || got.Hour() != 9 {
		t.Errorf("9h choice = %v %v", got, ok)
	}
	if _, ok := MatchSlotChoice("9", slots[:2]); ok {
		t.Error("out-of-range index matched")
	}
	if _, ok := MatchSlotChoice("quero saber os valores", slots); ok {
		t.Error("free text matched a slot")
	}
	if _, ok := MatchSlotChoice("amanhã não posso", slots); ok {
		t.Error("non-clock text matched")
	}
}

func TestCalendarGuidanceGating(t *testing.T) {
	in := baseInput()
	in.CalendarConnected = true
	in.Steps = []store.ScriptStep{{ID: "s1", Position: 1, Situation: "abertura", Message: "Olá!"}}

	// Script active, agent not schedule oriented: no guidance.
	if prompt := buildSystemPrompt(in); strings.Contains(prompt, "propose_slots") {
		t.Error("guidance present with active script")
	}

	in.Agent.ScheduleOriented = true
	if prompt := buildSystemPrompt(in); !strings.Contains(prompt, "propose_slots") {
		t.Error("guidance missing for schedule-oriented agent")
	}

	in.Agent.ScheduleOriented = false
	in.Steps = nil
	if prompt := buildSystemPrompt(in); !strings.Contains(prompt, "propose_slots") {
		t.Error("guidance missing with no script")
	}

	in.CalendarConnected = false
	if prompt := buildSystemPrompt(in); strings.Contains(prompt, "propose_slots") {
		t.Error("guidance present with calendar disconnected")
	}
}
