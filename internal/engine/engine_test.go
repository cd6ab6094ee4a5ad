package engine

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lexflow/lexflow/internal/audit"
	"github.com/lexflow/lexflow/internal/calendar"
	"github.com/lexflow/lexflow/internal/config"
	"github.com/lexflow/lexflow/internal/dispatch"
	"github.com/lexflow/lexflow/internal/funnel"
	"github.com/lexflow/lexflow/internal/handoff"
	"github.com/lexflow/lexflow/internal/orchestrator"
	"github.com/lexflow/lexflow/internal/provider"
	"github.com/lexflow/lexflow/internal/retrieval"
	"github.com/lexflow/lexflow/internal/store"
	"github.com/lexflow/lexflow/internal/webhook"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendText(ctx context.Context, phone, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return "MSG1", nil
}

func (f *fakeSender) SendTyping(ctx context.Context, phone string, d time.Duration) error {
	return nil
}

type scriptedChat struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (s *scriptedChat) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	reply := "[ACTION:STAY]"
	if len(s.replies) > 0 {
		reply = s.replies[0]
		if len(s.replies) > 1 {
			s.replies = s.replies[1:]
		}
	}
	return &provider.ChatResponse{Content: reply}, nil
}
func (s *scriptedChat) Name() string         { return "scripted" }
func (s *scriptedChat) DefaultModel() string { return "gpt-4o" }

type nullCalendar struct{}

func (nullCalendar) BusyIntervals(ctx context.Context, day time.Time) ([]calendar.Interval, error) {
	return nil, nil
}
func (nullCalendar) CreateEvent(ctx context.Context, ev *calendar.Event) error { return nil }

type testRig struct {
	engine    *Engine
	store     *store.Store
	sender    *fakeSender
	turnChat  *scriptedChat
	classify  *scriptedChat
	described *scriptedChat
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	sender := &fakeSender{}
	turnChat := &scriptedChat{}
	classify := &scriptedChat{replies: []string{"0"}}
	described := &scriptedChat{}

	cfg := config.EngineConfig{
		HistoryTurns:     20,
		TypingMsPerChar:  50,
		TypingMin:        time.Millisecond,
		TypingMax:        time.Millisecond,
		ModelCallTimeout: 5 * time.Second,
		ExternalTimeout:  5 * time.Second,
	}
	dispatcher := dispatch.New(sender, s, cfg, nil)
	scheduler := calendar.NewScheduler(nullCalendar{}, config.CalendarConfig{
		WorkDayStart: "09:00", WorkDayEnd: "18:00",
		LunchStart: "12:00", LunchEnd: "13:00",
		SlotMinutes: 60, UTCOffsetHour: -3,
	})

	eng := New(Deps{
		Store:        s,
		Dispatcher:   dispatcher,
		Orchestrator: orchestrator.New(turnChat, scheduler, nil, nil),
		Classifier:   funnel.NewClassifier(classify, nil),
		Describer:    funnel.NewDescriber(s, described, nil),
		Handoffs:     handoff.New(s, turnChat, sender, nil, time.Minute, nil),
		Retriever:    retrieval.New(s, nil, nil),
		Config:       cfg,
	})
	return &testRig{engine: eng, store: s, sender: sender, turnChat: turnChat, classify: classify, described: described}
}

func seedDefaultAgent(t *testing.T, s *store.Store) *store.Agent {
	t.Helper()
	ctx := context.Background()
	agent := &store.Agent{TenantID: "t1", Name: "Recepção", IsActive: true, IsDefault: true}
	if err := s.CreateAgent(ctx, agent); err != nil {
		t.Fatal(err)
	}
	err := s.CreateScriptStep(ctx, &store.ScriptStep{
		AgentID: agent.ID, Position: 1, Situation: "abertura",
		Message: "Olá {name}! Bem-vindo ao escritório. Como posso ajudar?",
	})
	if err != nil {
		t.Fatal(err)
	}
	return agent
}

func TestFirstContactCreatesCaseAndGreets(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	agent := seedDefaultAgent(t, rig.store)

	rig.engine.Process(ctx, "t1", webhook.Event{
		Kind:      webhook.EventInbound,
		Phone:     "5511999990000",
		PushName:  "Maria",
		MessageID: "M1",
		Text:      "Olá",
	})

	c, err := rig.store.CaseByPhone(ctx, "t1", "5511999990000")
	if err != nil {
		t.Fatalf("case not created: %v", err)
	}
	if c.Status != store.StatusNewContact {
		t.Errorf("status = %q", c.Status)
	}
	if c.ActiveAgentID != agent.ID {
		t.Errorf("agent = %q, want default", c.ActiveAgentID)
	}
	if c.Name != "Maria" {
		t.Errorf("name = %q", c.Name)
	}

	rig.sender.mu.Lock()
	defer rig.sender.mu.Unlock()
	if len(rig.sender.sent) != 1 || !strings.Contains(rig.sender.sent[0], "Olá Maria!") {
		t.Errorf("opening = %v", rig.sender.sent)
	}

	entries, err := rig.store.RecentEntries(ctx, c.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want inbound + opening", len(entries))
	}
	if entries[0].Role != store.RoleClient || entries[0].Content != "Olá" {
		t.Errorf("inbound entry = %+v", entries[0])
	}

	// First contact is scripted; the model stays out of it.
	if rig.turnChat.calls != 0 {
		t.Errorf("model called %d times on first contact", rig.turnChat.calls)
	}
}

func TestQualifiedToConvertedDescribesOnce(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	agent := seedDefaultAgent(t, rig.store)

	c := &store.Case{TenantID: "t1", Phone: "5511888887777", Name: "João", ActiveAgentID: agent.ID}
	if err := rig.store.CreateCase(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.Status = store.StatusQualified
	c.CurrentStepID = ""
	if err := rig.store.UpdateCase(ctx, c); err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"quero fechar o contrato", "ótimo, vamos agendar"} {
		if err := rig.store.AddEntry(ctx, &store.ConversationEntry{CaseID: c.ID, Role: store.RoleClient, Content: msg}); err != nil {
			t.Fatal(err)
		}
	}

	rig.turnChat.replies = []string{"Perfeito, vamos seguir com o contrato!\n[ACTION:PROCEED:Converted]"}
	rig.described.replies = []string{"Cliente João busca fechar contrato.\n\nCaso trabalhista com documentação completa.\n\nPróximo passo: assinatura."}

	rig.engine.Process(ctx, "t1", webhook.Event{
		Kind:      webhook.EventInbound,
		Phone:     "5511888887777",
		MessageID: "M2",
		Text:      "pode enviar o contrato",
	})

	got, err := rig.store.CaseByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusConverted {
		t.Errorf("status = %q", got.Status)
	}
	if rig.described.calls != 1 {
		t.Errorf("describer calls = %d, want exactly 1", rig.described.calls)
	}
	if parts := strings.Split(got.Description, "\n\n"); len(parts) != 3 {
		t.Errorf("description paragraphs = %d: %q", len(parts), got.Description)
	}

	// Converted is not terminal: follow-ups still get a model turn,
	// but the description is never regenerated.
	before := rig.turnChat.calls
	rig.engine.Process(ctx, "t1", webhook.Event{
		Kind: webhook.EventInbound, Phone: "5511888887777", MessageID: "M3", Text: "obrigado!",
	})
	if rig.turnChat.calls != before+1 {
		t.Errorf("converted case model calls = %d, want %d", rig.turnChat.calls, before+1)
	}
	if rig.described.calls != 1 {
		t.Errorf("description regenerated: %d", rig.described.calls)
	}
	got, err = rig.store.CaseByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusConverted {
		t.Errorf("status moved after conversion: %q", got.Status)
	}
}

func TestNotQualifiedCaseStoresWithoutReplying(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	agent := seedDefaultAgent(t, rig.store)

	c := &store.Case{TenantID: "t1", Phone: "5511777766666", ActiveAgentID: agent.ID}
	if err := rig.store.CreateCase(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.Status = store.StatusNotQualified
	if err := rig.store.UpdateCase(ctx, c); err != nil {
		t.Fatal(err)
	}

	rig.engine.Process(ctx, "t1", webhook.Event{
		Kind: webhook.EventInbound, Phone: "5511777766666", MessageID: "M1", Text: "mudei de ideia",
	})

	entries, err := rig.store.RecentEntries(ctx, c.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	if rig.turnChat.calls != 0 {
		t.Errorf("disqualified case drove the model %d times", rig.turnChat.calls)
	}
	rig.sender.mu.Lock()
	defer rig.sender.mu.Unlock()
	if len(rig.sender.sent) != 0 {
		t.Errorf("disqualified case replied: %v", rig.sender.sent)
	}
}

func TestInboundBumpsUnreadCount(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	seedDefaultAgent(t, rig.store)

	rig.engine.Process(ctx, "t1", webhook.Event{
		Kind: webhook.EventInbound, Phone: "5511222211111", MessageID: "M1", Text: "Olá",
	})
	c, err := rig.store.CaseByPhone(ctx, "t1", "5511222211111")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 1 {
		t.Errorf("unread after first contact = %d", c.UnreadCount)
	}

	rig.engine.Process(ctx, "t1", webhook.Event{
		Kind: webhook.EventInbound, Phone: "5511222211111", MessageID: "M2", Text: "ainda aí?",
	})
	c, err = rig.store.CaseByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 2 {
		t.Errorf("unread after second message = %d", c.UnreadCount)
	}
}

func TestPauseAndResumeRecordEvents(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	agent := seedDefaultAgent(t, rig.store)

	c := &store.Case{TenantID: "t1", Phone: "5511333344444", ActiveAgentID: agent.ID}
	if err := rig.store.CreateCase(ctx, c); err != nil {
		t.Fatal(err)
	}

	if err := rig.engine.PauseCase(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	got, err := rig.store.CaseByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsPaused {
		t.Error("case not paused")
	}
	// Pausing twice is a no-op, not a second event.
	if err := rig.engine.PauseCase(ctx, c.ID); err != nil {
		t.Fatal(err)
	}

	if err := rig.engine.ResumeCase(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	got, err = rig.store.CaseByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsPaused {
		t.Error("case not resumed")
	}

	events, err := rig.store.WorkflowEvents(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	var paused, resumed int
	for _, ev := range events {
		switch ev.EventType {
		case audit.EventCasePaused:
			paused++
		case audit.EventCaseResumed:
			resumed++
		}
	}
	if paused != 1 || resumed != 1 {
		t.Errorf("pause/resume events = %d/%d, want 1/1", paused, resumed)
	}
}

func TestDeliveryEventPatchesEntry(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	c := &store.Case{TenantID: "t1", Phone: "5511"}
	if err := rig.store.CreateCase(ctx, c); err != nil {
		t.Fatal(err)
	}
	err := rig.store.AddEntry(ctx, &store.ConversationEntry{
		CaseID: c.ID, Role: store.RoleAssistant, Content: "Olá!", ExternalID: "EXT1",
	})
	if err != nil {
		t.Fatal(err)
	}

	rig.engine.Process(ctx, "t1", webhook.Event{
		Kind:           webhook.EventDelivery,
		MessageID:      "EXT1",
		DeliveryStatus: store.DeliveryRead,
	})

	entries, err := rig.store.RecentEntries(ctx, c.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].DeliveryStatus != store.DeliveryRead {
		t.Errorf("delivery status = %q", entries[0].DeliveryStatus)
	}
}

func TestPausedCaseStoresWithoutReplying(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	agent := seedDefaultAgent(t, rig.store)

	c := &store.Case{TenantID: "t1", Phone: "5511", ActiveAgentID: agent.ID}
	if err := rig.store.CreateCase(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.IsPaused = true
	if err := rig.store.UpdateCase(ctx, c); err != nil {
		t.Fatal(err)
	}

	rig.engine.Process(ctx, "t1", webhook.Event{
		Kind: webhook.EventInbound, Phone: "5511", MessageID: "M1", Text: "alguém aí?",
	})

	entries, err := rig.store.RecentEntries(ctx, c.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	rig.sender.mu.Lock()
	defer rig.sender.mu.Unlock()
	if len(rig.sender.sent) != 0 {
		t.Errorf("paused case replied: %v", rig.sender.sent)
	}
}
