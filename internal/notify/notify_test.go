package notify

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lexflow/lexflow/internal/config"
	"github.com/lexflow/lexflow/internal/store"
)

type recordingSender struct {
	phones []string
	texts  []string
}

func (r *recordingSender) SendText(ctx context.Context, phone, text string) (string, error) {
	r.phones = append(r.phones, phone)
	r.texts = append(r.texts, text)
	return "MSG1", nil
}

func (r *recordingSender) SendTyping(ctx context.Context, phone string, d time.Duration) error {
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStageChangedSendsToOperator(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.SaveTenantSettings(ctx, &store.TenantSettings{TenantID: "t1", OperatorPhone: "5511000000000"})
	if err != nil {
		t.Fatal(err)
	}

	sender := &recordingSender{}
	n := New(s, sender, config.NotifyConfig{}, time.FixedZone("UTC-3", -3*3600), nil)
	c := &store.Case{TenantID: "t1", Phone: "5511999990000", Name: "Maria"}
	n.StageChanged(ctx, c, store.StatusQualified)

	if len(sender.texts) != 1 {
		t.Fatalf("sends = %d", len(sender.texts))
	}
	if sender.phones[0] != "5511000000000" {
		t.Errorf("sent to %q", sender.phones[0])
	}
	msg := sender.texts[0]
	for _, want := range []string{"✅ Lead qualificado", "Cliente: Maria", "Telefone: 5511999990000", "Status: Qualified"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q: %q", want, msg)
		}
	}
}

func TestStageChangedHonorsGating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveTenantSettings(ctx, &store.TenantSettings{TenantID: "t1", OperatorPhone: "5511"}); err != nil {
		t.Fatal(err)
	}

	sender := &recordingSender{}
	n := New(s, sender, config.NotifyConfig{}, nil, nil)
	c := &store.Case{TenantID: "t1", Phone: "5511999990000"}

	// Not Qualified is off by default.
	n.StageChanged(ctx, c, store.StatusNotQualified)
	if len(sender.texts) != 0 {
		t.Errorf("gated stage notified: %v", sender.texts)
	}

	// Intermediate stages never notify.
	n.StageChanged(ctx, c, store.StatusInProgress)
	if len(sender.texts) != 0 {
		t.Errorf("intermediate stage notified: %v", sender.texts)
	}
}

func TestStageChangedWithoutOperatorPhone(t *testing.T) {
	s := newTestStore(t)
	sender := &recordingSender{}
	n := New(s, sender, config.NotifyConfig{}, nil, nil)
	n.StageChanged(context.Background(), &store.Case{TenantID: "t1", Phone: "5511"}, store.StatusConverted)
	if len(sender.texts) != 0 {
		t.Errorf("notified without operator phone: %v", sender.texts)
	}
}
