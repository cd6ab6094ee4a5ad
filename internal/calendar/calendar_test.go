package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lexflow/lexflow/internal/config"
)

type fakeProvider struct {
	busy    []Interval
	busyErr error
	created []*Event
}

func (f *fakeProvider) BusyIntervals(ctx context.Context, day time.Time) ([]Interval, error) {
	return f.busy, f.busyErr
}

func (f *fakeProvider) CreateEvent(ctx context.Context, ev *Event) error {
	f.created = append(f.created, ev)
	return nil
}

func testConfig() config.CalendarConfig {
	return config.CalendarConfig{
		WorkDayStart:  "09:00",
		WorkDayEnd:    "18:00",
		LunchStart:    "12:00",
		LunchEnd:      "13:00",
		SlotMinutes:   60,
		UTCOffsetHour: -3,
	}
}

func TestFreeSlotsSkipLunchAndBusy(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, loc)

	p := &fakeProvider{busy: []Interval{{
		Start: time.Date(2026, 9, 1, 14, 0, 0, 0, loc),
		End:   time.Date(2026, 9, 1, 15, 0, 0, 0, loc),
	}}}
	s := NewScheduler(p, testConfig())
	// Pin "now" to before the work day so no slot is in the past.
	s.now = func() time.Time { return time.Date(2026, 9, 1, 6, 0, 0, 0, loc) }

	slots, err := s.FreeSlots(context.Background(), day)
	if err != nil {
		t.Fatal(err)
	}
	wantHours := []int{9, 10, 11, 13, 15, 16, 17}
	if len(slots) != len(wantHours) {
		t.Fatalf("got %d slots, want %d: %v", len(slots), len(wantHours), slots)
	}
	for i, h := range wantHours {
		if slots[i].Hour() != h || slots[i].Minute() != 0 {
			t.Errorf("slot[%d] = %v, want %02d:00", i, slots[i], h)
		}
	}
}

func TestFreeSlotsExcludePast(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, loc)

	s := NewScheduler(&fakeProvider{}, testConfig())
	s.now = func() time.Time { return time.Date(2026, 9, 1, 14, 30, 0, 0, loc) }

	slots, err := s.FreeSlots(context.Background(), day)
	if err != nil {
		t.Fatal(err)
	}
	for _, slot := range slots {
		if slot.Hour() < 15 {
			t.Errorf("past slot offered: %v", slot)
		}
	}
	if len(slots) != 3 { // 15, 16, 17
		t.Errorf("got %d slots: %v", len(slots), slots)
	}
}

func TestFreeSlotsProviderError(t *testing.T) {
	s := NewScheduler(&fakeProvider{busyErr: errors.New("calendar api down")}, testConfig())
	if _, err := s.FreeSlots(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSchedulerKeepsFixedOffset(t *testing.T) {
	s := NewScheduler(&fakeProvider{}, testConfig())
	s.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }
	got := s.Now()
	if got.Hour() != 9 {
		t.Errorf("office time = %v, want 09:00 local for 12:00 UTC", got)
	}
	_, offset := got.Zone()
	if offset != -3*3600 {
		t.Errorf("offset = %d", offset)
	}
}

func TestBookDelegatesToProvider(t *testing.T) {
	p := &fakeProvider{}
	s := NewScheduler(p, testConfig())
	ev := &Event{Title: "Consulta inicial", Attendee: "5511999990000"}
	if err := s.Book(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(p.created) != 1 || p.created[0].Title != "Consulta inicial" {
		t.Errorf("created = %+v", p.created)
	}
}

func TestFormatSlot(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	got := FormatSlot(time.Date(2026, 9, 1, 15, 0, 0, 0, loc))
	if got != "01/09/2026 às 15:00" {
		t.Errorf("formatted = %q", got)
	}
}
