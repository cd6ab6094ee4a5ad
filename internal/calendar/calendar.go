// Package calendar computes consultation slots against the office
// calendar. All scheduling happens in the office's fixed timezone.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/lexflow/lexflow/internal/config"
)

// Interval is a half-open busy window [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Event is a consultation to book.
type Event struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Attendee    string
}

// Provider is the upstream calendar integration.
type Provider interface {
	// BusyIntervals returns the busy windows overlapping the day.
	BusyIntervals(ctx context.Context, day time.Time) ([]Interval, error)
	// CreateEvent books a consultation.
	CreateEvent(ctx context.Context, ev *Event) error
}

// Scheduler derives free consultation slots from office hours and the
// provider's busy intervals.
type Scheduler struct {
	provider Provider
	cfg      config.CalendarConfig
	loc      *time.Location
	now      func() time.Time
}

// NewScheduler builds a Scheduler pinned to the configured offset.
func NewScheduler(p Provider, cfg config.CalendarConfig) *Scheduler {
	loc := time.FixedZone(fmt.Sprintf("UTC%+d", cfg.UTCOffsetHour), cfg.UTCOffsetHour*3600)
	return &Scheduler{provider: p, cfg: cfg, loc: loc, now: time.Now}
}

// Now returns the current time in the office timezone.
func (s *Scheduler) Now() time.Time {
	return s.now().In(s.loc)
}

// Location returns the office timezone.
func (s *Scheduler) Location() *time.Location { return s.loc }

// FreeSlots returns the open consultation slots for a day, office
// time, skipping lunch, busy windows, and anything already past.
func (s *Scheduler) FreeSlots(ctx context.Context, day time.Time) ([]time.Time, error) {
	busy, err := s.provider.BusyIntervals(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("fetch busy intervals: %w", err)
	}
	return s.freeSlots(day, busy), nil
}

func (s *Scheduler) freeSlots(day time.Time, busy []Interval) []time.Time {
	day = day.In(s.loc)
	open := s.clockOn(day, s.cfg.WorkDayStart)
	close := s.clockOn(day, s.cfg.WorkDayEnd)
	lunchStart := s.clockOn(day, s.cfg.LunchStart)
	lunchEnd := s.clockOn(day, s.cfg.LunchEnd)
	slot := time.Duration(s.cfg.SlotMinutes) * time.Minute
	if slot <= 0 {
		slot = time.Hour
	}
	now := s.Now()

	var out []time.Time
	for start := open; !start.Add(slot).After(close); start = start.Add(slot) {
		end := start.Add(slot)
		if start.Before(lunchEnd) && end.After(lunchStart) {
			continue
		}
		if !start.After(now) {
			continue
		}
		if overlapsAny(start, end, busy) {
			continue
		}
		out = append(out, start)
	}
	return out
}

// Book creates the consultation event at the given slot.
func (s *Scheduler) Book(ctx context.Context, ev *Event) error {
	if err := s.provider.CreateEvent(ctx, ev); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if start.Before(b.End) && end.After(b.Start) {
			return true
		}
	}
	return false
}

// clockOn places an "HH:MM" clock reading onto the given day.
func (s *Scheduler) clockOn(day time.Time, clock string) time.Time {
	var h, m int
	fmt.Sscanf(clock, "%d:%d", &h, &m)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, s.loc)
}

// FormatSlot renders a slot for client-facing messages.
func FormatSlot(t time.Time) string {
	return t.Format("02/01/2006 às 15:04")
}
