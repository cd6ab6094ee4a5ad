package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by the unconfigured provider. Tenants
// without a calendar connection never reach it in normal flow; the
// connected flag gates scheduling upstream.
var ErrNotConnected = errors.New("calendar provider not connected")

// Unconfigured is the provider used when no calendar credentials are
// present.
type Unconfigured struct{}

func (Unconfigured) BusyIntervals(ctx context.Context, day time.Time) ([]Interval, error) {
	return nil, ErrNotConnected
}

func (Unconfigured) CreateEvent(ctx context.Context, ev *Event) error {
	return ErrNotConnected
}
