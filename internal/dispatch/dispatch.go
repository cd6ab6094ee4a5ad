// Package dispatch delivers outbound messages: human-paced typing
// simulation, retried sends, and the delayed-message worker.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/lexflow/lexflow/internal/channel"
	"github.com/lexflow/lexflow/internal/config"
	"github.com/lexflow/lexflow/internal/retry"
	"github.com/lexflow/lexflow/internal/store"
)

// Dispatcher sends replies over the channel with typing simulation.
type Dispatcher struct {
	sender channel.Sender
	store  *store.Store
	cfg    config.EngineConfig
	logger *slog.Logger
	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// New builds a Dispatcher.
func New(sender channel.Sender, st *store.Store, cfg config.EngineConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sender: sender, store: st, cfg: cfg, logger: logger, sleep: time.Sleep}
}

// TypingDuration returns how long to show the composing indicator for
// a message: 50ms per character, clamped to the configured window.
func (d *Dispatcher) TypingDuration(message string) time.Duration {
	perChar := d.cfg.TypingMsPerChar
	if perChar <= 0 {
		perChar = 50
	}
	min, max := d.cfg.TypingMin, d.cfg.TypingMax
	if min <= 0 {
		min = time.Second
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	dur := time.Duration(len([]rune(message))*perChar) * time.Millisecond
	if dur < min {
		return min
	}
	if dur > max {
		return max
	}
	return dur
}

// Send shows typing, waits it out, and delivers the message with
// retries. Returns the provider message id.
func (d *Dispatcher) Send(ctx context.Context, phone, message string) (string, error) {
	typing := d.TypingDuration(message)
	if err := d.sender.SendTyping(ctx, phone, typing); err != nil {
		// Presence is cosmetic.
		d.logger.Debug("Typing indicator failed", "phone", phone, "error", err)
	} else {
		d.sleep(typing)
	}

	return retry.Do(ctx, "send text", func(ctx context.Context) (string, error) {
		return d.sender.SendText(ctx, phone, message)
	})
}

// SendAndRecord sends and persists the assistant entry.
func (d *Dispatcher) SendAndRecord(ctx context.Context, c *store.Case, message string) error {
	externalID, err := d.Send(ctx, c.Phone, message)
	if err != nil {
		return err
	}
	return d.store.AddEntry(ctx, &store.ConversationEntry{
		CaseID:     c.ID,
		Role:       store.RoleAssistant,
		Content:    message,
		ExternalID: externalID,
	})
}

// RunDelayedWorker polls the delayed-message queue until the context
// ends. Each claimed message gets exactly one delivery attempt.
func (d *Dispatcher) RunDelayedWorker(ctx context.Context) {
	tick := d.cfg.DelayedTick
	if tick <= 0 {
		tick = 5 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.deliverDue(ctx)
		}
	}
}

func (d *Dispatcher) deliverDue(ctx context.Context) {
	due, err := d.store.ClaimDueDelayedMessages(ctx, time.Now(), 10)
	if err != nil {
		d.logger.Warn("Delayed message claim failed", "error", err)
		return
	}
	for _, m := range due {
		externalID, err := d.Send(ctx, m.Phone, m.Content)
		if err != nil {
			// Claimed rows are never retried.
			d.logger.Warn("Delayed message dropped", "case_id", m.CaseID, "error", err)
			continue
		}
		err = d.store.AddEntry(ctx, &store.ConversationEntry{
			CaseID:     m.CaseID,
			Role:       store.RoleAssistant,
			Content:    m.Content,
			ExternalID: externalID,
		})
		if err != nil {
			d.logger.Warn("Delayed entry not persisted", "case_id", m.CaseID, "error", err)
		}
	}
}
