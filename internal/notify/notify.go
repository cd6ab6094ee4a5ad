// Package notify tells the operator about funnel milestones, over the
// chat channel and optionally mirrored to Slack.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/lexflow/lexflow/internal/channel"
	"github.com/lexflow/lexflow/internal/config"
	"github.com/lexflow/lexflow/internal/store"
)

type stageStyle struct {
	emoji string
	label string
}

var stageStyles = map[string]stageStyle{
	store.StatusNewContact:   {"🆕", "Novo contato"},
	store.StatusQualified:    {"✅", "Lead qualificado"},
	store.StatusNotQualified: {"❌", "Lead não qualificado"},
	store.StatusConverted:    {"🎉", "Cliente convertido"},
}

// Notifier sends operator notifications gated by tenant settings.
// Every send is best effort: a failed notification never blocks the
// funnel.
type Notifier struct {
	store   *store.Store
	sender  channel.Sender
	slack   *slack.Client
	slackCh string
	loc     *time.Location
	logger  *slog.Logger
}

// New builds a Notifier. Slack mirroring is enabled only when a token
// is configured.
func New(st *store.Store, sender channel.Sender, cfg config.NotifyConfig, loc *time.Location, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	n := &Notifier{store: st, sender: sender, loc: loc, logger: logger}
	if cfg.SlackToken != "" {
		n.slack = slack.New(cfg.SlackToken)
		n.slackCh = cfg.SlackChannel
	}
	return n
}

// StageChanged notifies the operator that a case entered a stage, if
// the tenant opted in for that stage.
func (n *Notifier) StageChanged(ctx context.Context, c *store.Case, status string) {
	style, ok := stageStyles[status]
	if !ok {
		return
	}
	settings, err := n.store.NotificationSettings(ctx, c.TenantID)
	if err != nil {
		n.logger.Warn("Notification settings unavailable", "tenant", c.TenantID, "error", err)
		return
	}
	if !enabledFor(settings, status) {
		return
	}

	name := c.Name
	if name == "" {
		name = "(sem nome)"
	}
	msg := fmt.Sprintf("%s %s\nCliente: %s\nTelefone: %s\nStatus: %s\nHorário: %s",
		style.emoji, style.label, name, c.Phone, status,
		time.Now().In(n.loc).Format("02/01/2006 15:04"))

	tenant, err := n.store.TenantSettings(ctx, c.TenantID)
	if err == nil && tenant.OperatorPhone != "" && n.sender != nil {
		if _, err := n.sender.SendText(ctx, tenant.OperatorPhone, msg); err != nil {
			n.logger.Warn("Operator notification failed", "tenant", c.TenantID, "error", err)
		}
	}

	if n.slack != nil && n.slackCh != "" {
		_, _, err := n.slack.PostMessageContext(ctx, n.slackCh, slack.MsgOptionText(msg, false))
		if err != nil {
			n.logger.Warn("Slack notification failed", "tenant", c.TenantID, "error", err)
		}
	}
}

func enabledFor(s *store.NotificationSettings, status string) bool {
	switch status {
	case store.StatusNewContact:
		return s.NotifyNewContact
	case store.StatusQualified:
		return s.NotifyQualified
	case store.StatusNotQualified:
		return s.NotifyNotQualified
	case store.StatusConverted:
		return s.NotifyConverted
	}
	return false
}
