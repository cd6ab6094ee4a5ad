package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lexflow/lexflow/internal/provider"
	"github.com/lexflow/lexflow/internal/store"
)

// describeTurns caps how much history feeds the case description.
const describeTurns = 30

// Describer writes the internal case summary when a case reaches a
// qualified stage. The summary is generated once per case.
type Describer struct {
	store    *store.Store
	provider provider.ChatCompletionProvider
	logger   *slog.Logger
}

// NewDescriber builds a Describer.
func NewDescriber(st *store.Store, p provider.ChatCompletionProvider, logger *slog.Logger) *Describer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Describer{store: st, provider: p, logger: logger}
}

// MaybeDescribe generates and stores the case description when the
// case enters Qualified or Converted and has none yet. Failures are
// logged; the funnel keeps moving either way.
func (d *Describer) MaybeDescribe(ctx context.Context, c *store.Case, newStatus string) {
	if newStatus != store.StatusQualified && newStatus != store.StatusConverted {
		return
	}
	if c.Description != "" {
		return
	}

	entries, err := d.store.RecentEntries(ctx, c.ID, describeTurns)
	if err != nil {
		d.logger.Warn("Description skipped, history unavailable", "case_id", c.ID, "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	var transcript strings.Builder
	for _, e := range entries {
		speaker := "Cliente"
		if e.Role == store.RoleAssistant {
			speaker = "Atendente"
		}
		fmt.Fprintf(&transcript, "%s: %s\n", speaker, e.Content)
	}

	prompt := "Resuma o caso abaixo para a equipe jurídica em EXATAMENTE 3 parágrafos: " +
		"o primeiro descreve quem é o cliente e o que procura, o segundo os fatos relevantes do caso, " +
		"o terceiro os próximos passos combinados. Não use títulos nem listas.\n\nConversa:\n" +
		transcript.String()

	resp, err := d.provider.Chat(ctx, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: "user", Content: prompt}},
		MaxTokens:   600,
		Temperature: 0.3,
	})
	if err != nil {
		d.logger.Warn("Description generation failed", "case_id", c.ID, "error", err)
		return
	}

	desc := strings.TrimSpace(resp.Content)
	if desc == "" {
		return
	}
	c.Description = desc
	if err := d.store.UpdateCase(ctx, c); err != nil {
		d.logger.Warn("Description not persisted", "case_id", c.ID, "error", err)
	}
}
