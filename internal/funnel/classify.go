package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lexflow/lexflow/internal/provider"
	"github.com/lexflow/lexflow/internal/store"
)

// Classifier answers routing questions with short model calls. All
// methods fail soft: an unreachable model means "no match", never an
// error surfaced to the client.
type Classifier struct {
	provider provider.ChatCompletionProvider
	logger   *slog.Logger
}

// NewClassifier builds a Classifier.
func NewClassifier(p provider.ChatCompletionProvider, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: p, logger: logger}
}

// MatchFAQ asks the model which FAQ, if any, answers the message.
// Returns the matched FAQ or nil.
func (c *Classifier) MatchFAQ(ctx context.Context, faqs []store.FAQ, message string) *store.FAQ {
	if len(faqs) == 0 || strings.TrimSpace(message) == "" {
		return nil
	}

	var b strings.Builder
	b.WriteString("Você é um classificador. Dada a mensagem do cliente e a lista de perguntas frequentes, responda SOMENTE com o número da pergunta que corresponde à mensagem, ou 0 se nenhuma corresponder.\n\nPerguntas:\n")
	for i, f := range faqs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f.Question)
	}
	fmt.Fprintf(&b, "\nMensagem do cliente: %s", message)

	resp, err := c.provider.Chat(ctx, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: "user", Content: b.String()}},
		MaxTokens:   8,
		Temperature: 0,
	})
	if err != nil {
		c.logger.Warn("FAQ classification failed", "error", err)
		return nil
	}

	n, err := strconv.Atoi(firstNumber(resp.Content))
	if err != nil || n < 1 || n > len(faqs) {
		return nil
	}
	return &faqs[n-1]
}

// DetectCategory asks the model whether the message belongs to one of
// the other agents' practice areas. Returns the matched agent or nil.
// The sentinel answer "none" and anything not in the list both mean
// no redirect.
func (c *Classifier) DetectCategory(ctx context.Context, agents []store.Agent, message string) *store.Agent {
	byCategory := make(map[string]*store.Agent)
	var categories []string
	for i := range agents {
		a := &agents[i]
		if !a.IsActive || a.Category == "" {
			continue
		}
		key := strings.ToLower(a.Category)
		if _, seen := byCategory[key]; !seen {
			byCategory[key] = a
			categories = append(categories, a.Category)
		}
	}
	if len(categories) == 0 {
		return nil
	}

	prompt := fmt.Sprintf(
		"Você é um classificador de área jurídica. Dadas as áreas [%s], responda SOMENTE com o nome da área que corresponde à mensagem do cliente, ou \"none\" se nenhuma corresponder.\n\nMensagem: %s",
		strings.Join(categories, ", "), message)

	resp, err := c.provider.Chat(ctx, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: "user", Content: prompt}},
		MaxTokens:   16,
		Temperature: 0,
	})
	if err != nil {
		c.logger.Warn("Category detection failed", "error", err)
		return nil
	}

	answer := strings.ToLower(strings.Trim(strings.TrimSpace(resp.Content), `"'.`))
	if answer == "" || answer == "none" {
		return nil
	}
	return byCategory[answer]
}

// firstNumber extracts the first digit run from a model reply, which
// may arrive wrapped in prose despite the instructions.
func firstNumber(s string) string {
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return s[start:i]
		}
	}
	if start >= 0 {
		return s[start:]
	}
	return ""
}
