package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexflow/lexflow/internal/provider"
	"github.com/lexflow/lexflow/internal/store"
)

// Artifact is the context package handed to the destination agent.
type Artifact struct {
	Summary         string            `json:"summary"`
	Facts           []string          `json:"facts"`
	CollectedFields map[string]string `json:"collected_fields"`
	OpenQuestions   []string          `json:"open_questions"`
	NextBestAction  string            `json:"next_best_action"`
	RiskFlags       []string          `json:"risk_flags"`
	Confidence      string            `json:"confidence"`
}

// emptyArtifact is what a failed generation degrades to. The handoff
// itself still proceeds.
func emptyArtifact() Artifact {
	return Artifact{
		Facts:           []string{},
		CollectedFields: map[string]string{},
		OpenQuestions:   []string{},
		RiskFlags:       []string{},
	}
}

// generateArtifact asks the model for the JSON artifact. Any failure,
// from the API to the parse, yields the empty artifact.
func (m *Manager) generateArtifact(ctx context.Context, c *store.Case, history []store.ConversationEntry, fields map[string]string, reason string) Artifact {
	var transcript strings.Builder
	for _, e := range history {
		speaker := "Cliente"
		if e.Role == store.RoleAssistant {
			speaker = "Atendente"
		}
		fmt.Fprintf(&transcript, "%s: %s\n", speaker, e.Content)
	}
	collected, _ := json.Marshal(fields)

	prompt := fmt.Sprintf(`Gere o resumo de transferência do caso abaixo. Responda SOMENTE com um objeto JSON com exatamente estas chaves:
{"summary": string, "facts": [string], "collected_fields": {string: string}, "open_questions": [string], "next_best_action": string, "risk_flags": [string], "confidence": "low"|"medium"|"high"}

Motivo da transferência: %s
Campos já coletados: %s

Conversa:
%s`, reason, collected, transcript.String())

	resp, err := m.chat.Chat(ctx, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: "user", Content: prompt}},
		MaxTokens:   800,
		Temperature: 0.2,
	})
	if err != nil {
		m.logger.Warn("Artifact generation failed", "case_id", c.ID, "error", err)
		return emptyArtifact()
	}

	artifact, err := ParseArtifact(resp.Content)
	if err != nil {
		m.logger.Warn("Artifact parse failed", "case_id", c.ID, "error", err)
		return emptyArtifact()
	}
	return artifact
}

// ParseArtifact decodes a model reply into an Artifact, tolerating
// fenced code blocks and surrounding prose.
func ParseArtifact(reply string) (Artifact, error) {
	raw := extractJSON(reply)
	if raw == "" {
		return emptyArtifact(), fmt.Errorf("no JSON object in reply")
	}
	var a Artifact
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return emptyArtifact(), fmt.Errorf("decode artifact: %w", err)
	}
	if a.Facts == nil {
		a.Facts = []string{}
	}
	if a.CollectedFields == nil {
		a.CollectedFields = map[string]string{}
	}
	if a.OpenQuestions == nil {
		a.OpenQuestions = []string{}
	}
	if a.RiskFlags == nil {
		a.RiskFlags = []string{}
	}
	return a, nil
}

// extractJSON returns the first top-level JSON object in the text,
// stripping ``` fences when present.
func extractJSON(s string) string {
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = rest[:j]
		} else {
			s = rest
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
