package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lexflow/lexflow/internal/store"
)

// buildSystemPrompt assembles the system prompt in fixed order: rules,
// script guidance, collected fields, retrieved context, handoff
// artifact, calendar guidance.
func buildSystemPrompt(in *Input) string {
	var b strings.Builder

	if in.Rules.SystemPrompt != "" {
		b.WriteString(in.Rules.SystemPrompt)
		b.WriteString("\n\n")
	}
	if in.Rules.AllowedBehavior != "" {
		b.WriteString("Comportamento permitido:\n" + in.Rules.AllowedBehavior + "\n\n")
	}
	if in.Rules.ForbiddenActions != "" {
		b.WriteString("Nunca faça:\n" + in.Rules.ForbiddenActions + "\n\n")
	}

	writeScriptGuidance(&b, in.Steps, in.CurrentStepID)
	writeFields(&b, in.Fields)

	if in.RetrievedContext != "" {
		b.WriteString(in.RetrievedContext)
		b.WriteString("\n\n")
	}
	if in.HandoffArtifact != "" {
		b.WriteString("Contexto recebido do agente anterior:\n" + in.HandoffArtifact + "\n\n")
	}

	if calendarGuidanceApplies(in) {
		b.WriteString("Agendamento: você pode consultar horários disponíveis com a ferramenta propose_slots e confirmar a consulta com create_event quando o cliente escolher um horário.\n\n")
	}

	b.WriteString("Ao final de CADA resposta, acrescente exatamente um marcador de ação: [ACTION:STAY] para manter o caso na etapa atual, ou [ACTION:PROCEED:<etapa>] para avançar o funil. O marcador não é mostrado ao cliente.")
	return b.String()
}

// calendarGuidanceApplies gates the scheduling instructions: the
// tenant calendar must be connected and either no script is active or
// the agent exists to schedule.
func calendarGuidanceApplies(in *Input) bool {
	if !in.CalendarConnected {
		return false
	}
	return in.Agent.ScheduleOriented || !scriptActive(in.Steps, in.CurrentStepID)
}

func scriptActive(steps []store.ScriptStep, currentID string) bool {
	if len(steps) == 0 {
		return false
	}
	if currentID == "" {
		return true // script exists, cursor at the first step
	}
	for _, s := range steps {
		if s.ID == currentID {
			return true
		}
	}
	return false
}

func writeScriptGuidance(b *strings.Builder, steps []store.ScriptStep, currentID string) {
	if len(steps) == 0 {
		return
	}
	idx := 0
	if currentID != "" {
		for i, s := range steps {
			if s.ID == currentID {
				idx = i
				break
			}
		}
	}
	b.WriteString("Roteiro de atendimento:\n")
	for i, s := range steps {
		marker := " "
		switch {
		case i < idx:
			marker = "x"
		case i == idx:
			marker = ">"
		}
		fmt.Fprintf(b, "[%s] %d. %s: %s\n", marker, s.Position, s.Situation, s.Message)
	}
	fmt.Fprintf(b, "Etapa atual: %d.", steps[idx].Position)
	if idx+1 < len(steps) {
		fmt.Fprintf(b, " Próxima etapa: %d.", steps[idx+1].Position)
	}
	b.WriteString("\n\n")
}

func writeFields(b *strings.Builder, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("Informações já coletadas:\n")
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", k, fields[k])
	}
	b.WriteString("\n")
}
