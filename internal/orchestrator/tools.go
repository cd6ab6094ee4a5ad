package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/lexflow/lexflow/internal/provider"
)

// Tool names offered to the model.
const (
	toolProposeSlots = "propose_slots"
	toolCreateEvent  = "create_event"
	toolSendDocument = "send_document"
)

// ProposeSlotsCall asks for the open consultation slots on a date.
type ProposeSlotsCall struct {
	Date string // YYYY-MM-DD
}

// CreateEventCall books a consultation.
type CreateEventCall struct {
	Date          string // YYYY-MM-DD
	Time          string // HH:MM
	Summary       string
	DurationMin   int
	AttendeeEmail string
}

// SendDocumentCall dispatches the engagement letter for signature.
type SendDocumentCall struct {
	TemplateID string
	SignerName string
}

// parseToolCall validates a raw tool call into its typed variant.
// Returns one of the *Call types above.
func parseToolCall(tc provider.ToolCall) (any, error) {
	switch tc.Name {
	case toolProposeSlots:
		call := ProposeSlotsCall{Date: argString(tc.Arguments, "date")}
		if _, err := time.Parse("2006-01-02", call.Date); err != nil {
			return nil, fmt.Errorf("propose_slots: invalid date %q", call.Date)
		}
		return call, nil

	case toolCreateEvent:
		call := CreateEventCall{
			Date:          argString(tc.Arguments, "date"),
			Time:          argString(tc.Arguments, "time"),
			Summary:       argString(tc.Arguments, "summary"),
			DurationMin:   argInt(tc.Arguments, "duration"),
			AttendeeEmail: argString(tc.Arguments, "attendee_email"),
		}
		if _, err := time.Parse("2006-01-02", call.Date); err != nil {
			return nil, fmt.Errorf("create_event: invalid date %q", call.Date)
		}
		if _, err := time.Parse("15:04", call.Time); err != nil {
			return nil, fmt.Errorf("create_event: invalid time %q", call.Time)
		}
		if strings.TrimSpace(call.Summary) == "" {
			return nil, fmt.Errorf("create_event: missing summary")
		}
		if call.DurationMin <= 0 {
			call.DurationMin = 60
		}
		return call, nil

	case toolSendDocument:
		return SendDocumentCall{
			TemplateID: argString(tc.Arguments, "template_id"),
			SignerName: argString(tc.Arguments, "signer_name"),
		}, nil
	}
	return nil, fmt.Errorf("unknown tool %q", tc.Name)
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		fmt.Sscanf(v, "%d", &n)
		return n
	}
	return 0
}

// toolDefinitions builds the schema advertised to the model. The
// signature tool is offered only when the tenant has it enabled.
func toolDefinitions(signEnabled bool) []provider.ToolDefinition {
	defs := []provider.ToolDefinition{
		{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        toolProposeSlots,
				Description: "Lista os horários de consulta disponíveis em uma data.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date": map[string]any{"type": "string", "description": "Data no formato YYYY-MM-DD"},
					},
					"required": []string{"date"},
				},
			},
		},
		{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        toolCreateEvent,
				Description: "Agenda a consulta em um horário confirmado pelo cliente.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date":           map[string]any{"type": "string", "description": "Data no formato YYYY-MM-DD"},
						"time":           map[string]any{"type": "string", "description": "Horário no formato HH:MM"},
						"summary":        map[string]any{"type": "string", "description": "Título do compromisso"},
						"duration":       map[string]any{"type": "integer", "description": "Duração em minutos"},
						"attendee_email": map[string]any{"type": "string", "description": "E-mail do cliente, se informado"},
					},
					"required": []string{"date", "time", "summary"},
				},
			},
		},
	}
	if signEnabled {
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        toolSendDocument,
				Description: "Envia o contrato de honorários para assinatura eletrônica.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"template_id": map[string]any{"type": "string", "description": "Modelo de documento"},
						"signer_name": map[string]any{"type": "string", "description": "Nome completo do signatário"},
					},
				},
			},
		})
	}
	return defs
}
