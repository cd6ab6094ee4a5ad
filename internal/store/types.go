package store

import "time"

// Funnel status values. Exact strings, order-significant: a case only moves
// forward along this order unless a handoff sets the stage explicitly.
const (
	StatusNewContact   = "New Contact"
	StatusInProgress   = "In Progress"
	StatusQualified    = "Qualified"
	StatusNotQualified = "Not Qualified"
	StatusConverted    = "Converted"
	StatusArchived     = "Archived"
)

// StatusOrder lists the funnel stages in progression order.
var StatusOrder = []string{
	StatusNewContact,
	StatusInProgress,
	StatusQualified,
	StatusNotQualified,
	StatusConverted,
	StatusArchived,
}

// StatusRank returns the position of a status in the funnel order, or -1.
func StatusRank(status string) int {
	for i, s := range StatusOrder {
		if s == status {
			return i
		}
	}
	return -1
}

// Delivery status values for conversation entries.
const (
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryFailed    = "failed"
)

// Conversation entry roles.
const (
	RoleClient    = "client"
	RoleAssistant = "assistant"
)

// Knowledge chunk kinds.
const (
	ChunkKnowledge     = "knowledge"
	ChunkContactMemory = "contact_memory"
)

// Case is a client intake case moving through the funnel.
type Case struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Phone         string    `json:"phone"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	ActiveAgentID string    `json:"active_agent_id,omitempty"`
	CurrentStepID string    `json:"current_step_id,omitempty"`
	IsPaused      bool      `json:"is_paused"`
	UnreadCount   int       `json:"unread_count"`
	Description   string    `json:"case_description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Agent is a conversational persona owning a script, rules, and FAQs.
type Agent struct {
	ID               string `json:"id"`
	TenantID         string `json:"tenant_id"`
	Name             string `json:"name"`
	Category         string `json:"category,omitempty"`
	IsActive         bool   `json:"is_active"`
	IsDefault        bool   `json:"is_default"`
	StageOverride    string `json:"stage_override,omitempty"`
	ScheduleOriented bool   `json:"schedule_oriented"`
}

// Rules holds the behavioral contract for an agent.
type Rules struct {
	AgentID          string `json:"agent_id"`
	SystemPrompt     string `json:"system_prompt"`
	WelcomeMessage   string `json:"welcome_message"`
	ForbiddenActions string `json:"forbidden_actions"`
	AllowedBehavior  string `json:"allowed_behavior"`
}

// ScriptStep is one ordered scripted message of an agent.
type ScriptStep struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	Position  int    `json:"position"`
	Situation string `json:"situation"`
	Message   string `json:"message"`
}

// FAQ is a question/answer pair owned by an agent.
type FAQ struct {
	ID       string `json:"id"`
	AgentID  string `json:"agent_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ConversationEntry is a single turn in a case conversation.
type ConversationEntry struct {
	ID             string    `json:"id"`
	CaseID         string    `json:"case_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	MediaURL       string    `json:"media_url,omitempty"`
	MediaType      string    `json:"media_type,omitempty"`
	ExternalID     string    `json:"external_id,omitempty"`
	DeliveryStatus string    `json:"delivery_status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Handoff records a controlled agent transfer with its context artifact.
// Rows are immutable once written.
type Handoff struct {
	ID          string    `json:"id"`
	CaseID      string    `json:"case_id"`
	FromAgentID string    `json:"from_agent_id,omitempty"`
	ToAgentID   string    `json:"to_agent_id"`
	Reason      string    `json:"reason"`
	Artifact    string    `json:"artifact"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk is a knowledge-base or contact-memory text with optional embedding.
type Chunk struct {
	ID           string  `json:"id"`
	TenantID     string  `json:"tenant_id"`
	AgentID      string  `json:"agent_id,omitempty"`
	ContactPhone string  `json:"contact_phone,omitempty"`
	Kind         string  `json:"kind"`
	Content      string  `json:"content"`
	Metadata     string  `json:"metadata,omitempty"`
	Score        float32 `json:"score,omitempty"`
}

// WorkflowEvent is an append-only audit record. Never mutated.
type WorkflowEvent struct {
	ID          string    `json:"id"`
	CaseID      string    `json:"case_id"`
	EventType   string    `json:"event_type"`
	FromStatus  string    `json:"from_status,omitempty"`
	ToStatus    string    `json:"to_status,omitempty"`
	FromAgentID string    `json:"from_agent_id,omitempty"`
	ToAgentID   string    `json:"to_agent_id,omitempty"`
	Metadata    string    `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NotificationSettings gates operator notifications per stage-type.
type NotificationSettings struct {
	TenantID           string `json:"tenant_id"`
	NotifyNewContact   bool   `json:"notify_new_contact"`
	NotifyQualified    bool   `json:"notify_qualified"`
	NotifyConverted    bool   `json:"notify_converted"`
	NotifyNotQualified bool   `json:"notify_not_qualified"`
}

// TenantSettings holds per-tenant integration flags.
type TenantSettings struct {
	TenantID          string `json:"tenant_id"`
	OperatorPhone     string `json:"operator_phone"`
	CalendarConnected bool   `json:"calendar_connected"`
	SignEnabled       bool   `json:"sign_enabled"`
}

// DelayedMessage is a durable delayed-send row. At most one attempt is made.
type DelayedMessage struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	Phone     string    `json:"phone"`
	Content   string    `json:"content"`
	SendAt    time.Time `json:"send_at"`
	Attempted bool      `json:"attempted"`
}
