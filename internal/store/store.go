// Package store is the client for the managed record store backing the
// funnel engine: cases, agents, scripts, FAQs, conversation history,
// knowledge chunks, handoffs, and workflow events.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist. Callers that
// treat absence as a legitimate tenant state should check for it with
// errors.Is and continue with a no-op outcome.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite record store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the record store at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for packages that share the store file.
func (s *Store) DB() *sql.DB { return s.db }

// NewID returns a fresh identifier for a record-store row.
func NewID() string { return uuid.NewString() }

// ---------------------------------------------------------------------------
// Cases
// ---------------------------------------------------------------------------

// CaseByPhone returns the case for a tenant/phone pair.
func (s *Store) CaseByPhone(ctx context.Context, tenantID, phone string) (*Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, phone, name, status, COALESCE(active_agent_id,''),
			COALESCE(current_step_id,''), is_paused, unread_count,
			COALESCE(case_description,''), created_at, updated_at
		FROM cases WHERE tenant_id = ? AND phone = ?
	`, tenantID, phone)
	return scanCase(row)
}

// CaseByID returns a case by ID.
func (s *Store) CaseByID(ctx context.Context, id string) (*Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, phone, name, status, COALESCE(active_agent_id,''),
			COALESCE(current_step_id,''), is_paused, unread_count,
			COALESCE(case_description,''), created_at, updated_at
		FROM cases WHERE id = ?
	`, id)
	return scanCase(row)
}

func scanCase(row *sql.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.Status,
		&c.ActiveAgentID, &c.CurrentStepID, &c.IsPaused, &c.UnreadCount,
		&c.Description, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan case: %w", err)
	}
	return &c, nil
}

// CreateCase inserts a new case. ID is generated when empty.
func (s *Store) CreateCase(ctx context.Context, c *Case) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Status == "" {
		c.Status = StatusNewContact
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, tenant_id, phone, name, status, active_agent_id,
			current_step_id, is_paused, unread_count, case_description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?,''), NULLIF(?,''), ?, ?, ?, ?, ?)
	`, c.ID, c.TenantID, c.Phone, c.Name, c.Status, c.ActiveAgentID,
		c.CurrentStepID, c.IsPaused, c.UnreadCount, c.Description, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	return nil
}

// UpdateCase writes the mutable case columns back.
func (s *Store) UpdateCase(ctx context.Context, c *Case) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE cases SET name = ?, status = ?, active_agent_id = NULLIF(?,''),
			current_step_id = NULLIF(?,''), is_paused = ?, unread_count = ?,
			case_description = ?, updated_at = ?
		WHERE id = ?
	`, c.Name, c.Status, c.ActiveAgentID, c.CurrentStepID, c.IsPaused,
		c.UnreadCount, c.Description, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	return nil
}

// IncrementUnread bumps the operator-facing unread counter for a case.
// Operators clear it out of band when they read the conversation.
func (s *Store) IncrementUnread(ctx context.Context, caseID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cases SET unread_count = unread_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), caseID)
	if err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Agents, rules, scripts, FAQs
// ---------------------------------------------------------------------------

const agentColumns = `id, tenant_id, name, COALESCE(category,''), is_active, is_default,
	COALESCE(stage_override,''), schedule_oriented`

func scanAgentRows(rows *sql.Rows) ([]Agent, error) {
	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Category,
			&a.IsActive, &a.IsDefault, &a.StageOverride, &a.ScheduleOriented); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AgentByID returns a single agent.
func (s *Store) AgentByID(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	err := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id).
		Scan(&a.ID, &a.TenantID, &a.Name, &a.Category, &a.IsActive,
			&a.IsDefault, &a.StageOverride, &a.ScheduleOriented)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return &a, nil
}

// ActiveAgents returns the tenant's active agents.
func (s *Store) ActiveAgents(ctx context.Context, tenantID string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? AND is_active = 1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()
	return scanAgentRows(rows)
}

// CreateAgent inserts an agent row.
func (s *Store) CreateAgent(ctx context.Context, a *Agent) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, tenant_id, name, category, is_active, is_default, stage_override, schedule_oriented)
		VALUES (?, ?, ?, NULLIF(?,''), ?, ?, NULLIF(?,''), ?)
	`, a.ID, a.TenantID, a.Name, a.Category, a.IsActive, a.IsDefault, a.StageOverride, a.ScheduleOriented)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// RulesForAgent returns the agent's rules record, or zero-valued rules when
// none are configured.
func (s *Store) RulesForAgent(ctx context.Context, agentID string) (*Rules, error) {
	var r Rules
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, system_prompt, welcome_message, forbidden_actions, allowed_behavior
		FROM agent_rules WHERE agent_id = ?
	`, agentID).Scan(&r.AgentID, &r.SystemPrompt, &r.WelcomeMessage, &r.ForbiddenActions, &r.AllowedBehavior)
	if errors.Is(err, sql.ErrNoRows) {
		return &Rules{AgentID: agentID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan rules: %w", err)
	}
	return &r, nil
}

// SaveRules upserts an agent's rules.
func (s *Store) SaveRules(ctx context.Context, r *Rules) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_rules (agent_id, system_prompt, welcome_message, forbidden_actions, allowed_behavior)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			system_prompt = excluded.system_prompt,
			welcome_message = excluded.welcome_message,
			forbidden_actions = excluded.forbidden_actions,
			allowed_behavior = excluded.allowed_behavior
	`, r.AgentID, r.SystemPrompt, r.WelcomeMessage, r.ForbiddenActions, r.AllowedBehavior)
	if err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}

// ScriptSteps returns an agent's script ordered by position.
func (s *Store) ScriptSteps(ctx context.Context, agentID string) ([]ScriptStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, position, situation, message
		FROM script_steps WHERE agent_id = ? ORDER BY position
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query script steps: %w", err)
	}
	defer rows.Close()

	var out []ScriptStep
	for rows.Next() {
		var st ScriptStep
		if err := rows.Scan(&st.ID, &st.AgentID, &st.Position, &st.Situation, &st.Message); err != nil {
			return nil, fmt.Errorf("scan script step: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CreateScriptStep inserts a script step.
func (s *Store) CreateScriptStep(ctx context.Context, st *ScriptStep) error {
	if st.ID == "" {
		st.ID = NewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO script_steps (id, agent_id, position, situation, message)
		VALUES (?, ?, ?, ?, ?)
	`, st.ID, st.AgentID, st.Position, st.Situation, st.Message)
	if err != nil {
		return fmt.Errorf("create script step: %w", err)
	}
	return nil
}

// FAQsForAgent returns the agent's FAQ list.
func (s *Store) FAQsForAgent(ctx context.Context, agentID string) ([]FAQ, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, question, answer FROM faqs WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query faqs: %w", err)
	}
	defer rows.Close()

	var out []FAQ
	for rows.Next() {
		var f FAQ
		if err := rows.Scan(&f.ID, &f.AgentID, &f.Question, &f.Answer); err != nil {
			return nil, fmt.Errorf("scan faq: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateFAQ inserts a FAQ row.
func (s *Store) CreateFAQ(ctx context.Context, f *FAQ) error {
	if f.ID == "" {
		f.ID = NewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO faqs (id, agent_id, question, answer) VALUES (?, ?, ?, ?)`,
		f.ID, f.AgentID, f.Question, f.Answer)
	if err != nil {
		return fmt.Errorf("create faq: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tenant and notification settings
// ---------------------------------------------------------------------------

// TenantSettings returns the tenant's integration flags, defaulting to all-off.
func (s *Store) TenantSettings(ctx context.Context, tenantID string) (*TenantSettings, error) {
	var t TenantSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, operator_phone, calendar_connected, sign_enabled
		FROM tenant_settings WHERE tenant_id = ?
	`, tenantID).Scan(&t.TenantID, &t.OperatorPhone, &t.CalendarConnected, &t.SignEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return &TenantSettings{TenantID: tenantID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant settings: %w", err)
	}
	return &t, nil
}

// SaveTenantSettings upserts the tenant's integration flags.
func (s *Store) SaveTenantSettings(ctx context.Context, t *TenantSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, operator_phone, calendar_connected, sign_enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			operator_phone = excluded.operator_phone,
			calendar_connected = excluded.calendar_connected,
			sign_enabled = excluded.sign_enabled
	`, t.TenantID, t.OperatorPhone, t.CalendarConnected, t.SignEnabled)
	if err != nil {
		return fmt.Errorf("save tenant settings: %w", err)
	}
	return nil
}

// NotificationSettings returns per-stage notification gates, defaulting to
// the schema defaults when the tenant has no row.
func (s *Store) NotificationSettings(ctx context.Context, tenantID string) (*NotificationSettings, error) {
	var n NotificationSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, notify_new_contact, notify_qualified, notify_converted, notify_not_qualified
		FROM notification_settings WHERE tenant_id = ?
	`, tenantID).Scan(&n.TenantID, &n.NotifyNewContact, &n.NotifyQualified, &n.NotifyConverted, &n.NotifyNotQualified)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotificationSettings{
			TenantID:         tenantID,
			NotifyNewContact: true,
			NotifyQualified:  true,
			NotifyConverted:  true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan notification settings: %w", err)
	}
	return &n, nil
}
