package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddHandoff persists a handoff record. Rows are append-only.
func (s *Store) AddHandoff(ctx context.Context, h *Handoff) error {
	if h.ID == "" {
		h.ID = NewID()
	}
	h.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO handoffs (id, case_id, from_agent_id, to_agent_id, reason, artifact, created_at)
		VALUES (?, ?, NULLIF(?,''), ?, ?, ?, ?)
	`, h.ID, h.CaseID, h.FromAgentID, h.ToAgentID, h.Reason, h.Artifact, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("add handoff: %w", err)
	}
	return nil
}

// LatestHandoff returns the most recent handoff for a case, or ErrNotFound.
func (s *Store) LatestHandoff(ctx context.Context, caseID string) (*Handoff, error) {
	var h Handoff
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, COALESCE(from_agent_id,''), to_agent_id, reason, artifact, created_at
		FROM handoffs WHERE case_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, caseID).Scan(&h.ID, &h.CaseID, &h.FromAgentID, &h.ToAgentID, &h.Reason, &h.Artifact, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan handoff: %w", err)
	}
	return &h, nil
}

// ---------------------------------------------------------------------------
// Workflow events (append-only audit)
// ---------------------------------------------------------------------------

// AddWorkflowEvent appends an audit row. Never updated or deleted.
func (s *Store) AddWorkflowEvent(ctx context.Context, e *WorkflowEvent) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_events (id, case_id, event_type, from_status, to_status, from_agent_id, to_agent_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CaseID, e.EventType, e.FromStatus, e.ToStatus, e.FromAgentID, e.ToAgentID, e.Metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("add workflow event: %w", err)
	}
	return nil
}

// WorkflowEvents returns a case's audit trail in order.
func (s *Store) WorkflowEvents(ctx context.Context, caseID string) ([]WorkflowEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, event_type, from_status, to_status, from_agent_id, to_agent_id, metadata, created_at
		FROM workflow_events WHERE case_id = ? ORDER BY created_at, id
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query workflow events: %w", err)
	}
	defer rows.Close()

	var out []WorkflowEvent
	for rows.Next() {
		var e WorkflowEvent
		if err := rows.Scan(&e.ID, &e.CaseID, &e.EventType, &e.FromStatus,
			&e.ToStatus, &e.FromAgentID, &e.ToAgentID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Delayed messages
// ---------------------------------------------------------------------------

// ScheduleDelayedMessage enqueues a durable delayed send.
func (s *Store) ScheduleDelayedMessage(ctx context.Context, m *DelayedMessage) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delayed_messages (id, case_id, phone, content, send_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.CaseID, m.Phone, m.Content, m.SendAt.UTC())
	if err != nil {
		return fmt.Errorf("schedule delayed message: %w", err)
	}
	return nil
}

// ClaimDueDelayedMessages marks up to limit due messages as attempted and
// returns them. A claimed message is never retried: at-most-one attempt.
func (s *Store) ClaimDueDelayedMessages(ctx context.Context, now time.Time, limit int) ([]DelayedMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, phone, content, send_at
		FROM delayed_messages
		WHERE attempted = 0 AND send_at <= ?
		ORDER BY send_at LIMIT ?
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query delayed messages: %w", err)
	}
	defer rows.Close()

	var due []DelayedMessage
	for rows.Next() {
		var m DelayedMessage
		if err := rows.Scan(&m.ID, &m.CaseID, &m.Phone, &m.Content, &m.SendAt); err != nil {
			return nil, fmt.Errorf("scan delayed message: %w", err)
		}
		due = append(due, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range due {
		res, err := s.db.ExecContext(ctx,
			`UPDATE delayed_messages SET attempted = 1 WHERE id = ? AND attempted = 0`, due[i].ID)
		if err != nil {
			return nil, fmt.Errorf("claim delayed message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Another worker claimed it first; drop from the batch.
			due[i].ID = ""
		}
	}
	claimed := due[:0]
	for _, m := range due {
		if m.ID != "" {
			claimed = append(claimed, m)
		}
	}
	return claimed, nil
}
