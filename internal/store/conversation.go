package store

import (
	"context"
	"fmt"
	"time"
)

// AddEntry appends a conversation entry to a case.
func (s *Store) AddEntry(ctx context.Context, e *ConversationEntry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.DeliveryStatus == "" {
		e.DeliveryStatus = DeliverySent
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_entries (id, case_id, role, content, media_url, media_type, external_id, delivery_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CaseID, e.Role, e.Content, e.MediaURL, e.MediaType, e.ExternalID, e.DeliveryStatus, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("add entry: %w", err)
	}
	return nil
}

// RecentEntries returns the last n entries for a case in chronological order.
func (s *Store) RecentEntries(ctx context.Context, caseID string, n int) ([]ConversationEntry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, role, content, media_url, media_type, external_id, delivery_status, created_at
		FROM conversation_entries WHERE case_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, caseID, n)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []ConversationEntry
	for rows.Next() {
		var e ConversationEntry
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Role, &e.Content, &e.MediaURL,
			&e.MediaType, &e.ExternalID, &e.DeliveryStatus, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// UpdateDeliveryStatus patches the delivery status of the entry with the
// given provider message id. Unknown ids are a no-op.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, externalID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_entries SET delivery_status = ? WHERE external_id = ?`,
		status, externalID)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Case fields
// ---------------------------------------------------------------------------

// CaseFields returns the flat fact map collected for a case.
func (s *Store) CaseFields(ctx context.Context, caseID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_key, field_value FROM case_fields WHERE case_id = ? ORDER BY field_key`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query case fields: %w", err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan case field: %w", err)
		}
		fields[k] = v
	}
	return fields, rows.Err()
}

// SetCaseField upserts a single collected fact.
func (s *Store) SetCaseField(ctx context.Context, caseID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO case_fields (case_id, field_key, field_value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(case_id, field_key) DO UPDATE SET
			field_value = excluded.field_value,
			updated_at = CURRENT_TIMESTAMP
	`, caseID, key, value)
	if err != nil {
		return fmt.Errorf("set case field: %w", err)
	}
	return nil
}
