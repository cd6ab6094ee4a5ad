package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ChunkScope narrows a chunk search to a tenant, an optional agent, and an
// optional contact phone.
type ChunkScope struct {
	TenantID     string
	AgentID      string
	ContactPhone string
	Kind         string
}

// UpsertChunk stores or updates a knowledge/memory chunk. Embeddings are
// stored as little-endian float32 BLOBs; similarity is computed in Go,
// which is sub-millisecond at the per-tenant chunk counts involved.
func (s *Store) UpsertChunk(ctx context.Context, c *Chunk, vector []float32) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Kind == "" {
		c.Kind = ChunkKnowledge
	}
	var blob []byte
	if len(vector) > 0 {
		blob = encodeFloat32s(vector)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_chunks (id, tenant_id, agent_id, contact_phone, kind, content, embedding, metadata)
		VALUES (?, ?, NULLIF(?,''), NULLIF(?,''), ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`, c.ID, c.TenantID, c.AgentID, c.ContactPhone, c.Kind, c.Content, blob, c.Metadata)
	if err != nil {
		return fmt.Errorf("upsert chunk: %w", err)
	}
	return nil
}

// SearchChunks returns the chunks in scope whose cosine similarity to the
// query vector is at least minScore, best first, capped at limit.
func (s *Store) SearchChunks(ctx context.Context, scope ChunkScope, vector []float32, minScore float32, limit int) ([]Chunk, error) {
	rows, err := s.queryScope(ctx, scope, "embedding IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.TenantID, &c.AgentID, &c.ContactPhone,
			&c.Kind, &c.Content, &blob, &c.Metadata); err != nil {
			continue
		}
		stored := decodeFloat32s(blob)
		if len(stored) != len(vector) {
			continue // dimension mismatch, skip
		}
		c.Score = cosineSimilarity(vector, stored)
		if c.Score >= minScore {
			candidates = append(candidates, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// SearchChunksText matches chunks whose content contains ANY of the given
// terms, case-insensitive, capped at limit.
func (s *Store) SearchChunksText(ctx context.Context, scope ChunkScope, terms []string, limit int) ([]Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.queryScope(ctx, scope, "1=1")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.TenantID, &c.AgentID, &c.ContactPhone,
			&c.Kind, &c.Content, &blob, &c.Metadata); err != nil {
			continue
		}
		content := strings.ToLower(c.Content)
		for _, term := range lowered {
			if strings.Contains(content, term) {
				out = append(out, c)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *Store) queryScope(ctx context.Context, scope ChunkScope, extra string) (*sql.Rows, error) {
	query := `
		SELECT id, tenant_id, COALESCE(agent_id,''), COALESCE(contact_phone,''), kind, content, embedding, metadata
		FROM knowledge_chunks
		WHERE tenant_id = ? AND ` + extra
	args := []any{scope.TenantID}
	if scope.Kind != "" {
		query += " AND kind = ?"
		args = append(args, scope.Kind)
	}
	if scope.AgentID != "" {
		query += " AND (agent_id IS NULL OR agent_id = ?)"
		args = append(args, scope.AgentID)
	}
	if scope.ContactPhone != "" {
		query += " AND contact_phone = ?"
		args = append(args, scope.ContactPhone)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	return rows, nil
}

// encodeFloat32s converts a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s converts little-endian bytes back to a float32 slice.
func decodeFloat32s(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
