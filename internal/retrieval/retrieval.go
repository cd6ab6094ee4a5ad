// Package retrieval assembles the knowledge context injected into
// funnel prompts. It degrades through widened vector search and then
// plain text matching; it never fails the message pipeline.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lexflow/lexflow/internal/provider"
	"github.com/lexflow/lexflow/internal/store"
)

const (
	// First pass is strict: only close matches.
	strictMinScore = 0.78
	strictLimit    = 4
	// Widened pass trades precision for recall when the strict pass
	// comes back empty.
	wideMinScore = 0.60
	wideLimit    = 8

	lexicalMinTokenLen = 4
	lexicalMaxTerms    = 5
)

// Scope identifies whose knowledge to search.
type Scope struct {
	TenantID     string
	AgentID      string
	ContactPhone string
}

// Retriever builds prompt context from the knowledge base and the
// contact's long-term memory.
type Retriever struct {
	store    *store.Store
	embedder provider.Embedder
	logger   *slog.Logger
}

// New creates a Retriever. embedder may be nil, which skips straight
// to lexical matching.
func New(st *store.Store, embedder provider.Embedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: st, embedder: embedder, logger: logger}
}

// Context returns the formatted retrieval block for a query, or empty
// when nothing relevant exists. Errors are logged, never returned.
// The widened pass and the lexical fallback only run when the strict
// pass found nothing in either scope.
func (r *Retriever) Context(ctx context.Context, scope Scope, query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	kScope := store.ChunkScope{
		TenantID: scope.TenantID,
		AgentID:  scope.AgentID,
		Kind:     store.ChunkKnowledge,
	}
	mScope := store.ChunkScope{
		TenantID:     scope.TenantID,
		ContactPhone: scope.ContactPhone,
		Kind:         store.ChunkContactMemory,
	}
	hasContact := scope.ContactPhone != ""

	var knowledge, memory []store.Chunk
	if vector := r.embed(ctx, query); vector != nil {
		knowledge = r.vectorSearch(ctx, kScope, vector, strictMinScore, strictLimit)
		if hasContact {
			memory = r.vectorSearch(ctx, mScope, vector, strictMinScore, strictLimit)
		}
		if len(knowledge) == 0 && len(memory) == 0 {
			knowledge = r.vectorSearch(ctx, kScope, vector, wideMinScore, wideLimit)
			if hasContact {
				memory = r.vectorSearch(ctx, mScope, vector, wideMinScore, wideLimit)
			}
		}
	}
	if len(knowledge) == 0 && len(memory) == 0 {
		if terms := LexicalTerms(query); len(terms) > 0 {
			knowledge = r.textSearch(ctx, kScope, terms)
			if hasContact {
				memory = r.textSearch(ctx, mScope, terms)
			}
		}
	}

	if len(knowledge) == 0 && len(memory) == 0 {
		return ""
	}

	var b strings.Builder
	writeSection(&b, "Conhecimento relevante", knowledge)
	writeSection(&b, "Memória do contato", memory)
	return strings.TrimRight(b.String(), "\n")
}

func (r *Retriever) vectorSearch(ctx context.Context, scope store.ChunkScope, vector []float32, minScore float32, limit int) []store.Chunk {
	chunks, err := r.store.SearchChunks(ctx, scope, vector, minScore, limit)
	if err != nil {
		r.logger.Warn("Vector search failed", "kind", scope.Kind, "error", err)
		return nil
	}
	return chunks
}

func (r *Retriever) textSearch(ctx context.Context, scope store.ChunkScope, terms []string) []store.Chunk {
	chunks, err := r.store.SearchChunksText(ctx, scope, terms, strictLimit)
	if err != nil {
		r.logger.Warn("Lexical search failed", "kind", scope.Kind, "error", err)
		return nil
	}
	return chunks
}

func (r *Retriever) embed(ctx context.Context, query string) []float32 {
	if r.embedder == nil {
		return nil
	}
	resp, err := r.embedder.Embed(ctx, &provider.EmbeddingRequest{Input: query})
	if err != nil {
		r.logger.Warn("Embedding failed, falling back to lexical search", "error", err)
		return nil
	}
	return resp.Vector
}

// LexicalTerms extracts up to five search tokens of at least four
// characters from the query.
func LexicalTerms(query string) []string {
	var terms []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]")
		if len([]rune(tok)) < lexicalMinTokenLen {
			continue
		}
		terms = append(terms, tok)
		if len(terms) == lexicalMaxTerms {
			break
		}
	}
	return terms
}

func writeSection(b *strings.Builder, label string, chunks []store.Chunk) {
	if len(chunks) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for i, c := range chunks {
		fmt.Fprintf(b, "%d. %s\n", i+1, strings.TrimSpace(c.Content))
	}
	b.WriteString("\n")
}
