// Package query implements the engine's read path: similarity search over
// the persistent store, graph expansion from a set of seed nodes, and an
// optional rerank pass over candidate documents.
package query

import (
	"context"

	"github.com/cigraph/cigraph/internal/embed"
	"github.com/cigraph/cigraph/internal/graph"
	"github.com/cigraph/cigraph/internal/store"
)

// Store is the subset of the persistent vector store the query engine
// depends on.
type Store interface {
	SearchSimilar(ctx context.Context, query []float32, k int) ([]string, error)
}

// Provider is the subset of the embedding pipeline the query engine
// depends on.
type Provider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	RerankResults(ctx context.Context, query string, candidates []string, topN int) ([]embed.RerankResult, error)
}

// Lexical is the subset of the keyword/BM25 index the query engine uses to
// build a pre-filter over candidate node ids.
type Lexical interface {
	Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error)
}

// Engine answers similarity, graph-expansion, and rerank queries.
type Engine struct {
	store    Store
	provider Provider
	graph    *graph.Index
	lexical  Lexical
}

// NewEngine builds a query engine over the given store, embedding
// pipeline, and graph index. Hybrid lexical filtering is unavailable
// until SetLexical is called.
func NewEngine(store Store, provider Provider, g *graph.Index) *Engine {
	return &Engine{store: store, provider: provider, graph: g}
}

// SetLexical wires the keyword/BM25 index LexicalFilter draws candidates
// from. Passing nil disables lexical pre-filtering.
func (e *Engine) SetLexical(lexical Lexical) {
	e.lexical = lexical
}

// LexicalFilter runs queryText through the keyword index and returns a
// predicate matching Similarity's filter parameter: true for any node id
// that BM25 ranked in its top candidateLimit for this query. Returns nil,
// nil (no filtering) if no lexical index is wired or the query matched
// nothing, so callers can pass the result straight into Similarity without
// a nil check changing behavior.
func (e *Engine) LexicalFilter(ctx context.Context, queryText string, candidateLimit int) (func(nodeID string) bool, error) {
	if e.lexical == nil {
		return nil, nil
	}
	results, err := e.lexical.Search(ctx, queryText, candidateLimit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	matched := make(map[string]struct{}, len(results))
	for _, r := range results {
		matched[r.DocID] = struct{}{}
	}
	return func(nodeID string) bool {
		_, ok := matched[nodeID]
		return ok
	}, nil
}

// Similarity embeds queryText via the provider and delegates to the
// store's search_similar. filter narrows the returned ids by a caller
// predicate; pass the result of LexicalFilter to combine vector
// similarity with keyword relevance (spec.md's hybrid `similarity(query_text,
// k, filter)` contract).
func (e *Engine) Similarity(ctx context.Context, queryText string, k int, filter func(nodeID string) bool) ([]string, error) {
	vectors, err := e.provider.EmbedTexts(ctx, []string{queryText})
	if err != nil {
		return nil, err
	}

	ids, err := e.store.SearchSimilar(ctx, vectors[0], k)
	if err != nil {
		return nil, err
	}

	if filter == nil {
		return ids, nil
	}
	filtered := make([]string, 0, len(ids))
	for _, id := range ids {
		if filter(id) {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}

// ExpandGraph performs a breadth-first walk from seedNodes out to depth
// hops over the graph index.
func (e *Engine) ExpandGraph(seedNodes []string, depth int) []graph.ExpansionResult {
	return e.graph.Expand(seedNodes, depth)
}

// Rerank invokes the embedding provider's rerank endpoint over candidate
// documents against queryText, returning the top n.
func (e *Engine) Rerank(ctx context.Context, queryText string, candidateDocs []string, n int) ([]embed.RerankResult, error) {
	return e.provider.RerankResults(ctx, queryText, candidateDocs, n)
}
