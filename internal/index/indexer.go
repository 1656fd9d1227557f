package index

import (
	"context"
	"fmt"

	"github.com/cigraph/cigraph/internal/graph"
	"github.com/cigraph/cigraph/internal/store"
)

// Indexer is what the coordinator uses to turn chunked file content into
// searchable state: metadata rows, graph nodes, and stored embeddings. It
// replaces the teacher's monolithic search engine with the three
// subsystems this repo actually builds.
type Indexer interface {
	Index(ctx context.Context, chunks []*store.Chunk) error
	Delete(ctx context.Context, chunkIDs []string) error
}

// Embedder is the subset of the embedding pipeline the indexer depends on.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the subset of the persistent vector store the indexer
// depends on.
type VectorStore interface {
	StoreEmbeddings(ctx context.Context, nodes []graph.CodeNode) error
	Delete(ctx context.Context, nodeID string) error
}

// GraphIndex is the subset of the graph index the indexer depends on.
type GraphIndex interface {
	UpsertNode(node graph.CodeNode)
	RemoveNode(id string)
}

// chunkKind maps a chunk's content type to the graph node kind it
// contributes. Code chunks become function nodes (the chunker splits code
// at symbol boundaries); anything else becomes a file-level node.
func chunkKind(ct store.ContentType) graph.NodeKind {
	if ct == store.ContentType("code") {
		return graph.NodeFunction
	}
	return graph.NodeFile
}

// VectorIndexer wires the embedding pipeline, persistent vector store, and
// graph index together, persisting chunk rows to the metadata store along
// the way.
type VectorIndexer struct {
	Embedder Embedder
	Vectors  VectorStore
	Graph    GraphIndex
	Metadata store.MetadataStore
}

// NewVectorIndexer builds an Indexer over the given subsystems.
func NewVectorIndexer(embedder Embedder, vectors VectorStore, g GraphIndex, metadata store.MetadataStore) *VectorIndexer {
	return &VectorIndexer{Embedder: embedder, Vectors: vectors, Graph: g, Metadata: metadata}
}

// Index embeds each chunk's content, saves the chunk rows, upserts one
// graph node per chunk, and stores the resulting embeddings.
func (vi *VectorIndexer) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	vectors, err := vi.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	if err := vi.Metadata.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}

	nodes := make([]graph.CodeNode, len(chunks))
	for i, ch := range chunks {
		node := graph.CodeNode{
			ID:                ch.ID,
			Name:              ch.FilePath,
			Kind:              chunkKind(ch.ContentType),
			Language:          ch.Language,
			Location:          graph.Location{File: ch.FilePath, StartLine: ch.StartLine, EndLine: ch.EndLine},
			Content:           ch.Content,
			Embedding:         vectors[i],
			ChunkFingerprints: []string{ch.ID},
		}
		nodes[i] = node
		vi.Graph.UpsertNode(node)
	}

	if err := vi.Vectors.StoreEmbeddings(ctx, nodes); err != nil {
		return fmt.Errorf("store embeddings: %w", err)
	}

	return nil
}

// Delete removes the given chunk ids from the graph and vector store. The
// caller remains responsible for the metadata chunk/file rows, which cascade
// via the metadata store's own delete operations.
func (vi *VectorIndexer) Delete(ctx context.Context, chunkIDs []string) error {
	for _, id := range chunkIDs {
		vi.Graph.RemoveNode(id)
		if err := vi.Vectors.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete embedding %q: %w", id, err)
		}
	}
	return nil
}
