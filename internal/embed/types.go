package embed

import (
	"context"
	"math"
	"time"
)

// Embedding request/response shape defaults.
const (
	// DefaultDimensions is the embedding dimension assumed when a provider
	// does not report one and the config doesn't pin it.
	DefaultDimensions = 768

	// DefaultMaxTokensPerText caps how much text is sent per item.
	DefaultMaxTokensPerText = 1024

	// DefaultMaxTextsPerRequest is the hard cap on items per request.
	DefaultMaxTextsPerRequest = 96

	// DefaultBatchSize is how many chunks are grouped per planned request
	// before the hard per-request cap is applied.
	DefaultBatchSize = 32

	// DefaultMaxConcurrent bounds in-flight embedding requests.
	DefaultMaxConcurrent = 4

	// DefaultRelationshipCap bounds how many graph edges are considered
	// per node when the pipeline enriches chunk context with related code.
	DefaultRelationshipCap = 32

	// DefaultMaxRetries is the number of attempts before a request fails.
	DefaultMaxRetries = 3

	// DefaultRequestTimeout bounds a single HTTP call to the provider.
	DefaultRequestTimeout = 30 * time.Second

	// baseBackoff and the exponential schedule it anchors: attempt n waits
	// baseBackoff * 2^n.
	baseBackoff = 100 * time.Millisecond
)

// Embedder generates vector embeddings for text via a remote provider.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, respecting the
	// provider's per-request item cap by splitting internally if needed.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the provider is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length. A zero vector is
// returned unchanged since it has no defined direction.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// meanPool averages a set of equal-length vectors into one, then
// renormalizes. Used to aggregate per-window embeddings back into a
// single chunk-level vector when a chunk was split to fit the provider's
// token budget.
func meanPool(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) == 1 {
		return vectors[0]
	}

	dims := len(vectors[0])
	sum := make([]float64, dims)
	for _, v := range vectors {
		for i, val := range v {
			if i < dims {
				sum[i] += float64(val)
			}
		}
	}

	mean := make([]float32, dims)
	n := float64(len(vectors))
	for i, s := range sum {
		mean[i] = float32(s / n)
	}
	return normalizeVector(mean)
}
