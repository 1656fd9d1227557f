package embed

import (
	"context"
	"strings"
	"sync"

	cierrors "github.com/cigraph/cigraph/internal/errors"
)

// PipelineConfig bounds how the pipeline shapes work before handing it to
// the provider.
type PipelineConfig struct {
	MaxTokensPerText   int
	MaxTextsPerRequest int
	BatchSize          int
	MaxConcurrent      int
	RequestDelayMs     int
	RelationshipCap    int
	RPMLimit           int
	TPMLimit           int
}

func (c *PipelineConfig) applyDefaults() {
	if c.MaxTokensPerText <= 0 {
		c.MaxTokensPerText = DefaultMaxTokensPerText
	}
	if c.MaxTextsPerRequest <= 0 {
		c.MaxTextsPerRequest = DefaultMaxTextsPerRequest
	}
	if c.BatchSize <= 0 || c.BatchSize > c.MaxTextsPerRequest {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.RelationshipCap <= 0 {
		c.RelationshipCap = DefaultRelationshipCap
	}
}

// Pipeline plans, rate-limits, and dispatches embedding requests for a set
// of texts, splitting any text that exceeds the per-text token budget into
// overlapping windows and mean-pooling their embeddings back together.
type Pipeline struct {
	provider *Provider
	limiter  *RateLimiter
	cfg      PipelineConfig
}

// NewPipeline builds a pipeline over provider using cfg, defaulting any
// unset knob.
func NewPipeline(provider *Provider, cfg PipelineConfig) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		provider: provider,
		limiter:  NewRateLimiter(cfg.RPMLimit, cfg.TPMLimit),
		cfg:      cfg,
	}
}

// estimateTokens approximates token count from character count; the exact
// mapping is provider-specific and unknowable without a tokenizer call,
// so this stays a deliberately conservative heuristic (4 chars/token).
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// planItem is one unit of work the pipeline dispatches: either the whole
// text, or one window of a text that needed splitting.
type planItem struct {
	sourceIndex int
	text        string
}

// plan splits any text exceeding MaxTokensPerText into windows sized to
// fit, with roughly 10% overlap between consecutive windows so a split
// boundary doesn't sever context entirely.
func (p *Pipeline) plan(texts []string) [][]planItem {
	maxChars := p.cfg.MaxTokensPerText * 4
	overlapChars := maxChars / 10

	items := make([]planItem, 0, len(texts))
	windowCounts := make([]int, len(texts))

	for i, text := range texts {
		if len(text) <= maxChars {
			items = append(items, planItem{sourceIndex: i, text: text})
			windowCounts[i] = 1
			continue
		}
		count := 0
		for start := 0; start < len(text); {
			end := start + maxChars
			if end > len(text) {
				end = len(text)
			}
			items = append(items, planItem{sourceIndex: i, text: text[start:end]})
			count++
			if end >= len(text) {
				break
			}
			start = end - overlapChars
			if start <= 0 {
				break
			}
		}
		windowCounts[i] = count
	}

	// Group into request-sized batches, respecting both the configured
	// batch size and the provider's hard per-request item cap.
	batchSize := p.cfg.BatchSize
	if batchSize > p.cfg.MaxTextsPerRequest {
		batchSize = p.cfg.MaxTextsPerRequest
	}

	var batches [][]planItem
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// EmbedTexts embeds texts, transparently splitting any over-budget text
// into windows and mean-pooling the results, dispatching request batches
// with bounded concurrency and the dual sliding-window rate limiter.
func (p *Pipeline) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batches := p.plan(texts)
	perTextVectors := make([][][]float32, len(texts))
	var mu sync.Mutex

	sem := make(chan struct{}, p.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	errCh := make(chan error, len(batches))

	for _, batch := range batches {
		batch := batch
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			batchTexts := make([]string, len(batch))
			tokenCount := 0
			for i, item := range batch {
				batchTexts[i] = item.text
				tokenCount += estimateTokens(item.text)
			}

			if err := p.limiter.Acquire(ctx, tokenCount); err != nil {
				errCh <- err
				return
			}

			vectors, err := p.provider.EmbedBatch(ctx, batchTexts)
			if err != nil {
				errCh <- err
				return
			}

			mu.Lock()
			for i, item := range batch {
				perTextVectors[item.sourceIndex] = append(perTextVectors[item.sourceIndex], vectors[i])
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, vecs := range perTextVectors {
		if len(vecs) == 0 {
			return nil, cierrors.NewProviderProtocol("no embedding returned for text", nil)
		}
		out[i] = meanPool(vecs)
	}
	return out, nil
}

// RerankResults reranks candidate texts against a query via the
// provider's rerank endpoint, returning results sorted by relevance
// descending, truncated to topN (0 means no truncation).
func (p *Pipeline) RerankResults(ctx context.Context, query string, candidates []string, topN int) ([]RerankResult, error) {
	if p.provider.cfg.RerankModel == "" {
		return nil, cierrors.NewConfiguration("no rerank model configured", nil)
	}
	nonEmpty := make([]string, 0, len(candidates))
	for _, c := range candidates {
		nonEmpty = append(nonEmpty, strings.TrimSpace(c))
	}
	return p.provider.Rerank(ctx, query, nonEmpty, topN)
}
