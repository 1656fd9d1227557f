package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	cierrors "github.com/cigraph/cigraph/internal/errors"
)

// ProviderConfig configures a remote embedding/rerank provider.
type ProviderConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	RerankModel  string
	Dimensions   int
	MaxRetries   int
	Timeout      time.Duration
	PoolSize     int
	ProgressFunc func(completed, total int)
}

func (c *ProviderConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultRequestTimeout
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
}

// embedRequest is the wire shape POSTed to {base}/embeddings.
type embedRequest struct {
	Model        string   `json:"model"`
	Task         string   `json:"task,omitempty"`
	Truncate     bool     `json:"truncate,omitempty"`
	LateChunking bool     `json:"late_chunking,omitempty"`
	Input        []string `json:"input"`
}

type embedResponse struct {
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type rerankRequest struct {
	Model            string   `json:"model"`
	Query            string   `json:"query"`
	Documents        []string `json:"documents"`
	TopN             int      `json:"top_n,omitempty"`
	ReturnDocuments  bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// RerankResult pairs a document's original index with its relevance score.
type RerankResult struct {
	Index          int
	RelevanceScore float64
}

// Provider is an HTTP client for a remote embedding provider speaking the
// engine's wire contract: POST {base}/embeddings and POST {base}/rerank,
// Bearer-authenticated.
type Provider struct {
	client    *http.Client
	transport *http.Transport
	cfg       ProviderConfig
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*Provider)(nil)

// NewProvider creates a provider client. No network call is made until the
// first Embed/EmbedBatch/Available call.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		return nil, cierrors.NewConfiguration("embedding provider base URL is required", nil)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	p := &Provider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		dims:      cfg.Dimensions,
	}
	if p.dims == 0 {
		p.dims = DefaultDimensions
	}
	return p, nil
}

// Embed generates an embedding for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, p.dims), nil
	}
	embeddings, err := p.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, cierrors.NewProviderProtocol("no embedding returned", nil)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Empty/whitespace
// entries are returned as zero vectors without a network call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, p.dims)
			continue
		}
		nonEmpty = append(nonEmpty, indexedText{i, text})
	}
	if len(nonEmpty) == 0 {
		return results, nil
	}

	embeddings, err := p.embedWithRetry(ctx, mapTexts(nonEmpty, func(it indexedText) string { return it.text }))
	if err != nil {
		return nil, err
	}
	for i, emb := range embeddings {
		results[nonEmpty[i].idx] = emb
	}
	if p.cfg.ProgressFunc != nil {
		p.cfg.ProgressFunc(len(nonEmpty), len(nonEmpty))
	}
	return results, nil
}

func mapTexts[T any](items []T, f func(T) string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = f(it)
	}
	return out
}

// embedWithRetry performs the request with exponential backoff:
// attempt n waits baseBackoff * 2^n before retrying.
func (p *Provider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if attempt > 0 {
			backoff := baseBackoff * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		embeddings, err := p.doEmbed(timeoutCtx, texts)
		cancel()

		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		slog.Debug("embedding attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", p.cfg.MaxRetries),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !cierrors.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, cierrors.NewProviderTransport(
		fmt.Sprintf("embedding failed after %d attempts", p.cfg.MaxRetries), lastErr)
}

// doEmbed performs a single request, racing it against ctx cancellation so
// an interrupt exits promptly instead of waiting out the HTTP timeout.
func (p *Provider) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embedRequest{
		Model: p.cfg.Model,
		Input: texts,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, cierrors.NewParse("failed to marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, cierrors.NewProviderTransport("failed to build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	type result struct {
		embeddings [][]float32
		err        error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := p.client.Do(req)
		if err != nil {
			resultCh <- result{nil, cierrors.NewProviderTransport("embed request failed", err)}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{nil, cierrors.NewProviderRateLimit(string(respBody), nil)}
			return
		}
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{nil, cierrors.NewProviderProtocol(
				fmt.Sprintf("embed request returned status %d: %s", resp.StatusCode, string(respBody)), nil)}
			return
		}

		var apiResult embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
			resultCh <- result{nil, cierrors.NewProviderProtocol("failed to decode embed response", err)}
			return
		}

		embeddings := make([][]float32, len(apiResult.Data))
		for _, item := range apiResult.Data {
			if item.Index < 0 || item.Index >= len(embeddings) {
				continue
			}
			vec := make([]float32, len(item.Embedding))
			for j, v := range item.Embedding {
				vec[j] = float32(v)
			}
			embeddings[item.Index] = normalizeVector(vec)
		}
		resultCh <- result{embeddings, nil}
	}()

	select {
	case <-ctx.Done():
		p.transport.CloseIdleConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.embeddings, r.err
	}
}

// Rerank scores documents against a query via POST {base}/rerank.
func (p *Provider) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	reqBody := rerankRequest{
		Model:           p.cfg.RerankModel,
		Query:           query,
		Documents:       documents,
		TopN:            topN,
		ReturnDocuments: false,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, cierrors.NewParse("failed to marshal rerank request", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, p.cfg.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, cierrors.NewProviderTransport("failed to build rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, cierrors.NewProviderTransport("rerank request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, cierrors.NewProviderProtocol(
			fmt.Sprintf("rerank request returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var apiResult rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, cierrors.NewProviderProtocol("failed to decode rerank response", err)
	}

	out := make([]RerankResult, len(apiResult.Results))
	for i, r := range apiResult.Results {
		out[i] = RerankResult{Index: r.Index, RelevanceScore: r.RelevanceScore}
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (p *Provider) Dimensions() int { return p.dims }

// ModelName returns the configured model identifier.
func (p *Provider) ModelName() string { return p.cfg.Model }

// Available performs a lightweight embed call to check reachability.
func (p *Provider) Available(ctx context.Context) bool {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	_, err := p.doEmbed(checkCtx, []string{"availability check"})
	return err == nil
}

// Close releases idle connections.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.transport.CloseIdleConnections()
	return nil
}
