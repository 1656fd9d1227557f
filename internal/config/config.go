// Package config loads and validates the engine's configuration: which
// paths to watch, how the text processor should chunk, how the embedding
// pipeline should batch and rate-limit, and where the persistent vector
// store keeps its files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Watcher    WatcherConfig    `yaml:"watcher" json:"watcher"`
	Chunk      ChunkConfig      `yaml:"chunk" json:"chunk"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Quantizer  QuantizerConfig  `yaml:"quantizer" json:"quantizer"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// PathsConfig configures which paths the watcher and initial scan include.
type PathsConfig struct {
	Include    []string        `yaml:"include" json:"include"`
	Exclude    []string        `yaml:"exclude" json:"exclude"`
	Submodules SubmoduleConfig `yaml:"submodules" json:"submodules"`
}

// SubmoduleConfig controls whether the scanner descends into git
// submodules during a scan, and which ones by name/path.
type SubmoduleConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// WatcherConfig configures the intelligent file watcher (spec.md §4.B).
type WatcherConfig struct {
	// DebounceWindow is how long a path's last event must age before it is
	// flushed. Default 35ms per spec.md §4.B.
	DebounceWindow time.Duration `yaml:"debounce_window" json:"debounce_window"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	EventBufferSize int          `yaml:"event_buffer_size" json:"event_buffer_size"`
}

// ChunkConfig configures the text processor (spec.md §4.C).
type ChunkConfig struct {
	MinChunkBytes  int    `yaml:"min_chunk_bytes" json:"min_chunk_bytes"`
	MaxChunkBytes  int    `yaml:"max_chunk_bytes" json:"max_chunk_bytes"`
	OverlapBytes   int    `yaml:"overlap_bytes" json:"overlap_bytes"`
	DedupLevel     string `yaml:"dedup_level" json:"dedup_level"` // none|basic|standard|aggressive
	ParserPoolSize int    `yaml:"parser_pool_size" json:"parser_pool_size"`
}

// EmbeddingsConfig configures the embedding pipeline and provider (spec.md §4.D, §6).
type EmbeddingsConfig struct {
	Provider  string `yaml:"provider" json:"provider"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
	APIKey    string `yaml:"api_key" json:"api_key"`
	Model     string `yaml:"model" json:"model"`
	Dimensions int   `yaml:"dimensions" json:"dimensions"`

	MaxTokensPerText    int `yaml:"max_tokens_per_text" json:"max_tokens_per_text"`
	MaxTextsPerRequest  int `yaml:"max_texts_per_request" json:"max_texts_per_request"`
	BatchSize           int `yaml:"batch_size" json:"batch_size"`
	MaxConcurrent       int `yaml:"max_concurrent" json:"max_concurrent"`
	RequestDelayMs      int `yaml:"request_delay_ms" json:"request_delay_ms"`
	RelationshipCap     int `yaml:"relationship_cap" json:"relationship_cap"`

	RPMLimit   int `yaml:"rpm_limit" json:"rpm_limit"`
	TPMLimit   int `yaml:"tpm_limit" json:"tpm_limit"`
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// QuantizerConfig configures the pluggable quantizer (spec.md §4.E).
type QuantizerConfig struct {
	// Kind is "none", "pq", or "sq".
	Kind string `yaml:"kind" json:"kind"`

	// Product quantization parameters.
	PQSubvectors int `yaml:"pq_subvectors" json:"pq_subvectors"` // m
	PQBits       int `yaml:"pq_bits" json:"pq_bits"`             // nbits

	// Scalar quantization parameters.
	SQBits    int  `yaml:"sq_bits" json:"sq_bits"`
	SQUniform bool `yaml:"sq_uniform" json:"sq_uniform"`
}

// StoreConfig configures the persistent vector store (spec.md §4.F).
type StoreConfig struct {
	DataDir    string `yaml:"data_dir" json:"data_dir"`
	BackupDir  string `yaml:"backup_dir" json:"backup_dir"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
}

// SearchConfig configures the query engine's lexical pre-filter (spec.md
// §4.G "similarity(query_text, k, filter)").
type SearchConfig struct {
	// LexicalEnabled mirrors indexed chunks into a keyword index alongside
	// vector embeddings and uses it to narrow similarity search results.
	LexicalEnabled bool `yaml:"lexical_enabled" json:"lexical_enabled"`
	// LexicalBackend selects the keyword index implementation: "sqlite"
	// (FTS5, concurrent multi-process) or "bleve" (legacy, single-process).
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`
	// LexicalCandidates is how many BM25 hits feed the similarity filter.
	LexicalCandidates int `yaml:"lexical_candidates" json:"lexical_candidates"`
}

var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
}

// New returns a Config populated with sensible defaults.
func New() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include:    []string{},
			Exclude:    defaultExcludePatterns,
			Submodules: SubmoduleConfig{Enabled: false},
		},
		Watcher: WatcherConfig{
			DebounceWindow:  35 * time.Millisecond,
			PollInterval:    2 * time.Second,
			EventBufferSize: 256,
		},
		Chunk: ChunkConfig{
			MinChunkBytes:  200,
			MaxChunkBytes:  4000,
			OverlapBytes:   100,
			DedupLevel:     "standard",
			ParserPoolSize: 10,
		},
		Embeddings: EmbeddingsConfig{
			Provider:           "http",
			BaseURL:            "http://localhost:8080",
			Model:              "",
			Dimensions:         768,
			MaxTokensPerText:   1024,
			MaxTextsPerRequest: 96,
			BatchSize:          32,
			MaxConcurrent:      4,
			RequestDelayMs:     0,
			RelationshipCap:    32,
			RPMLimit:           60,
			TPMLimit:           1_000_000,
			MaxRetries:         3,
			RequestTimeout:     30 * time.Second,
		},
		Quantizer: QuantizerConfig{
			Kind:         "none",
			PQSubvectors: 8,
			PQBits:       8,
			SQBits:       8,
			SQUniform:    false,
		},
		Store: StoreConfig{
			DataDir:    ".cigraph",
			BackupDir:  ".cigraph/backups",
			Dimensions: 768,
		},
		Search: SearchConfig{
			LexicalEnabled:    true,
			LexicalBackend:    "sqlite",
			LexicalCandidates: 200,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from dir/.cigraph.yaml (or .yml), overlaying
// env-var overrides, falling back to New()'s defaults for anything absent.
func Load(dir string) (*Config, error) {
	cfg := New()
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".cigraph.yaml", ".cigraph.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func (c *Config) mergeWith(o *Config) {
	if o.Version != 0 {
		c.Version = o.Version
	}
	if len(o.Paths.Include) > 0 {
		c.Paths.Include = o.Paths.Include
	}
	if len(o.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, o.Paths.Exclude...)
	}
	if o.Paths.Submodules.Enabled {
		c.Paths.Submodules.Enabled = true
	}
	if len(o.Paths.Submodules.Include) > 0 {
		c.Paths.Submodules.Include = o.Paths.Submodules.Include
	}
	if len(o.Paths.Submodules.Exclude) > 0 {
		c.Paths.Submodules.Exclude = o.Paths.Submodules.Exclude
	}
	if o.Watcher.DebounceWindow != 0 {
		c.Watcher.DebounceWindow = o.Watcher.DebounceWindow
	}
	if o.Watcher.PollInterval != 0 {
		c.Watcher.PollInterval = o.Watcher.PollInterval
	}
	if o.Watcher.EventBufferSize != 0 {
		c.Watcher.EventBufferSize = o.Watcher.EventBufferSize
	}
	if o.Chunk.MinChunkBytes != 0 {
		c.Chunk.MinChunkBytes = o.Chunk.MinChunkBytes
	}
	if o.Chunk.MaxChunkBytes != 0 {
		c.Chunk.MaxChunkBytes = o.Chunk.MaxChunkBytes
	}
	if o.Chunk.OverlapBytes != 0 {
		c.Chunk.OverlapBytes = o.Chunk.OverlapBytes
	}
	if o.Chunk.DedupLevel != "" {
		c.Chunk.DedupLevel = o.Chunk.DedupLevel
	}
	if o.Chunk.ParserPoolSize != 0 {
		c.Chunk.ParserPoolSize = o.Chunk.ParserPoolSize
	}
	if o.Embeddings.Provider != "" {
		c.Embeddings.Provider = o.Embeddings.Provider
	}
	if o.Embeddings.BaseURL != "" {
		c.Embeddings.BaseURL = o.Embeddings.BaseURL
	}
	if o.Embeddings.APIKey != "" {
		c.Embeddings.APIKey = o.Embeddings.APIKey
	}
	if o.Embeddings.Model != "" {
		c.Embeddings.Model = o.Embeddings.Model
	}
	if o.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = o.Embeddings.Dimensions
	}
	if o.Embeddings.MaxTokensPerText != 0 {
		c.Embeddings.MaxTokensPerText = o.Embeddings.MaxTokensPerText
	}
	if o.Embeddings.MaxTextsPerRequest != 0 {
		c.Embeddings.MaxTextsPerRequest = o.Embeddings.MaxTextsPerRequest
	}
	if o.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = o.Embeddings.BatchSize
	}
	if o.Embeddings.MaxConcurrent != 0 {
		c.Embeddings.MaxConcurrent = o.Embeddings.MaxConcurrent
	}
	if o.Embeddings.RequestDelayMs != 0 {
		c.Embeddings.RequestDelayMs = o.Embeddings.RequestDelayMs
	}
	if o.Embeddings.RelationshipCap != 0 {
		c.Embeddings.RelationshipCap = o.Embeddings.RelationshipCap
	}
	if o.Embeddings.RPMLimit != 0 {
		c.Embeddings.RPMLimit = o.Embeddings.RPMLimit
	}
	if o.Embeddings.TPMLimit != 0 {
		c.Embeddings.TPMLimit = o.Embeddings.TPMLimit
	}
	if o.Embeddings.MaxRetries != 0 {
		c.Embeddings.MaxRetries = o.Embeddings.MaxRetries
	}
	if o.Embeddings.RequestTimeout != 0 {
		c.Embeddings.RequestTimeout = o.Embeddings.RequestTimeout
	}
	if o.Quantizer.Kind != "" {
		c.Quantizer.Kind = o.Quantizer.Kind
	}
	if o.Quantizer.PQSubvectors != 0 {
		c.Quantizer.PQSubvectors = o.Quantizer.PQSubvectors
	}
	if o.Quantizer.PQBits != 0 {
		c.Quantizer.PQBits = o.Quantizer.PQBits
	}
	if o.Quantizer.SQBits != 0 {
		c.Quantizer.SQBits = o.Quantizer.SQBits
	}
	if o.Store.DataDir != "" {
		c.Store.DataDir = o.Store.DataDir
	}
	if o.Store.BackupDir != "" {
		c.Store.BackupDir = o.Store.BackupDir
	}
	if o.Store.Dimensions != 0 {
		c.Store.Dimensions = o.Store.Dimensions
	}
	if o.Search.LexicalBackend != "" {
		c.Search.LexicalBackend = o.Search.LexicalBackend
	}
	if o.Search.LexicalCandidates != 0 {
		c.Search.LexicalCandidates = o.Search.LexicalCandidates
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
}

// applyEnvOverrides applies the rate-limit environment knobs named in
// spec.md §6 ("consumed verbatim, string-to-number parsed, defaulted if
// absent") plus the provider connection settings.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CIGRAPH_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("CIGRAPH_EMBEDDINGS_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("CIGRAPH_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CIGRAPH_MAX_TOKENS_PER_TEXT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.MaxTokensPerText = n
		}
	}
	if v := os.Getenv("CIGRAPH_MAX_TEXTS_PER_REQUEST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.MaxTextsPerRequest = n
		}
	}
	if v := os.Getenv("CIGRAPH_RPM_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.RPMLimit = n
		}
	}
	if v := os.Getenv("CIGRAPH_TPM_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.TPMLimit = n
		}
	}
	if v := os.Getenv("CIGRAPH_RELATIONSHIP_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.RelationshipCap = n
		}
	}
	if v := os.Getenv("CIGRAPH_REQUEST_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Embeddings.RequestDelayMs = n
		}
	}
	if v := os.Getenv("CIGRAPH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration for obviously invalid settings.
func (c *Config) Validate() error {
	if c.Embeddings.MaxTextsPerRequest <= 0 {
		return fmt.Errorf("embeddings.max_texts_per_request must be positive, got %d", c.Embeddings.MaxTextsPerRequest)
	}
	if c.Embeddings.BatchSize > c.Embeddings.MaxTextsPerRequest {
		return fmt.Errorf("embeddings.batch_size (%d) must not exceed max_texts_per_request (%d)", c.Embeddings.BatchSize, c.Embeddings.MaxTextsPerRequest)
	}
	if c.Chunk.MinChunkBytes > c.Chunk.MaxChunkBytes {
		return fmt.Errorf("chunk.min_chunk_bytes (%d) must not exceed max_chunk_bytes (%d)", c.Chunk.MinChunkBytes, c.Chunk.MaxChunkBytes)
	}
	switch strings.ToLower(c.Quantizer.Kind) {
	case "none", "pq", "sq":
	default:
		return fmt.Errorf("quantizer.kind must be 'none', 'pq', or 'sq', got %q", c.Quantizer.Kind)
	}
	if strings.ToLower(c.Quantizer.Kind) == "pq" && c.Quantizer.PQSubvectors <= 0 {
		return fmt.Errorf("quantizer.pq_subvectors must be positive when quantizer.kind is 'pq'")
	}
	validLevels := map[string]bool{"none": true, "basic": true, "standard": true, "aggressive": true}
	if !validLevels[strings.ToLower(c.Chunk.DedupLevel)] {
		return fmt.Errorf("chunk.dedup_level must be none|basic|standard|aggressive, got %q", c.Chunk.DedupLevel)
	}
	switch strings.ToLower(c.Search.LexicalBackend) {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("search.lexical_backend must be 'sqlite' or 'bleve', got %q", c.Search.LexicalBackend)
	}
	return nil
}

// WriteYAML writes the configuration to path, replacing it atomically.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeFileAtomic(path, data)
}

// FindProjectRoot walks up from startDir looking for a .git directory or a
// .cigraph.yaml/.yml file, falling back to startDir itself if neither is
// found before reaching the filesystem root.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	current := absDir
	for {
		if dirExists(filepath.Join(current, ".git")) {
			return current, nil
		}
		if fileExists(filepath.Join(current, ".cigraph.yaml")) || fileExists(filepath.Join(current, ".cigraph.yml")) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

// DefaultWorkerCount returns a sensible default for CPU-bound worker pools
// (tokenization, parsing): number of logical CPUs, at least 1.
func DefaultWorkerCount() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
