package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cigraph/cigraph/internal/chunk"
	"github.com/cigraph/cigraph/internal/config"
	"github.com/cigraph/cigraph/internal/embed"
	"github.com/cigraph/cigraph/internal/graph"
	"github.com/cigraph/cigraph/internal/index"
	"github.com/cigraph/cigraph/internal/query"
	"github.com/cigraph/cigraph/internal/scanner"
	"github.com/cigraph/cigraph/internal/store"
	"github.com/cigraph/cigraph/internal/vectorstore"
)

// engine bundles the subsystems a CLI command drives: the metadata store,
// the persistent vector store, the in-memory graph, the embedding
// pipeline, and the coordinator/query engine built over them.
type engine struct {
	Root      string
	DataDir   string
	ProjectID string

	Config   *config.Config
	Metadata *store.SQLiteStore
	Vectors  *vectorstore.Store
	Graph    *graph.Index
	Provider *embed.Provider
	Pipeline *embed.Pipeline

	Scanner     *scanner.Scanner
	Lexical     store.BM25Index
	Coordinator *index.Coordinator
	Query       *query.Engine
}

// projectID derives the deterministic project identifier from its
// absolute root path (store.Project.ID is documented as SHA256(absolute_path)).
func projectID(root string) string {
	hash := sha256.Sum256([]byte(root))
	return hex.EncodeToString(hash[:])[:16]
}

// openEngine resolves the project root from path, loads configuration, and
// wires up every subsystem a command needs. Callers must call Close when
// done.
func openEngine(path string) (*engine, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dataDir := cfg.Store.DataDir
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(root, dataDir)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	backupDir := cfg.Store.BackupDir
	if !filepath.IsAbs(backupDir) {
		backupDir = filepath.Join(root, backupDir)
	}
	vectors, err := vectorstore.New(filepath.Join(dataDir, "vectors.db"), backupDir, cfg.Embeddings.Dimensions)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	provider, err := embed.NewProvider(embed.ProviderConfig{
		BaseURL:    cfg.Embeddings.BaseURL,
		APIKey:     cfg.Embeddings.APIKey,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		MaxRetries: cfg.Embeddings.MaxRetries,
		Timeout:    cfg.Embeddings.RequestTimeout,
	})
	if err != nil {
		_ = vectors.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}

	pipeline := embed.NewPipeline(provider, embed.PipelineConfig{
		MaxTokensPerText:   cfg.Embeddings.MaxTokensPerText,
		MaxTextsPerRequest: cfg.Embeddings.MaxTextsPerRequest,
		BatchSize:          cfg.Embeddings.BatchSize,
		MaxConcurrent:      cfg.Embeddings.MaxConcurrent,
		RequestDelayMs:     cfg.Embeddings.RequestDelayMs,
		RelationshipCap:    cfg.Embeddings.RelationshipCap,
		RPMLimit:           cfg.Embeddings.RPMLimit,
		TPMLimit:           cfg.Embeddings.TPMLimit,
	})

	graphIndex := graph.NewIndex()
	indexer := index.NewVectorIndexer(pipeline, vectors, graphIndex, metadata)

	sc, err := scanner.New()
	if err != nil {
		_ = provider.Close()
		_ = vectors.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	var lexical store.BM25Index
	if cfg.Search.LexicalEnabled {
		lexical, err = store.NewBM25IndexWithBackend(
			filepath.Join(dataDir, "bm25"),
			store.BM25Config{},
			cfg.Search.LexicalBackend,
		)
		if err != nil {
			_ = provider.Close()
			_ = vectors.Close()
			_ = metadata.Close()
			return nil, fmt.Errorf("open lexical index: %w", err)
		}
	}

	pID := projectID(root)
	coordinator := index.NewCoordinator(index.CoordinatorConfig{
		ProjectID: pID,
		RootPath:  root,
		DataDir:   dataDir,
		Engine:    indexer,
		Metadata:  metadata,
		CodeChunker: chunk.NewCodeChunkerWithOptions(chunk.CodeChunkerOptions{
			DedupLevel:     chunk.ParseDedupLevel(cfg.Chunk.DedupLevel),
			ParserPoolSize: cfg.Chunk.ParserPoolSize,
		}),
		MDChunker: chunk.NewMarkdownChunkerWithOptions(chunk.MarkdownChunkerOptions{
			DedupLevel: chunk.ParseDedupLevel(cfg.Chunk.DedupLevel),
		}),
		Scanner:         sc,
		ExcludePatterns: cfg.Paths.Exclude,
		BM25:            lexical,
	})

	queryEngine := query.NewEngine(vectors, pipeline, graphIndex)
	if lexical != nil {
		queryEngine.SetLexical(lexical)
	}

	return &engine{
		Root:        root,
		DataDir:     dataDir,
		ProjectID:   pID,
		Config:      cfg,
		Metadata:    metadata,
		Vectors:     vectors,
		Graph:       graphIndex,
		Provider:    provider,
		Pipeline:    pipeline,
		Scanner:     sc,
		Lexical:     lexical,
		Coordinator: coordinator,
		Query:       queryEngine,
	}, nil
}

// Close releases every resource openEngine acquired, in reverse order.
func (e *engine) Close() {
	if e.Lexical != nil {
		_ = e.Lexical.Close()
	}
	_ = e.Provider.Close()
	_ = e.Vectors.Close()
	_ = e.Metadata.Close()
}

// ensureProject upserts the project row so metadata FKs and stats have a
// parent to hang off.
func (e *engine) ensureProject(ctx context.Context) error {
	existing, err := e.Metadata.GetProject(ctx, e.ProjectID)
	if err != nil {
		return fmt.Errorf("look up project: %w", err)
	}
	if existing != nil {
		return nil
	}
	return e.Metadata.SaveProject(ctx, &store.Project{
		ID:       e.ProjectID,
		Name:     filepath.Base(e.Root),
		RootPath: e.Root,
		Version:  fmt.Sprintf("%d", store.CurrentSchemaVersion),
	})
}

// recordIndexState persists the embedder identity used for this index and,
// on the first run, when the index was created, so a later `info` command
// can report them and detect a dimension mismatch against a new embedder.
func (e *engine) recordIndexState(ctx context.Context) error {
	if err := e.Metadata.SetState(ctx, "embedder_model", e.Provider.ModelName()); err != nil {
		return fmt.Errorf("save embedder model state: %w", err)
	}
	if err := e.Metadata.SetState(ctx, "embedder_dimensions", fmt.Sprintf("%d", e.Provider.Dimensions())); err != nil {
		return fmt.Errorf("save embedder dimensions state: %w", err)
	}
	created, err := e.Metadata.GetState(ctx, "index_created_at")
	if err != nil {
		return fmt.Errorf("read index created_at state: %w", err)
	}
	if created == "" {
		if err := e.Metadata.SetState(ctx, "index_created_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("save index created_at state: %w", err)
		}
	}
	return nil
}

// scanPaths walks the project tree and returns the relative paths of every
// indexable file, mirroring the content-type filter the coordinator's own
// reconciliation scan applies.
func scanPaths(ctx context.Context, e *engine) ([]string, error) {
	resultChan, err := e.Scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          e.Root,
		ExcludePatterns:  e.Config.Paths.Exclude,
		RespectGitignore: true,
	})
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	var paths []string
	for result := range resultChan {
		if result.Error != nil || result.File == nil {
			continue
		}
		contentType := scanner.DetectContentType(result.File.Language)
		if contentType != scanner.ContentTypeCode && contentType != scanner.ContentTypeMarkdown {
			continue
		}
		paths = append(paths, result.File.Path)
	}
	return paths, nil
}
