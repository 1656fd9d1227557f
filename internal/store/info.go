package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EmbedderInfoInput carries the current embedder's identity into
// GetIndexInfo so it can be compared against what the index was built
// with, without internal/store importing internal/embed.
type EmbedderInfoInput struct {
	Model      string
	Backend    string
	Dimensions int
}

// GetIndexInfo assembles an IndexInfo snapshot: the embedding
// configuration and statistics recorded in the metadata store, the size
// on disk of the index's component files, and (when current is
// non-nil) a compatibility check against the embedder that would be
// used for a reindex.
func GetIndexInfo(ctx context.Context, metadata *SQLiteStore, projectID, dataDir string, current *EmbedderInfoInput) (*IndexInfo, error) {
	indexModel, err := metadata.GetState(ctx, "embedder_model")
	if err != nil {
		return nil, fmt.Errorf("read embedder model state: %w", err)
	}
	dimStr, err := metadata.GetState(ctx, "embedder_dimensions")
	if err != nil {
		return nil, fmt.Errorf("read embedder dimensions state: %w", err)
	}
	createdStr, err := metadata.GetState(ctx, "index_created_at")
	if err != nil {
		return nil, fmt.Errorf("read index created_at state: %w", err)
	}

	project, err := metadata.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("read project stats: %w", err)
	}

	info := &IndexInfo{
		Location:        dataDir,
		IndexModel:      indexModel,
		IndexBackend:    inferBackendFromModel(indexModel),
		IndexDimensions: parseIntOrZero(dimStr),
		BM25SizeBytes:   getDirSize(filepath.Join(dataDir, "bm25")),
		VectorSizeBytes: getFileSize(filepath.Join(dataDir, "vectors.db")),
	}
	if project != nil {
		info.ChunkCount = project.ChunkCount
		info.DocumentCount = project.FileCount
	}
	info.IndexSizeBytes = info.BM25SizeBytes + info.VectorSizeBytes + getFileSize(filepath.Join(dataDir, "metadata.db"))

	if createdStr != "" {
		if t, err := time.Parse(time.RFC3339, createdStr); err == nil {
			info.CreatedAt = t
		}
	}
	if fi, err := os.Stat(filepath.Join(dataDir, "metadata.db")); err == nil {
		info.UpdatedAt = fi.ModTime()
	}

	if current != nil {
		info.CurrentModel = current.Model
		info.CurrentBackend = current.Backend
		info.CurrentDimensions = current.Dimensions
		info.Compatible = info.IndexDimensions == 0 || info.IndexDimensions == current.Dimensions
	}

	return info, nil
}

func parseIntOrZero(s string) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0
	}
	return n
}

// FormatBytes renders a byte count using binary (1024-based) units.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatTime renders t for display, or "unknown" for the zero value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// containsAny reports whether s contains any of substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses which embedding backend a model name
// belongs to, for display when an index predates backend tracking.
// Absolute filesystem paths and mlx-style names are reported as "mlx",
// bare "static"-prefixed names as "static", and everything else defaults
// to "ollama" (the backend used for every off-the-shelf model name).
func inferBackendFromModel(model string) string {
	switch {
	case strings.HasPrefix(model, "static"):
		return "static"
	case filepath.IsAbs(model), containsAny(model, []string{"mlx-community/", "mlx-"}):
		return "mlx"
	default:
		return "ollama"
	}
}

// getFileSize returns the size of path, or 0 if it doesn't exist.
func getFileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// getDirSize returns the total size of every regular file under path,
// recursing into subdirectories. A missing or unreadable path reports 0
// rather than erroring, since this is purely informational.
func getDirSize(path string) int64 {
	var total int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
