package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cigraph/cigraph/internal/hashutil"
)

// SymbolChangeSet reports how a file's top-level symbols differ from the
// previous time it was indexed, keyed by each symbol body's leading line
// (hashutil.HashSymbolBodies' natural key).
type SymbolChangeSet struct {
	Path     string   `json:"path"`
	Added    []string `json:"added,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Removed  []string `json:"removed,omitempty"`
}

func symbolHashesStateKey(fileID string) string {
	return "symbol_hashes:" + fileID
}

func symbolChangesStateKey(fileID string) string {
	return "last_symbol_changes:" + fileID
}

// recordSymbolDiff compares normalized's top-level symbol bodies against the
// hashes saved for fileID the last time it was indexed, persists both the
// new hash map and the resulting diff to the state store, and returns the
// diff. Called once per successful (non-skipped) reindex.
func (c *Coordinator) recordSymbolDiff(ctx context.Context, fileID, relPath, normalized string) (*SymbolChangeSet, error) {
	newHashes := hashutil.HashSymbolBodies(normalized)

	var oldHashes map[string]string
	raw, err := c.config.Metadata.GetState(ctx, symbolHashesStateKey(fileID))
	if err != nil {
		return nil, fmt.Errorf("load previous symbol hashes: %w", err)
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &oldHashes); err != nil {
			return nil, fmt.Errorf("decode previous symbol hashes: %w", err)
		}
	}

	diff := &SymbolChangeSet{Path: relPath}
	for sym, hash := range newHashes {
		oldHash, existed := oldHashes[sym]
		switch {
		case !existed:
			diff.Added = append(diff.Added, sym)
		case oldHash != hash:
			diff.Modified = append(diff.Modified, sym)
		}
	}
	for sym := range oldHashes {
		if _, stillPresent := newHashes[sym]; !stillPresent {
			diff.Removed = append(diff.Removed, sym)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Modified)
	sort.Strings(diff.Removed)

	encodedHashes, err := json.Marshal(newHashes)
	if err != nil {
		return nil, fmt.Errorf("encode symbol hashes: %w", err)
	}
	if err := c.config.Metadata.SetState(ctx, symbolHashesStateKey(fileID), string(encodedHashes)); err != nil {
		return nil, fmt.Errorf("save symbol hashes: %w", err)
	}

	encodedDiff, err := json.Marshal(diff)
	if err != nil {
		return nil, fmt.Errorf("encode symbol diff: %w", err)
	}
	if err := c.config.Metadata.SetState(ctx, symbolChangesStateKey(fileID), string(encodedDiff)); err != nil {
		return nil, fmt.Errorf("save symbol diff: %w", err)
	}

	return diff, nil
}

// LastSymbolChanges returns the added/modified/removed top-level symbols
// recorded the last time relPath was indexed, or nil if the file has never
// been indexed (or has no detectable symbol bodies).
func (c *Coordinator) LastSymbolChanges(ctx context.Context, relPath string) (*SymbolChangeSet, error) {
	fileID := generateFileID(c.config.ProjectID, relPath)
	raw, err := c.config.Metadata.GetState(ctx, symbolChangesStateKey(fileID))
	if err != nil {
		return nil, fmt.Errorf("load symbol diff: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var diff SymbolChangeSet
	if err := json.Unmarshal([]byte(raw), &diff); err != nil {
		return nil, fmt.Errorf("decode symbol diff: %w", err)
	}
	return &diff, nil
}
