package watcher

import (
	"path/filepath"
	"sync"
)

// fileRecord is what the reverse-dependency index keeps per tracked file.
type fileRecord struct {
	imports []string // resolved local paths this file depends on
}

// FileIndex tracks the set of watched files and a reverse-dependency map
// so that a change to one file can cascade to everything that imports it.
// It mirrors the "files"/"rev" pair in its own right: files maps a path to
// what it depends on, rev maps a path to what depends on it.
type FileIndex struct {
	mu    sync.RWMutex
	files map[string]fileRecord
	rev   map[string]map[string]bool
}

// NewFileIndex creates an empty reverse-dependency index.
func NewFileIndex() *FileIndex {
	return &FileIndex{
		files: make(map[string]fileRecord),
		rev:   make(map[string]map[string]bool),
	}
}

// Update replaces the entry for path with the given resolved dependencies,
// updating the reverse map with entry-level replacement: stale reverse
// links from the old dependency set are removed before the new ones are
// added, so dropped imports stop producing cascades.
func (idx *FileIndex) Update(path string, resolvedDeps []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.files[path]; ok {
		for _, dep := range old.imports {
			if set := idx.rev[dep]; set != nil {
				delete(set, path)
				if len(set) == 0 {
					delete(idx.rev, dep)
				}
			}
		}
	}

	idx.files[path] = fileRecord{imports: resolvedDeps}
	for _, dep := range resolvedDeps {
		if idx.rev[dep] == nil {
			idx.rev[dep] = make(map[string]bool)
		}
		idx.rev[dep][path] = true
	}
}

// Remove deletes path from the index entirely, clearing both its forward
// dependency links and any reverse links pointing at it. Reverse
// dependents of the removed file are returned so the caller can mark them
// for reprocessing.
func (idx *FileIndex) Remove(path string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.files[path]; ok {
		for _, dep := range old.imports {
			if set := idx.rev[dep]; set != nil {
				delete(set, path)
				if len(set) == 0 {
					delete(idx.rev, dep)
				}
			}
		}
		delete(idx.files, path)
	}

	dependents := idx.rev[path]
	delete(idx.rev, path)

	out := make([]string, 0, len(dependents))
	for dep := range dependents {
		out = append(out, dep)
	}
	return out
}

// Dependents returns the files that directly import path.
func (idx *FileIndex) Dependents(path string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	set := idx.rev[path]
	out := make([]string, 0, len(set))
	for dep := range set {
		out = append(out, dep)
	}
	return out
}

// ReconcileResult is the outcome of processing one flushed, debounced
// batch of file events.
type ReconcileResult struct {
	// Reprocess is every path that must be re-hashed, re-chunked, and
	// re-embedded: directly touched files plus their cascaded dependents.
	Reprocess []string
	// Removed is every path that must be purged from the store.
	Removed []string
	// GitignoreChanged is true if a .gitignore file changed, meaning the
	// caller should run a full reconciliation scan in addition to the
	// cascade above.
	GitignoreChanged bool
	// ConfigChanged is true if the project config file changed.
	ConfigChanged bool
}

// Reconcile implements the flushed-event processing algorithm:
//  1. Partition the batch into creates/modifies, deletes, and special events.
//  2. For each delete, remove it from the index and collect its dependents.
//  3. For each create/modify, read and extract imports (best effort; a read
//     failure just means the file contributes no forward edges this round).
//  4. Resolve each import specifier against the known file set.
//  5. Update the forward/reverse index entries for the touched file.
//  6. Union directly touched files with their immediate dependents.
//  7. Special-case .gitignore and config-file events into result flags
//     rather than the reprocess set.
//  8. Deduplicate and return.
func Reconcile(idx *FileIndex, batch []FileEvent, readFile func(path string) ([]byte, error)) ReconcileResult {
	var result ReconcileResult
	touched := make(map[string]bool)
	removed := make(map[string]bool)

	for _, ev := range batch {
		switch ev.Operation {
		case OpGitignoreChange:
			result.GitignoreChanged = true
			continue
		case OpConfigChange:
			result.ConfigChanged = true
			continue
		}

		if ev.IsDir {
			continue
		}

		switch ev.Operation {
		case OpDelete:
			for _, dep := range idx.Remove(ev.Path) {
				touched[dep] = true
			}
			removed[ev.Path] = true
			delete(touched, ev.Path)

		case OpCreate, OpModify, OpRename:
			touched[ev.Path] = true
			if readFile == nil {
				continue
			}
			content, err := readFile(ev.Path)
			if err != nil {
				idx.Update(ev.Path, nil)
				continue
			}
			resolved := resolveLocalImports(ev.Path, ExtractImports(ev.Path, content))
			idx.Update(ev.Path, resolved)
			for _, dep := range idx.Dependents(ev.Path) {
				touched[dep] = true
			}
		}
	}

	result.Reprocess = make([]string, 0, len(touched))
	for path := range touched {
		if !removed[path] {
			result.Reprocess = append(result.Reprocess, path)
		}
	}
	result.Removed = make([]string, 0, len(removed))
	for path := range removed {
		result.Removed = append(result.Removed, path)
	}
	return result
}

// resolveLocalImports converts raw specifiers into candidate local paths
// and keeps only those that look like project-relative files (i.e. began
// with "." in the source). Existence against the tracked file set is
// intentionally not checked here — Update/Dependents tolerate edges to
// paths that are not (yet) indexed, since a dependency's watcher event may
// arrive before or after the dependent's.
func resolveLocalImports(fromPath string, specs []string) []string {
	var out []string
	for _, spec := range specs {
		resolved := ResolveImport(fromPath, spec, defaultResolutionExts)
		if resolved != "" {
			out = append(out, filepath.ToSlash(resolved))
		}
	}
	return out
}
