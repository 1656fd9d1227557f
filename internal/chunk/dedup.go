package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/cigraph/cigraph/internal/hashutil"
)

// DedupLevel selects how aggressively chunk text is normalized before
// computing its dedup hash. Higher levels fold more near-duplicates
// together at the cost of losing more surface detail from the embedded
// text (the dedup hash is used only for duplicate detection, never for
// the text actually sent to the embedding provider).
type DedupLevel string

const (
	// DedupNone hashes the raw chunk content verbatim.
	DedupNone DedupLevel = "none"
	// DedupBasic trims surrounding whitespace and collapses blank lines.
	DedupBasic DedupLevel = "basic"
	// DedupStandard additionally strips comments and collapses internal
	// whitespace runs, via hashutil's source normalization.
	DedupStandard DedupLevel = "standard"
	// DedupAggressive additionally normalizes identifier-adjacent
	// punctuation and lowercases, catching near-duplicates that differ
	// only in naming convention or casing.
	DedupAggressive DedupLevel = "aggressive"
)

// ParseDedupLevel parses a config string into a DedupLevel, defaulting to
// DedupStandard for an unrecognized or empty value.
func ParseDedupLevel(s string) DedupLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return DedupNone
	case "basic":
		return DedupBasic
	case "aggressive":
		return DedupAggressive
	case "standard", "":
		return DedupStandard
	default:
		return DedupStandard
	}
}

var blankLineRun = regexp.MustCompile(`\n{2,}`)
var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeForDedup reduces a chunk's raw content to canonical text at the
// given level, for hashing only.
func NormalizeForDedup(content, language string, level DedupLevel) string {
	switch level {
	case DedupNone:
		return content
	case DedupBasic:
		return collapseBlankLines(strings.TrimSpace(content))
	case DedupAggressive:
		family := hashutil.FamilyForLanguage(language)
		normalized := hashutil.NormalizeSource(content, family)
		return aggressiveFold(normalized)
	default: // DedupStandard
		family := hashutil.FamilyForLanguage(language)
		return hashutil.NormalizeSource(content, family)
	}
}

func collapseBlankLines(s string) string {
	return blankLineRun.ReplaceAllString(s, "\n")
}

// aggressiveFold lowercases and collapses runs of non-alphanumeric
// characters to a single separator, so chunks differing only in
// whitespace style, punctuation, or identifier casing collide.
func aggressiveFold(s string) string {
	lower := strings.ToLower(s)
	return strings.Trim(nonAlnumRun.ReplaceAllString(lower, "_"), "_")
}

// DedupHash returns the SHA-256 hex digest of the chunk's content
// normalized at level, suitable as a key for duplicate detection.
func DedupHash(content, language string, level DedupLevel) string {
	normalized := NormalizeForDedup(content, language, level)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Deduplicate filters chunks, keeping the first occurrence of each dedup
// hash and dropping subsequent duplicates. Order is preserved.
func Deduplicate(chunks []*Chunk, level DedupLevel) []*Chunk {
	if level == DedupNone {
		return chunks
	}
	seen := make(map[string]bool, len(chunks))
	out := make([]*Chunk, 0, len(chunks))
	for _, c := range chunks {
		key := DedupHash(c.RawContent, c.Language, level)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
