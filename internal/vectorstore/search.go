package vectorstore

import (
	"context"
	"math"
	"os"
	"sort"

	cierrors "github.com/cigraph/cigraph/internal/errors"
)

// reconstructLocked returns the (possibly decompressed) vector for a
// metadata entry, reading its actual bytes from the in-memory vector-data
// section — never a placeholder. Caller must hold s.mu for reading.
func (s *Store) reconstructLocked(meta VectorMetadata) ([]float32, error) {
	end := meta.Offset + uint64(meta.CompressedSize)
	if end > uint64(len(s.vectorData)) {
		return nil, cierrors.NewStorageIntegrity("vector data section truncated", nil).
			WithDetail("node_id", meta.NodeID)
	}
	raw := s.vectorData[meta.Offset:end]

	if !meta.Compressed {
		return bytesToFloats(raw, s.header.Dimension), nil
	}

	switch s.header.Compression.Kind {
	case CompressionPQ:
		if s.pq == nil {
			return nil, cierrors.NewStorageIntegrity("compressed vector but no PQ quantizer loaded", nil)
		}
		return s.pq.Decode(raw)
	case CompressionSQ:
		if s.sq == nil {
			return nil, cierrors.NewStorageIntegrity("compressed vector but no SQ quantizer loaded", nil)
		}
		return s.sq.Decode(raw)
	default:
		return nil, cierrors.NewStorageIntegrity("compressed vector but compression kind is None", nil)
	}
}

// GetEmbedding returns the stored vector for nodeID, decompressing it if
// necessary, or false if no vector is stored for that node.
func (s *Store) GetEmbedding(ctx context.Context, nodeID string) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metadata[nodeID]
	if !ok {
		return nil, false, nil
	}
	vec, err := s.reconstructLocked(meta)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// SearchSimilar performs a real brute-force cosine similarity scan over
// every active (non-deleted) metadata entry against query, returning up
// to k node ids ordered by descending similarity.
func (s *Store) SearchSimilar(ctx context.Context, query []float32, k int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(query) != s.header.Dimension {
		return nil, cierrors.NewStorageIntegrity("query embedding dimension mismatch", nil).
			WithDetail("got", len(query)).WithDetail("want", s.header.Dimension)
	}
	if len(s.metadata) == 0 {
		return nil, nil
	}

	queryNorm := float32(0)
	for _, v := range query {
		queryNorm += v * v
	}
	queryNorm = float32(math.Sqrt(float64(queryNorm)))

	type scored struct {
		id    string
		score float32
	}
	results := make([]scored, 0, len(s.metadata))

	for nodeID, meta := range s.metadata {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		vec, err := s.reconstructLocked(meta)
		if err != nil {
			return nil, err
		}

		var dot float32
		for i, v := range query {
			dot += v * vec[i]
		}
		denom := queryNorm * meta.Norm
		var similarity float32
		if denom != 0 {
			similarity = dot / denom
		}
		results = append(results, scored{id: nodeID, score: similarity})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.id
	}
	return ids, nil
}

// Stats reports the store's current size and compression summary.
func (s *Store) Stats() (StorageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(s.storagePath)
	var size int64
	if err == nil {
		size = info.Size()
	}

	compressedCount := 0
	var totalCompressedSize int
	for _, meta := range s.metadata {
		if meta.Compressed {
			compressedCount++
			totalCompressedSize += meta.CompressedSize
		}
	}

	ratio := 1.0
	if compressedCount > 0 && totalCompressedSize > 0 {
		originalSize := s.header.Dimension * 4 * compressedCount
		ratio = float64(originalSize) / float64(totalCompressedSize)
	}

	return StorageStats{
		TotalVectors:       s.header.VectorCount,
		ActiveVectors:      len(s.metadata),
		StorageSizeBytes:   size,
		CompressedVectors:  compressedCount,
		CompressionRatio:   ratio,
		Dimension:          s.header.Dimension,
		LastModifiedUnix:   s.header.LastModifiedUnix,
		IncrementalEnabled: s.header.IncrementalEnabled,
	}, nil
}
