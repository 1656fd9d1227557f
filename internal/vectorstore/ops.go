package vectorstore

import (
	"context"
	"math"
	"time"

	cierrors "github.com/cigraph/cigraph/internal/errors"
	"github.com/cigraph/cigraph/internal/graph"
	"github.com/cigraph/cigraph/internal/quantize"
)

// EnableProductQuantization turns on PQ compression for subsequently
// stored vectors; it does not retroactively recompress existing ones.
func (s *Store) EnableProductQuantization(m int, nbits uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pq, err := quantize.NewProductQuantizer(s.header.Dimension, m, nbits)
	if err != nil {
		return err
	}
	s.pq = pq
	s.sq = nil
	s.header.Compression = CompressionTag{Kind: CompressionPQ, M: m, NBits: nbits}
	return nil
}

// EnableScalarQuantization turns on SQ compression for subsequently stored
// vectors.
func (s *Store) EnableScalarQuantization(nbits uint, uniform bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sq = quantize.NewScalarQuantizer(s.header.Dimension, nbits, uniform)
	s.pq = nil
	s.header.Compression = CompressionTag{Kind: CompressionSQ, NBits: nbits, Uniform: uniform}
	return nil
}

// TrainQuantizers fits whichever compressor is currently enabled on a
// representative sample, so encoding subsequent vectors doesn't have to
// wait on the first store_embeddings call to gather a training set.
func (s *Store) TrainQuantizers(_ context.Context, sample [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sample) == 0 {
		return cierrors.NewConfiguration("no vectors provided for training", nil)
	}
	if s.pq != nil {
		if err := s.pq.Train(sample); err != nil {
			return err
		}
	}
	if s.sq != nil {
		if err := s.sq.Train(sample); err != nil {
			return err
		}
	}
	return nil
}

// StoreEmbeddings gathers (node id, vector) pairs from nodes that carry an
// embedding, trains the active quantizer on this sample if not already
// trained, stores each vector, appends an Insert entry to the update log,
// and persists.
func (s *Store) StoreEmbeddings(ctx context.Context, nodes []graph.CodeNode) error {
	pairs := make([]struct {
		id  string
		vec []float32
	}, 0, len(nodes))
	for _, n := range nodes {
		if len(n.Embedding) > 0 {
			pairs = append(pairs, struct {
				id  string
				vec []float32
			}{id: n.ID, vec: n.Embedding})
		}
	}
	if len(pairs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cierrors.NewStorageIO("store is closed", nil)
	}

	sample := make([][]float32, len(pairs))
	for i, p := range pairs {
		sample[i] = p.vec
	}
	if err := s.trainIfUntrainedLocked(sample); err != nil {
		return err
	}

	for _, p := range pairs {
		if len(p.vec) != s.header.Dimension {
			return cierrors.NewStorageIntegrity("embedding dimension mismatch", nil).
				WithDetail("node_id", p.id).
				WithDetail("got", len(p.vec)).
				WithDetail("want", s.header.Dimension)
		}

		vectorID, err := s.storeSingleVectorLocked(p.id, p.vec)
		if err != nil {
			return err
		}

		s.updateLog = append(s.updateLog, UpdateLogEntry{
			Operation:  OpInsert,
			NodeID:     p.id,
			VectorID:   &vectorID,
			Timestamp:  time.Now().Unix(),
			VectorData: p.vec,
		})
	}

	return s.saveToDiskLocked()
}

func (s *Store) trainIfUntrainedLocked(sample [][]float32) error {
	if s.pq != nil && !s.pq.Trained() {
		if err := s.pq.Train(sample); err != nil {
			return err
		}
	}
	if s.sq != nil && !s.sq.Trained() {
		if err := s.sq.Train(sample); err != nil {
			return err
		}
	}
	return nil
}

// storeSingleVectorLocked assigns the next vector id, compresses (if a
// trained quantizer is active), appends the bytes to the vector-data
// section, and records metadata. Caller must hold s.mu.
func (s *Store) storeSingleVectorLocked(nodeID string, vector []float32) (uint64, error) {
	vectorID := s.nextVectorID
	s.nextVectorID++

	norm := float32(0)
	for _, v := range vector {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))

	var encoded []byte
	var compressed bool
	switch {
	case s.pq != nil && s.pq.Trained():
		enc, err := s.pq.Encode(vector)
		if err != nil {
			return 0, err
		}
		encoded = enc
		compressed = true
	case s.sq != nil && s.sq.Trained():
		enc, err := s.sq.Encode(vector)
		if err != nil {
			return 0, err
		}
		encoded = enc
		compressed = true
	default:
		encoded = floatsToBytes(vector)
		compressed = false
	}

	offset := uint64(len(s.vectorData))
	s.vectorData = append(s.vectorData, encoded...)

	// Storing a vector for a node that already has one replaces it in
	// metadata (entry-level replacement); the old bytes stay in the data
	// section as unreachable padding until the next compaction-on-save —
	// acceptable since the store never shrinks the file on write.
	s.metadata[nodeID] = VectorMetadata{
		NodeID:         nodeID,
		VectorID:       vectorID,
		Timestamp:      time.Now().Unix(),
		Norm:           norm,
		Compressed:     compressed,
		CompressedSize: len(encoded),
		Offset:         offset,
	}
	s.vectorIDToNode[vectorID] = nodeID

	return vectorID, nil
}

// deleteSingleVectorLocked removes a node's metadata entry; the bytes it
// pointed to are not reclaimed until the next full rewrite. Caller must
// hold s.mu.
func (s *Store) deleteSingleVectorLocked(nodeID string) {
	meta, ok := s.metadata[nodeID]
	if !ok {
		return
	}
	delete(s.metadata, nodeID)
	delete(s.vectorIDToNode, meta.VectorID)
}

// Delete removes a node's vector and appends a Delete entry to the update
// log, then persists.
func (s *Store) Delete(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cierrors.NewStorageIO("store is closed", nil)
	}

	s.deleteSingleVectorLocked(nodeID)
	s.updateLog = append(s.updateLog, UpdateLogEntry{
		Operation: OpDelete,
		NodeID:    nodeID,
		Timestamp: time.Now().Unix(),
	})
	return s.saveToDiskLocked()
}

// ApplyIncrementalUpdates drains the update log in insertion order,
// applying each entry, then truncates the log. Used when a reload found a
// non-empty log from a prior process that crashed before clearing it.
func (s *Store) ApplyIncrementalUpdates(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.updateLog) == 0 {
		return nil
	}

	entries := s.updateLog
	for _, entry := range entries {
		switch entry.Operation {
		case OpInsert, OpUpdate:
			if entry.VectorData != nil {
				if _, err := s.storeSingleVectorLocked(entry.NodeID, entry.VectorData); err != nil {
					return err
				}
			}
		case OpDelete:
			s.deleteSingleVectorLocked(entry.NodeID)
		}
	}

	s.updateLog = nil
	return s.saveToDiskLocked()
}
