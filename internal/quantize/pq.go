// Package quantize implements the compressors the persistent vector store
// uses to shrink embeddings on disk: product quantization (PQ) and scalar
// quantization (SQ).
package quantize

import (
	"math"

	cierrors "github.com/cigraph/cigraph/internal/errors"
)

// ProductQuantizer splits a vector into m equal subvectors and replaces
// each with the index of its nearest centroid in a per-subspace codebook
// of 2^nbits centroids, trained by k-means.
type ProductQuantizer struct {
	dimension int
	m         int
	dsub      int
	nbits     uint
	ksub      int
	centroids [][][]float32 // [m][ksub][dsub]
	trained   bool
}

// NewProductQuantizer builds an untrained quantizer for vectors of the
// given dimension, split into m subquantizers of nbits each. dimension
// must be evenly divisible by m.
func NewProductQuantizer(dimension, m int, nbits uint) (*ProductQuantizer, error) {
	if m <= 0 || dimension%m != 0 {
		return nil, cierrors.NewQuantizerState("dimension must be divisible by number of subquantizers")
	}

	dsub := dimension / m
	ksub := 1 << nbits

	centroids := make([][][]float32, m)
	for i := range centroids {
		centroids[i] = make([][]float32, ksub)
		for j := range centroids[i] {
			centroids[i][j] = make([]float32, dsub)
		}
	}

	return &ProductQuantizer{
		dimension: dimension,
		m:         m,
		dsub:      dsub,
		nbits:     nbits,
		ksub:      ksub,
		centroids: centroids,
	}, nil
}

// Trained reports whether Train has completed successfully.
func (pq *ProductQuantizer) Trained() bool { return pq.trained }

// Train fits each subquantizer's codebook independently via k-means over
// the corresponding slice of each training vector.
func (pq *ProductQuantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return cierrors.NewQuantizerState("cannot train on empty vector set")
	}
	if len(vectors[0]) != pq.m*pq.dsub {
		return cierrors.NewQuantizerState("vector dimension mismatch")
	}

	for sub := 0; sub < pq.m; sub++ {
		start := sub * pq.dsub
		end := start + pq.dsub

		subvectors := make([][]float32, len(vectors))
		for i, v := range vectors {
			subvectors[i] = v[start:end]
		}

		centroids, err := kmeansClustering(subvectors, pq.ksub)
		if err != nil {
			return err
		}
		pq.centroids[sub] = centroids
	}

	pq.trained = true
	return nil
}

// Encode maps vector to one centroid index per subquantizer.
func (pq *ProductQuantizer) Encode(vector []float32) ([]byte, error) {
	if !pq.trained {
		return nil, cierrors.NewQuantizerState("quantizer not trained")
	}

	codes := make([]byte, pq.m)
	for sub := 0; sub < pq.m; sub++ {
		start := sub * pq.dsub
		end := start + pq.dsub
		subvector := vector[start:end]

		bestIdx := 0
		bestDist := float32(math.Inf(1))
		for idx, centroid := range pq.centroids[sub] {
			dist := euclideanDistance(subvector, centroid)
			if dist < bestDist {
				bestDist = dist
				bestIdx = idx
			}
		}
		codes[sub] = byte(bestIdx)
	}
	return codes, nil
}

// Decode reconstructs an approximate vector from its per-subspace
// centroid codes.
func (pq *ProductQuantizer) Decode(codes []byte) ([]float32, error) {
	if !pq.trained {
		return nil, cierrors.NewQuantizerState("quantizer not trained")
	}
	if len(codes) != pq.m {
		return nil, cierrors.NewQuantizerState("invalid code length")
	}

	decoded := make([]float32, 0, pq.m*pq.dsub)
	for sub, code := range codes {
		idx := int(code)
		if idx >= pq.ksub {
			return nil, cierrors.NewQuantizerState("invalid centroid index")
		}
		decoded = append(decoded, pq.centroids[sub][idx]...)
	}
	return decoded, nil
}

// kmeansClustering runs Lloyd's algorithm for up to 50 iterations,
// stopping early once assignments stop changing. Centroids are seeded
// from the training vectors themselves (round-robin) rather than a
// random draw, matching the deterministic-enough seeding the store
// relies on for reproducible encode/decode across a reload.
func kmeansClustering(vectors [][]float32, k int) ([][]float32, error) {
	if len(vectors) == 0 || k == 0 {
		return nil, cierrors.NewQuantizerState("invalid clustering parameters")
	}

	dimension := len(vectors[0])
	centroids := make([][]float32, k)
	for i := 0; i < k; i++ {
		idx := i % len(vectors)
		centroids[i] = append([]float32(nil), vectors[idx]...)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < 50; iter++ {
		changed := false

		for vi, vector := range vectors {
			best := 0
			bestDist := float32(math.Inf(1))
			for ci, centroid := range centroids {
				dist := euclideanDistance(vector, centroid)
				if dist < bestDist {
					bestDist = dist
					best = ci
				}
			}
			if assignments[vi] != best {
				changed = true
			}
			assignments[vi] = best
		}

		sums := make([][]float32, k)
		counts := make([]int, k)
		for ci := range sums {
			sums[ci] = make([]float32, dimension)
		}
		for vi, vector := range vectors {
			ci := assignments[vi]
			counts[ci]++
			for d, val := range vector {
				sums[ci][d] += val
			}
		}
		for ci := 0; ci < k; ci++ {
			if counts[ci] == 0 {
				continue
			}
			for d := range sums[ci] {
				centroids[ci][d] = sums[ci][d] / float32(counts[ci])
			}
		}

		if !changed {
			break
		}
	}

	return centroids, nil
}

func euclideanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}
