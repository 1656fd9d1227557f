package quantize

import (
	"encoding/binary"
	"math"

	cierrors "github.com/cigraph/cigraph/internal/errors"
)

// ScalarQuantizer maps each float32 dimension onto an nbits integer range
// using either one global (scale, bias) pair (uniform) or one pair per
// dimension.
type ScalarQuantizer struct {
	dimension int
	nbits     uint
	uniform   bool
	scales    []float32
	biases    []float32
	trained   bool
}

// NewScalarQuantizer builds an untrained quantizer for vectors of the
// given dimension.
func NewScalarQuantizer(dimension int, nbits uint, uniform bool) *ScalarQuantizer {
	scales := make([]float32, dimension)
	biases := make([]float32, dimension)
	for i := range scales {
		scales[i] = 1.0
	}
	return &ScalarQuantizer{
		dimension: dimension,
		nbits:     nbits,
		uniform:   uniform,
		scales:    scales,
		biases:    biases,
	}
}

// Trained reports whether Train has completed successfully.
func (sq *ScalarQuantizer) Trained() bool { return sq.trained }

// Train calibrates (scale, bias) per dimension — or one shared pair
// across all dimensions when uniform — from the observed min/max of a
// sample of vectors.
func (sq *ScalarQuantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return cierrors.NewQuantizerState("cannot train on empty vector set")
	}

	dimension := len(vectors[0])
	sq.scales = make([]float32, dimension)
	sq.biases = make([]float32, dimension)
	levels := float32(int(1) << sq.nbits)

	if sq.uniform {
		globalMin := float32(math.Inf(1))
		globalMax := float32(math.Inf(-1))
		for _, v := range vectors {
			for _, val := range v {
				if val < globalMin {
					globalMin = val
				}
				if val > globalMax {
					globalMax = val
				}
			}
		}
		rangeVal := globalMax - globalMin
		scale := float32(1.0)
		if rangeVal > 0 {
			scale = levels / rangeVal
		}
		for i := 0; i < dimension; i++ {
			sq.scales[i] = scale
			sq.biases[i] = globalMin
		}
	} else {
		for dim := 0; dim < dimension; dim++ {
			dimMin := float32(math.Inf(1))
			dimMax := float32(math.Inf(-1))
			for _, v := range vectors {
				val := v[dim]
				if val < dimMin {
					dimMin = val
				}
				if val > dimMax {
					dimMax = val
				}
			}
			rangeVal := dimMax - dimMin
			sq.scales[dim] = 1.0
			sq.biases[dim] = 0.0
			if rangeVal > 0 {
				sq.scales[dim] = levels / rangeVal
				sq.biases[dim] = dimMin
			}
		}
	}

	sq.trained = true
	return nil
}

func (sq *ScalarQuantizer) bytesPerVal() int {
	switch sq.nbits {
	case 8:
		return 1
	case 16:
		return 2
	default:
		return 4
	}
}

// Encode quantizes vector as q = round(clip((x - bias) * scale, 0, 2^nbits - 1))
// per dimension, packed little-endian at nbits' natural byte width.
func (sq *ScalarQuantizer) Encode(vector []float32) ([]byte, error) {
	if !sq.trained {
		return nil, cierrors.NewQuantizerState("quantizer not trained")
	}

	maxVal := float32((int(1) << sq.nbits) - 1)
	encoded := make([]byte, 0, len(vector)*sq.bytesPerVal())

	for i, val := range vector {
		normalized := (val - sq.biases[i]) * sq.scales[i]
		if normalized < 0 {
			normalized = 0
		}
		if normalized > maxVal {
			normalized = maxVal
		}
		quantized := uint32(math.Round(float64(normalized)))

		switch sq.nbits {
		case 8:
			encoded = append(encoded, byte(quantized))
		case 16:
			var buf [2]byte
			binary.LittleEndian.PutUint16(buf[:], uint16(quantized))
			encoded = append(encoded, buf[:]...)
		default:
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], quantized)
			encoded = append(encoded, buf[:]...)
		}
	}
	return encoded, nil
}

// Decode reconstructs an approximate vector: x = q / scale + bias.
func (sq *ScalarQuantizer) Decode(encoded []byte) ([]float32, error) {
	if !sq.trained {
		return nil, cierrors.NewQuantizerState("quantizer not trained")
	}

	dimension := len(sq.scales)
	decoded := make([]float32, 0, dimension)
	bytesPerVal := sq.bytesPerVal()

	for i := 0; i < dimension; i++ {
		start := i * bytesPerVal
		if start+bytesPerVal > len(encoded) {
			return nil, cierrors.NewQuantizerState("insufficient encoded data")
		}

		var quantized uint32
		switch sq.nbits {
		case 8:
			quantized = uint32(encoded[start])
		case 16:
			quantized = uint32(binary.LittleEndian.Uint16(encoded[start : start+2]))
		default:
			quantized = binary.LittleEndian.Uint32(encoded[start : start+4])
		}

		decoded = append(decoded, float32(quantized)/sq.scales[i]+sq.biases[i])
	}
	return decoded, nil
}
