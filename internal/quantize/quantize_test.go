package quantize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVectors() [][]float32 {
	return [][]float32{
		{0, 0, 10, 10},
		{1, 1, 11, 11},
		{0, 1, 10, 9},
		{100, 100, -5, -6},
		{101, 99, -4, -5},
		{99, 100, -6, -4},
	}
}

func TestNewProductQuantizer_RejectsIndivisibleDimension(t *testing.T) {
	_, err := NewProductQuantizer(10, 3, 4)
	assert.Error(t, err)
}

func TestProductQuantizer_EncodeBeforeTrainFails(t *testing.T) {
	pq, err := NewProductQuantizer(4, 2, 4)
	require.NoError(t, err)

	_, err = pq.Encode([]float32{1, 2, 3, 4})
	assert.Error(t, err)
}

func TestProductQuantizer_TrainEncodeDecodeRoundTrip(t *testing.T) {
	pq, err := NewProductQuantizer(4, 2, 4)
	require.NoError(t, err)

	require.NoError(t, pq.Train(sampleVectors()))
	assert.True(t, pq.Trained())

	codes, err := pq.Encode([]float32{1, 1, 11, 11})
	require.NoError(t, err)
	assert.Len(t, codes, 2)

	decoded, err := pq.Decode(codes)
	require.NoError(t, err)
	assert.Len(t, decoded, 4)

	// Reconstruction should land near one of the trained clusters, not an
	// arbitrary point — each dimension within a reasonable band of the
	// cluster it was drawn from.
	assert.InDelta(t, 1.0, decoded[0], 5.0)
	assert.InDelta(t, 11.0, decoded[2], 5.0)
}

func TestProductQuantizer_DecodeRejectsWrongCodeLength(t *testing.T) {
	pq, err := NewProductQuantizer(4, 2, 4)
	require.NoError(t, err)
	require.NoError(t, pq.Train(sampleVectors()))

	_, err = pq.Decode([]byte{0})
	assert.Error(t, err)
}

func TestScalarQuantizer_UniformRoundTrip(t *testing.T) {
	sq := NewScalarQuantizer(4, 8, true)
	require.NoError(t, sq.Train(sampleVectors()))
	assert.True(t, sq.Trained())

	encoded, err := sq.Encode([]float32{1, 1, 11, 11})
	require.NoError(t, err)
	assert.Len(t, encoded, 4)

	decoded, err := sq.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 4)
	for i, v := range []float32{1, 1, 11, 11} {
		assert.InDelta(t, v, decoded[i], 3.0)
	}
}

func TestScalarQuantizer_NonUniformPerDimension(t *testing.T) {
	sq := NewScalarQuantizer(4, 8, false)
	require.NoError(t, sq.Train(sampleVectors()))

	encoded, err := sq.Encode([]float32{100, 100, -5, -6})
	require.NoError(t, err)

	decoded, err := sq.Decode(encoded)
	require.NoError(t, err)
	for i, v := range []float32{100, 100, -5, -6} {
		assert.InDelta(t, v, decoded[i], 3.0)
	}
}

func TestScalarQuantizer_EncodeBeforeTrainFails(t *testing.T) {
	sq := NewScalarQuantizer(4, 8, true)
	_, err := sq.Encode([]float32{1, 2, 3, 4})
	assert.Error(t, err)
}

func TestScalarQuantizer_DecodeRejectsShortBuffer(t *testing.T) {
	sq := NewScalarQuantizer(4, 16, true)
	require.NoError(t, sq.Train(sampleVectors()))

	_, err := sq.Decode([]byte{0, 1})
	assert.Error(t, err)
}
