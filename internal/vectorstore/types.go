// Package vectorstore implements the engine's persistent vector store: a
// single data file (header, vector data, metadata) with a sibling
// append-only update log, atomic saves, and timestamped backups.
package vectorstore

import (
	"encoding/binary"
	"math"
)

// storageVersion is the only format version this store understands; a
// header with a different version fails load outright.
const storageVersion uint32 = 1

// CompressionKind names which compressor, if any, encoded a vector.
type CompressionKind string

const (
	CompressionNone CompressionKind = "None"
	CompressionPQ   CompressionKind = "PQ"
	CompressionSQ   CompressionKind = "SQ"
)

// CompressionTag records which compressor is active for the store and its
// parameters, persisted in the header so a reload knows how to decode.
type CompressionTag struct {
	Kind    CompressionKind
	M       int
	NBits   uint
	Uniform bool
}

// StorageHeader is the fixed, versioned schema at the front of the data
// file.
type StorageHeader struct {
	Version            uint32
	Dimension          int
	VectorCount        uint64
	VectorsOffset      uint64
	MetadataOffset     uint64
	IndexMappingOffset uint64
	LastModifiedUnix   int64
	Checksum           uint64
	Compression        CompressionTag
	IncrementalEnabled bool
}

// VectorMetadata describes one stored vector. Offset/Length are not named
// in the wire-format description of node_id/vector_id/timestamp/norm/
// compressed/compressed_size, but are required to actually locate the
// vector's bytes within the data section for a real (non-placeholder)
// read — see the persistent store's search_similar and get_embedding.
type VectorMetadata struct {
	NodeID         string
	VectorID       uint64
	Timestamp      int64
	Norm           float32
	Compressed     bool
	CompressedSize int
	Offset         uint64
}

// UpdateOperation names one kind of incremental log entry.
type UpdateOperation string

const (
	OpInsert UpdateOperation = "Insert"
	OpUpdate UpdateOperation = "Update"
	OpDelete UpdateOperation = "Delete"
)

// UpdateLogEntry is one append-only record in the sibling log file,
// replayed on load and cleared after a successful save.
type UpdateLogEntry struct {
	Operation  UpdateOperation
	NodeID     string
	VectorID   *uint64
	Timestamp  int64
	VectorData []float32
}

// StorageStats summarizes the store's current state for operator tooling.
type StorageStats struct {
	TotalVectors       uint64
	ActiveVectors      int
	StorageSizeBytes   int64
	CompressedVectors  int
	CompressionRatio   float64
	Dimension          int
	LastModifiedUnix   int64
	IncrementalEnabled bool
}

// floatsToBytes packs a float32 vector little-endian, 4 bytes per value.
func floatsToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloats unpacks a little-endian float32 vector of the given
// dimension from buf.
func bytesToFloats(buf []byte, dimension int) []float32 {
	out := make([]float32, dimension)
	for i := 0; i < dimension; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
