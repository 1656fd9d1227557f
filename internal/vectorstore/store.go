package vectorstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	natomic "github.com/natefinch/atomic"

	cierrors "github.com/cigraph/cigraph/internal/errors"
	"github.com/cigraph/cigraph/internal/quantize"
)

// Store is the persistent vector store: a single data file holding a
// versioned header, vector-data section, and metadata section, plus a
// sibling append-only update log. Reads take the read lock; writes
// (save/backup/restore) take the write lock and additionally hold a
// cross-process advisory lock for the duration of the rewrite, since the
// store is single-writer per spec.
type Store struct {
	mu sync.RWMutex

	storagePath string
	backupDir   string
	logPath     string
	procLock    *flock.Flock

	header         StorageHeader
	metadata       map[string]VectorMetadata
	vectorIDToNode map[uint64]string
	updateLog      []UpdateLogEntry
	vectorData     []byte

	pq *quantize.ProductQuantizer
	sq *quantize.ScalarQuantizer

	nextVectorID uint64
	closed       bool
}

// New opens (or initializes) a persistent vector store rooted at
// storagePath, with backups written under backupDir, for vectors of the
// given dimension.
func New(storagePath, backupDir string, dimension int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(storagePath), 0o755); err != nil {
		return nil, cierrors.NewStorageIO("create storage directory", err)
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, cierrors.NewStorageIO("create backup directory", err)
	}

	s := &Store{
		storagePath:    storagePath,
		backupDir:      backupDir,
		logPath:        storagePath + ".log",
		procLock:       flock.New(storagePath + ".lock"),
		metadata:       make(map[string]VectorMetadata),
		vectorIDToNode: make(map[uint64]string),
		header: StorageHeader{
			Version:            storageVersion,
			Dimension:          dimension,
			IncrementalEnabled: true,
		},
	}

	if _, err := os.Stat(storagePath); err == nil {
		if loadErr := s.loadFromDisk(); loadErr != nil {
			slog.Warn("failed to load existing vector store, reinitializing",
				slog.String("path", storagePath), slog.String("error", loadErr.Error()))
			if err := s.initializeStorage(); err != nil {
				return nil, err
			}
		}
	} else {
		if err := s.initializeStorage(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// initializeStorage writes an empty, valid data file for a brand-new
// store.
func (s *Store) initializeStorage() error {
	s.header.VectorCount = 0
	return s.saveToDiskLocked()
}

func headerChecksum(headerBytes []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(headerBytes)
	return h.Sum64()
}

// encodeHeader gob-encodes header with Checksum zeroed, then returns the
// same bytes with Checksum set to the FNV-1a digest of that zeroed form.
func encodeHeader(header StorageHeader) ([]byte, error) {
	header.Checksum = 0
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(header); err != nil {
		return nil, err
	}
	header.Checksum = headerChecksum(buf.Bytes())

	var final bytes.Buffer
	if err := gob.NewEncoder(&final).Encode(header); err != nil {
		return nil, err
	}
	return final.Bytes(), nil
}

func decodeHeader(raw []byte) (StorageHeader, error) {
	var header StorageHeader
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&header); err != nil {
		return StorageHeader{}, err
	}

	want := header.Checksum
	header.Checksum = 0
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(header); err != nil {
		return StorageHeader{}, err
	}
	got := headerChecksum(buf.Bytes())
	header.Checksum = want

	if got != want {
		return StorageHeader{}, cierrors.NewStorageIntegrity("header checksum mismatch", nil)
	}
	return header, nil
}

type metadataSection struct {
	Metadata       map[string]VectorMetadata
	VectorIDToNode map[uint64]string
}

// loadFromDisk reads the data file and the sibling update log (if
// present), replacing in-memory state.
func (s *Store) loadFromDisk() error {
	raw, err := os.ReadFile(s.storagePath)
	if err != nil {
		return cierrors.NewStorageIO("read storage file", err)
	}
	if len(raw) < 8 {
		return cierrors.NewStorageIntegrity("storage file truncated", nil)
	}

	headerLen := binary.LittleEndian.Uint64(raw[:8])
	if uint64(len(raw)) < 8+headerLen {
		return cierrors.NewStorageIntegrity("storage file truncated before header end", nil)
	}

	header, err := decodeHeader(raw[8 : 8+headerLen])
	if err != nil {
		return err
	}
	if header.Version != storageVersion {
		return cierrors.NewStorageIntegrity(fmt.Sprintf("unsupported storage version %d", header.Version), nil)
	}

	vectorData := raw[header.VectorsOffset:header.MetadataOffset]

	var meta metadataSection
	if header.MetadataOffset > 0 && header.MetadataOffset < uint64(len(raw)) {
		metaRaw := raw[header.MetadataOffset:]
		if len(metaRaw) >= 8 {
			metaLen := binary.LittleEndian.Uint64(metaRaw[:8])
			if uint64(len(metaRaw)) >= 8+metaLen && metaLen > 0 {
				if err := gob.NewDecoder(bytes.NewReader(metaRaw[8 : 8+metaLen])).Decode(&meta); err != nil {
					return cierrors.NewStorageIntegrity("decode metadata section", err)
				}
			}
		}
	}
	if meta.Metadata == nil {
		meta.Metadata = make(map[string]VectorMetadata)
	}
	if meta.VectorIDToNode == nil {
		meta.VectorIDToNode = make(map[uint64]string)
	}

	var updateLog []UpdateLogEntry
	if logRaw, err := os.ReadFile(s.logPath); err == nil {
		if decErr := gob.NewDecoder(bytes.NewReader(logRaw)).Decode(&updateLog); decErr != nil {
			slog.Warn("failed to decode update log, ignoring", slog.String("error", decErr.Error()))
			updateLog = nil
		}
	}

	s.header = header
	s.metadata = meta.Metadata
	s.vectorIDToNode = meta.VectorIDToNode
	s.vectorData = append([]byte(nil), vectorData...)
	s.updateLog = updateLog
	s.nextVectorID = header.VectorCount

	slog.Info("loaded persistent vector store", slog.String("path", s.storagePath),
		slog.Uint64("vectors", header.VectorCount))
	return nil
}

// saveToDiskLocked serializes the full store to a temp sibling file and
// atomically renames it into place, then rewrites the log file (or
// removes it if empty). Caller must hold s.mu for writing.
func (s *Store) saveToDiskLocked() error {
	if err := s.procLock.Lock(); err != nil {
		return cierrors.NewStorageIO("acquire store lock", err)
	}
	defer func() { _ = s.procLock.Unlock() }()

	s.header.LastModifiedUnix = time.Now().Unix()
	s.header.VectorCount = s.nextVectorID

	// Encode once to learn the header's own size, then again with offsets
	// filled in — the header's encoded length doesn't change between
	// passes since only fixed-width fields shift.
	headerBytes, err := encodeHeader(s.header)
	if err != nil {
		return cierrors.NewStorageIO("encode header", err)
	}
	s.header.VectorsOffset = 8 + uint64(len(headerBytes))
	s.header.MetadataOffset = s.header.VectorsOffset + uint64(len(s.vectorData))
	s.header.IndexMappingOffset = s.header.MetadataOffset

	headerBytes, err = encodeHeader(s.header)
	if err != nil {
		return cierrors.NewStorageIO("encode header", err)
	}

	metaSection := metadataSection{Metadata: s.metadata, VectorIDToNode: s.vectorIDToNode}
	var metaBuf bytes.Buffer
	if err := gob.NewEncoder(&metaBuf).Encode(metaSection); err != nil {
		return cierrors.NewStorageIO("encode metadata section", err)
	}

	var lenBuf [8]byte
	var out bytes.Buffer
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	out.Write(lenBuf[:])
	out.Write(headerBytes)
	out.Write(s.vectorData)
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(metaBuf.Len()))
	out.Write(lenBuf[:])
	out.Write(metaBuf.Bytes())

	if err := natomic.WriteFile(s.storagePath, bytes.NewReader(out.Bytes())); err != nil {
		return cierrors.NewStorageIO("write storage file", err)
	}

	if len(s.updateLog) == 0 {
		_ = os.Remove(s.logPath)
	} else {
		var logBuf bytes.Buffer
		if err := gob.NewEncoder(&logBuf).Encode(s.updateLog); err != nil {
			return cierrors.NewStorageIO("encode update log", err)
		}
		if err := natomic.WriteFile(s.logPath, bytes.NewReader(logBuf.Bytes())); err != nil {
			return cierrors.NewStorageIO("write update log", err)
		}
	}

	slog.Debug("saved persistent vector store", slog.String("path", s.storagePath),
		slog.Uint64("vectors", s.header.VectorCount))
	return nil
}

// Close releases the store's resources. It does not flush pending state —
// callers must call a write operation (which saves synchronously) before
// Close if they need durability.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
