package config

import (
	"bytes"

	natomic "github.com/natefinch/atomic"
)

// writeFileAtomic writes data to path via a temporary sibling file followed
// by an atomic rename, so a crash mid-write never leaves a half-written
// config on disk.
func writeFileAtomic(path string, data []byte) error {
	return natomic.WriteFile(path, bytes.NewReader(data))
}
