package vectorstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	cierrors "github.com/cigraph/cigraph/internal/errors"
)

// CreateBackup snapshots the current data file and, if present, the
// update log into a timestamped pair under the backup directory.
func (s *Store) CreateBackup(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts := time.Now().Unix()
	backupFile := filepath.Join(s.backupDir, fmt.Sprintf("backup_%d.db", ts))

	if err := copyFile(s.storagePath, backupFile); err != nil {
		return "", cierrors.NewStorageIO("copy storage file to backup", err)
	}

	if _, err := os.Stat(s.logPath); err == nil {
		backupLog := filepath.Join(s.backupDir, fmt.Sprintf("backup_%d.log", ts))
		if err := copyFile(s.logPath, backupLog); err != nil {
			return "", cierrors.NewStorageIO("copy update log to backup", err)
		}
	}

	slog.Info("created vector store backup", slog.String("path", backupFile))
	return backupFile, nil
}

// RestoreFromBackup creates a safety backup of the current state, then
// atomically replaces the main file with the backup and reloads.
func (s *Store) RestoreFromBackup(ctx context.Context, backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return cierrors.NewStorageIO("backup file not found", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.procLock.Lock(); err != nil {
		return cierrors.NewStorageIO("acquire store lock", err)
	}
	defer func() { _ = s.procLock.Unlock() }()

	if err := copyFile(s.storagePath, filepath.Join(s.backupDir, fmt.Sprintf("backup_%d.db", time.Now().Unix()))); err != nil {
		slog.Warn("failed to snapshot current state before restore", slog.String("error", err.Error()))
	}

	if err := copyFile(backupPath, s.storagePath); err != nil {
		return cierrors.NewStorageIO("copy backup over storage file", err)
	}

	if err := s.loadFromDisk(); err != nil {
		return err
	}

	slog.Info("restored vector store from backup", slog.String("path", backupPath))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
