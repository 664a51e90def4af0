package infra

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// BackupManager writes rotating copies of the database file so a corrupt
// or deleted database does not lose the usage history.
type BackupManager struct {
	sourcePath string
	backupDir  string
	keep       int
	logger     *zap.Logger
}

// NewBackupManager creates a backup manager keeping the given number of
// rotated copies.
func NewBackupManager(sourcePath, backupDir string, keep int, logger *zap.Logger) *BackupManager {
	if keep <= 0 {
		keep = 3
	}
	return &BackupManager{
		sourcePath: sourcePath,
		backupDir:  backupDir,
		keep:       keep,
		logger:     logger,
	}
}

// Backup copies the database into the backup directory and rotates old
// copies out. A copy identical to the newest backup is skipped.
func (bm *BackupManager) Backup() error {
	if err := os.MkdirAll(bm.backupDir, 0700); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	sourceSHA, err := computeFileSHA256(bm.sourcePath)
	if err != nil {
		return fmt.Errorf("failed to hash database: %w", err)
	}

	existing, err := bm.listBackups()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		newestSHA, err := computeFileSHA256(existing[len(existing)-1])
		if err == nil && newestSHA == sourceSHA {
			bm.logger.Debug("database unchanged since last backup")
			return nil
		}
	}

	target := filepath.Join(bm.backupDir, fmt.Sprintf("backup-%s.db", sourceSHA[:12]))
	if err := copyFileAtomic(bm.sourcePath, target); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	bm.logger.Info("database backup written", zap.String("path", target))

	existing = append(existing, target)
	for len(existing) > bm.keep {
		oldest := existing[0]
		existing = existing[1:]
		if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
			bm.logger.Warn("failed to remove old backup", zap.String("path", oldest), zap.Error(err))
		}
	}
	return nil
}

// Restore copies the newest backup over the database path. The caller
// must have closed the database first.
func (bm *BackupManager) Restore() error {
	existing, err := bm.listBackups()
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return fmt.Errorf("no backups available in %s", bm.backupDir)
	}
	newest := existing[len(existing)-1]
	if err := copyFileAtomic(newest, bm.sourcePath); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	bm.logger.Info("database restored from backup", zap.String("path", newest))
	return nil
}

// listBackups returns backup files sorted oldest first by mtime.
func (bm *BackupManager) listBackups() ([]string, error) {
	entries, err := os.ReadDir(bm.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".db" {
			continue
		}
		paths = append(paths, filepath.Join(bm.backupDir, entry.Name()))
	}
	sort.Slice(paths, func(i, j int) bool {
		infoI, errI := os.Stat(paths[i])
		infoJ, errJ := os.Stat(paths[j])
		if errI != nil || errJ != nil {
			return paths[i] < paths[j]
		}
		return infoI.ModTime().Before(infoJ.ModTime())
	})
	return paths, nil
}

// computeFileSHA256 calculates the SHA256 hash of a file.
func computeFileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyFileAtomic copies a file via a temp file plus rename so a crashed
// copy never leaves a truncated target.
func copyFileAtomic(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".backup-copy-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmpFile, sourceFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err = tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}
	if err = os.Chmod(dst, 0600); err != nil {
		return err
	}
	success = true
	return nil
}
