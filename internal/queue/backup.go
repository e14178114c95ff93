package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"portalpilot/internal/fileutil"
	"portalpilot/internal/logging"
)

const (
	backupPrefix = "backup-"
	backupSuffix = ".json"

	// DefaultBackupRetentionDays bounds how long PruneBackups keeps copies.
	DefaultBackupRetentionDays = 30
)

// BackupFile describes one point-in-time copy.
type BackupFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Backup writes the current snapshot to a timestamped file and returns its path.
func (s *Store) Backup(ctx context.Context) (string, error) {
	if strings.TrimSpace(s.backupDir) == "" {
		return "", fmt.Errorf("backup directory not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var snap Snapshot
	s.read(func(live *Snapshot) { snap = live.clone() })
	data, err := encodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(s.now().UTC().Format(time.RFC3339Nano))
	path := filepath.Join(s.backupDir, backupPrefix+stamp+backupSuffix)
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	s.logger.Info("queue backup written",
		logging.String("path", path),
		logging.Int("items", len(snap.Queue)),
		logging.String(logging.FieldEventType, "queue_backup"),
	)
	return path, nil
}

// ListBackups returns existing backups, newest first.
func (s *Store) ListBackups(_ context.Context) ([]BackupFile, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var out []BackupFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupFile{
			Path:    filepath.Join(s.backupDir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

// PruneBackups deletes backups older than days and returns how many were removed.
func (s *Store) PruneBackups(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = DefaultBackupRetentionDays
	}
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	removed := 0
	for _, backup := range backups {
		if !backup.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(backup.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(s.logger, "failed to remove old backup", "backup_prune_failed",
				logging.String("path", backup.Path),
				logging.Error(err),
			)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("old backups removed",
			logging.Int("count", removed),
			logging.Int("retention_days", days),
		)
	}
	return removed, nil
}
