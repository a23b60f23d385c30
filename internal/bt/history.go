package bt

import (
	"fmt"
	"path/filepath"
	"time"

	"bt/internal/model"
)

// HistoryEntry is one backed-up version of a file.
type HistoryEntry struct {
	Digest     string
	BackedUpAt time.Time
	Size       int64
	ModifiedAt time.Time
	IsCurrent  bool
}

// GetFileHistory returns a file's snapshot history, newest first.
func (s *Service) GetFileHistory(path *Path) ([]*HistoryEntry, error) {
	if path.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path.String())
	}

	dir, err := s.containingDirectory(path.String())
	if err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(dir.Path, path.String())
	if err != nil {
		return nil, fmt.Errorf("relativizing %s: %w", path.String(), err)
	}

	file, err := s.db.FindFileByPath(dir, filepath.ToSlash(rel))
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if file == nil {
		return nil, fmt.Errorf("file has no backup history: %s: %w", path.String(), ErrNotFound)
	}

	snapshots, err := s.db.ListSnapshots(file.ID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	entries := make([]*HistoryEntry, len(snapshots))
	for i, snap := range snapshots {
		entries[i] = &HistoryEntry{
			Digest:     snap.ContentID,
			BackedUpAt: snap.CreatedAt,
			Size:       snap.Size,
			ModifiedAt: snap.ModifiedAt,
			IsCurrent:  file.CurrentSnapshotID == snap.ID,
		}
	}
	return entries, nil
}

// GetHistory returns the most recent journal entries, newest first.
func (s *Service) GetHistory(limit int) ([]*model.BackupOperation, error) {
	ops, err := s.db.ListBackupOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing backup operations: %w", err)
	}
	return ops, nil
}
