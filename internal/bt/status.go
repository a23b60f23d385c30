package bt

import (
	"fmt"
	"path/filepath"
	"strings"

	"bt/internal/model"
)

// FileState classifies a file for status output. The order encodes the
// reporting precedence: the first applicable state wins.
type FileState int

const (
	StateIgnored FileState = iota
	StateModified
	StateStaged
	StateUntracked
	StateBackedUp
	StateDeleted
)

func (s FileState) String() string {
	switch s {
	case StateIgnored:
		return "ignored"
	case StateModified:
		return "modified"
	case StateStaged:
		return "staged"
	case StateUntracked:
		return "untracked"
	case StateBackedUp:
		return "backed up"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// FileStatus is the status of one file relative to its tracked directory.
type FileStatus struct {
	RelativePath string
	State        FileState
	Size         int64
}

// GetStatus reports the backup state of every file under path. Files whose
// database rows have no on-disk counterpart are marked deleted in the store;
// they are included in the result only when includeDeleted is set.
func (s *Service) GetStatus(path *Path, includeDeleted bool) ([]*FileStatus, error) {
	if !path.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", path.String())
	}

	dir, err := s.containingDirectory(path.String())
	if err != nil {
		return nil, err
	}

	diskFiles, err := s.fsmgr.Walk(path, dir.Path, true)
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", path.String(), err)
	}

	seen := make(map[string]bool, len(diskFiles))
	statuses := make([]*FileStatus, 0, len(diskFiles))

	for _, f := range diskFiles {
		rel, err := filepath.Rel(dir.Path, f.String())
		if err != nil {
			return nil, fmt.Errorf("relativizing %s: %w", f.String(), err)
		}
		rel = filepath.ToSlash(rel)
		seen[rel] = true

		status, err := s.fileStatus(dir, rel, f)
		if err != nil {
			return nil, fmt.Errorf("status of %s: %w", rel, err)
		}
		statuses = append(statuses, status)
	}

	deleted, err := s.reconcileDeleted(dir, path, seen, includeDeleted)
	if err != nil {
		return nil, err
	}
	return append(statuses, deleted...), nil
}

// fileStatus classifies one on-disk file, in precedence order.
func (s *Service) fileStatus(dir *model.Directory, rel string, f *Path) (*FileStatus, error) {
	status := &FileStatus{RelativePath: rel}

	ignored, err := s.fsmgr.IsIgnored(f, dir.Path)
	if err != nil {
		return nil, err
	}
	if ignored {
		status.State = StateIgnored
		return status, nil
	}

	stats, err := s.fsmgr.Stat(f)
	if err != nil {
		return nil, err
	}
	status.Size = stats.Size

	file, err := s.db.FindFileByPath(dir, rel)
	if err != nil {
		return nil, err
	}

	if file != nil && file.CurrentSnapshotID != "" {
		snap, err := s.db.FindSnapshotByID(file.CurrentSnapshotID)
		if err != nil {
			return nil, err
		}
		if snap == nil ||
			stats.Size != snap.Size ||
			!stats.ModifiedAt.Equal(snap.ModifiedAt) ||
			!stats.ChangedAt.Equal(snap.ChangedAt) {
			status.State = StateModified
			return status, nil
		}

		staged, err := s.staging.IsStaged(file.ID)
		if err != nil {
			return nil, err
		}
		if staged {
			status.State = StateStaged
		} else {
			status.State = StateBackedUp
		}
		return status, nil
	}

	// No row, or never committed.
	if file != nil {
		staged, err := s.staging.IsStaged(file.ID)
		if err != nil {
			return nil, err
		}
		if staged {
			status.State = StateStaged
			return status, nil
		}
	}
	status.State = StateUntracked
	return status, nil
}

// reconcileDeleted flags database rows whose on-disk path has vanished (and
// clears the flag for rows that came back).
func (s *Service) reconcileDeleted(dir *model.Directory, path *Path, seen map[string]bool, includeDeleted bool) ([]*FileStatus, error) {
	dbFiles, err := s.db.FindFilesByDirectory(dir)
	if err != nil {
		return nil, fmt.Errorf("listing database files: %w", err)
	}

	// Restrict to the queried subtree when status targets a subdirectory of
	// the tracked root.
	prefix := ""
	if path.String() != dir.Path {
		rel, err := filepath.Rel(dir.Path, path.String())
		if err != nil {
			return nil, err
		}
		prefix = filepath.ToSlash(rel) + "/"
	}

	var out []*FileStatus
	for _, f := range dbFiles {
		if prefix != "" && !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		if seen[f.Name] {
			if f.Deleted {
				if err := s.db.MarkFileDeleted(f.ID, false); err != nil {
					return nil, err
				}
			}
			continue
		}

		if !f.Deleted {
			if err := s.db.MarkFileDeleted(f.ID, true); err != nil {
				return nil, err
			}
		}
		if includeDeleted {
			out = append(out, &FileStatus{RelativePath: f.Name, State: StateDeleted})
		}
	}
	return out, nil
}
