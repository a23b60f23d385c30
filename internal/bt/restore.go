package bt

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"

	"bt/internal/model"
)

// Restore downloads a historical version of the file at absPath, writing it
// next to the original as <filename>.<digest>. With an empty digest the
// current snapshot is restored. absPath need not exist on disk.
//
// The snapshot's metadata (mode, owner, times) is applied afterwards;
// failures there — typically permission-denied on chown — are logged as
// warnings, not errors.
// Returns the path written.
func (s *Service) Restore(ctx context.Context, absPath string, digest string) (string, error) {
	dir, err := s.containingDirectory(absPath)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(dir.Path, absPath)
	if err != nil {
		return "", fmt.Errorf("relativizing %s: %w", absPath, err)
	}

	file, err := s.db.FindFileByPath(dir, filepath.ToSlash(rel))
	if err != nil {
		return "", fmt.Errorf("finding file: %w", err)
	}
	if file == nil {
		return "", fmt.Errorf("file has no backup history: %s: %w", absPath, ErrNotFound)
	}

	snap, err := s.resolveSnapshot(file, digest)
	if err != nil {
		return "", err
	}

	outPath := absPath + "." + snap.ContentID
	if _, err := os.Lstat(outPath); err == nil {
		return "", fmt.Errorf("output file already exists: %s", outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}

	if err := s.download(ctx, snap.ContentID, outPath); err != nil {
		return "", err
	}

	s.applySnapshotMetadata(outPath, snap)

	s.logger.Info("file restored", "path", outPath, "digest", snap.ContentID)
	return outPath, nil
}

// resolveSnapshot picks the snapshot to restore: by digest when given, else
// the file's current snapshot.
func (s *Service) resolveSnapshot(file *model.File, digest string) (*model.FileSnapshot, error) {
	if digest != "" {
		snap, err := s.db.FindSnapshotByDigest(file.ID, digest)
		if err != nil {
			return nil, fmt.Errorf("finding snapshot by digest: %w", err)
		}
		if snap == nil {
			return nil, fmt.Errorf("no snapshot with digest %s: %w", digest, ErrNotFound)
		}
		return snap, nil
	}

	if file.CurrentSnapshotID == "" {
		return nil, fmt.Errorf("file has never been backed up: %w", ErrNotFound)
	}
	snap, err := s.db.FindSnapshotByID(file.CurrentSnapshotID)
	if err != nil {
		return nil, fmt.Errorf("loading current snapshot: %w", err)
	}
	if snap == nil {
		return nil, fmt.Errorf("current snapshot missing from database: %w", ErrCorrupt)
	}
	return snap, nil
}

// download fetches the content from the first vault that succeeds.
func (s *Service) download(ctx context.Context, digest, outPath string) error {
	var errs []error
	for _, v := range s.vaults {
		err := v.GetContent(ctx, digest, outPath)
		if err == nil {
			return nil
		}
		s.logger.Warn("vault download failed", "vault", v.Name(), "digest", digest, "error", err)
		errs = append(errs, fmt.Errorf("vault %s: %w", v.Name(), err))
	}
	return fmt.Errorf("content %s unavailable from all vaults: %w", digest, errors.Join(errs...))
}

// applySnapshotMetadata restores mode, ownership and times. Best-effort.
func (s *Service) applySnapshotMetadata(path string, snap *model.FileSnapshot) {
	if err := os.Chmod(path, iofs.FileMode(snap.Permissions)); err != nil {
		s.logger.Warn("restoring permissions failed", "path", path, "error", err)
	}
	if err := os.Chown(path, int(snap.UID), int(snap.GID)); err != nil {
		s.logger.Warn("restoring ownership failed", "path", path, "error", err)
	}
	if err := os.Chtimes(path, snap.AccessedAt, snap.ModifiedAt); err != nil {
		s.logger.Warn("restoring times failed", "path", path, "error", err)
	}
}
