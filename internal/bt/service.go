package bt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"bt/internal/model"
)

// Service orchestrates the high-level backup verbs across the metadata
// store, staging area, vaults, and filesystem manager.
type Service struct {
	db      Database
	staging StagingArea
	vaults  []Vault
	fsmgr   FilesystemManager
	hostID  string
	logger  Logger
	clock   Clock
	idgen   IDGenerator
}

// NewService wires a Service from its dependencies. Every configured vault
// receives all content and metadata uploads.
func NewService(db Database, staging StagingArea, vaults []Vault, fsmgr FilesystemManager, hostID string, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		db:      db,
		staging: staging,
		vaults:  vaults,
		fsmgr:   fsmgr,
		hostID:  hostID,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
	}
}

// AddDirectory registers a directory for tracking. Tracking a path already
// covered by a tracked directory (itself or an ancestor) is a no-op success.
// Tracking an ancestor of existing tracked directories consolidates them:
// their files are reparented under the new root, names prefixed with the old
// root's suffix, and the child directories removed.
func (s *Service) AddDirectory(path *Path) error {
	if !path.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path.String())
	}

	existing, err := s.db.SearchDirectoryForPath(path.String())
	if err != nil {
		return fmt.Errorf("searching tracked directories: %w", err)
	}
	if existing != nil {
		s.logger.Debug("directory already covered", "path", path.String(), "by", existing.Path)
		return nil
	}

	if err := checkReadExec(path.String()); err != nil {
		return fmt.Errorf("directory is not readable: %w", err)
	}

	dir, err := s.db.CreateDirectory(path.String())
	if err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	s.logger.Info("directory tracked", "path", dir.Path)
	return nil
}

// StageFiles stages a file, or every non-ignored regular file under a
// directory, for backup. Files that mutate while being copied are skipped;
// their errors are joined into the returned error so the run still exits
// non-zero, but remaining files are staged.
// Returns the number of files staged.
func (s *Service) StageFiles(path *Path) (int, error) {
	if !path.IsDir() {
		dir, err := s.containingDirectory(path.String())
		if err != nil {
			return 0, err
		}

		ignored, err := s.fsmgr.IsIgnored(path, dir.Path)
		if err != nil {
			return 0, fmt.Errorf("checking ignore rules: %w", err)
		}
		if ignored {
			return 0, fmt.Errorf("file is ignored: %s", path.String())
		}

		if err := s.stageOne(dir, path); err != nil {
			return 0, err
		}
		return 1, nil
	}

	dir, err := s.containingDirectory(path.String())
	if err != nil {
		return 0, err
	}

	files, err := s.fsmgr.Walk(path, dir.Path, false)
	if err != nil {
		return 0, fmt.Errorf("walking %s: %w", path.String(), err)
	}

	staged := 0
	var mutated []error
	for _, f := range files {
		err := s.stageOne(dir, f)
		switch {
		case err == nil:
			staged++
		case errors.Is(err, ErrFileMutated):
			s.logger.Warn("file mutated during staging, skipped", "path", f.String())
			mutated = append(mutated, err)
		default:
			return staged, err
		}
	}
	return staged, errors.Join(mutated...)
}

func (s *Service) stageOne(dir *model.Directory, path *Path) error {
	rel, err := filepath.Rel(dir.Path, path.String())
	if err != nil {
		return fmt.Errorf("relativizing %s: %w", path.String(), err)
	}

	file, err := s.db.FindOrCreateFile(dir, filepath.ToSlash(rel))
	if err != nil {
		return fmt.Errorf("finding file record: %w", err)
	}

	op, err := s.staging.Stage(dir, file, path)
	if err != nil {
		return err
	}

	s.logger.Debug("file staged", "path", path.String(), "digest", op.Digest, "seq", op.Seq)
	return nil
}

// containingDirectory returns the tracked directory covering p.
func (s *Service) containingDirectory(p string) (*model.Directory, error) {
	dir, err := s.db.SearchDirectoryForPath(p)
	if err != nil {
		return nil, fmt.Errorf("searching tracked directories: %w", err)
	}
	if dir == nil {
		return nil, fmt.Errorf("%s: %w", p, ErrNotTracked)
	}
	return dir, nil
}

// ValidateVaults runs the setup probe on every configured vault.
func (s *Service) ValidateVaults(ctx context.Context) error {
	for _, v := range s.vaults {
		if err := v.ValidateSetup(ctx); err != nil {
			return fmt.Errorf("vault %s: %w", v.Name(), err)
		}
		s.logger.Info("vault validated", "vault", v.Name())
	}
	return nil
}

// checkReadExec verifies the directory can be opened and listed.
func checkReadExec(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.ReadDir(1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
