// Package app wires the CLI to the backup service: it resolves defaults,
// reads configuration, takes the process lock, constructs every component,
// and journals mutating operations.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"bt/internal/bt"
	"bt/internal/config"
	"bt/internal/database"
	"bt/internal/fs"
	"bt/internal/model"
	"bt/internal/staging"
	"bt/internal/vault"
)

// App is the application layer between the CLI and the Service. It owns the
// lifecycle of the lock, database, and log file; the caller must Close.
type App struct {
	cfg     *config.Config
	db      bt.Database
	fsmgr   bt.FilesystemManager
	service *bt.Service
	lock    *Lock
	logger  *runLogger

	opID   int64
	status string
}

// New constructs a fully wired App. operation names the CLI verb for the
// journal; mutating operations take the process lock and are journaled.
func New(ctx context.Context, cfg *config.Config, operation string, mutating bool) (*App, error) {
	a := &App{cfg: cfg, status: "success"}

	if mutating {
		lock, err := AcquireLock(cfg.LockPath())
		if err != nil {
			return nil, err
		}
		a.lock = lock
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	logger, err := newRunLogger(cfg.LogDir, runID)
	if err != nil {
		a.lock.Release()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a.logger = logger

	fsmgr := fs.NewManager(cfg.IgnoreList)
	a.fsmgr = fsmgr

	vaults := make([]bt.Vault, 0, len(cfg.Vaults))
	for _, vc := range cfg.Vaults {
		v, err := vault.FromConfig(ctx, vc)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("creating vault %s: %w", vc.Name, err)
		}
		vaults = append(vaults, v)
	}

	sa, err := staging.NewArea(cfg.StagingRoot(), fsmgr, nil)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("opening staging area: %w", err)
	}

	db, err := database.Open(cfg.DatabasePath(), nil, nil)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.db = db

	if mutating {
		op, err := db.CreateBackupOperation(operation, "")
		if err != nil {
			a.cleanup()
			return nil, err
		}
		a.opID = op.ID
	}

	a.service = bt.NewService(db, sa, vaults, fsmgr, cfg.HostID,
		logger, bt.RealClock{}, bt.UUIDGenerator{})
	return a, nil
}

// SetError marks the journaled operation as failed.
func (a *App) SetError() { a.status = "error" }

// AddDirectory resolves rawPath and registers it for tracking.
func (a *App) AddDirectory(rawPath string) error {
	p, err := a.fsmgr.Resolve(rawPath)
	if err != nil {
		return err
	}
	return a.service.AddDirectory(p)
}

// StageFiles resolves rawPath and stages the file, or every file under the
// directory. Returns the number staged.
func (a *App) StageFiles(rawPath string) (int, error) {
	p, err := a.fsmgr.Resolve(rawPath)
	if err != nil {
		return 0, err
	}
	return a.service.StageFiles(p)
}

// BackupAll drains the staging queue and mirrors metadata to the vaults.
func (a *App) BackupAll(ctx context.Context) (int, error) {
	return a.service.BackupAll(ctx)
}

// GetStatus reports per-file backup state under rawPath.
func (a *App) GetStatus(rawPath string, includeDeleted bool) ([]*bt.FileStatus, error) {
	p, err := a.fsmgr.Resolve(rawPath)
	if err != nil {
		return nil, err
	}
	return a.service.GetStatus(p, includeDeleted)
}

// GetFileHistory returns the snapshot history for rawPath, newest first.
func (a *App) GetFileHistory(rawPath string) ([]*bt.HistoryEntry, error) {
	p, err := a.fsmgr.Resolve(rawPath)
	if err != nil {
		return nil, err
	}
	return a.service.GetFileHistory(p)
}

// GetHistory returns recent journaled operations.
func (a *App) GetHistory(limit int) ([]*model.BackupOperation, error) {
	return a.service.GetHistory(limit)
}

// Restore restores a version of rawPath next to the original. The path may
// no longer exist on disk, so only lexical resolution applies.
func (a *App) Restore(ctx context.Context, rawPath string, digest string) (string, error) {
	abs, err := absPath(rawPath)
	if err != nil {
		return "", err
	}
	return a.service.Restore(ctx, abs, digest)
}

// ValidateVaults probes every configured vault.
func (a *App) ValidateVaults(ctx context.Context) error {
	return a.service.ValidateVaults(ctx)
}

// Close finalizes the journal entry and releases all resources.
func (a *App) Close() error {
	var firstErr error

	if a.opID != 0 {
		if err := a.db.FinishBackupOperation(a.opID, a.status); err != nil {
			firstErr = err
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.db = nil
	}
	a.cleanup()
	return firstErr
}

// absPath resolves rawPath lexically, without requiring it to exist.
func absPath(rawPath string) (string, error) {
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	return filepath.Clean(abs), nil
}

// cleanup releases the lock and log file; safe on a partially built App.
func (a *App) cleanup() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
	a.logger.Close()
	a.logger = nil
	a.lock.Release()
	a.lock = nil
}
