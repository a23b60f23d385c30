package bt

import "bt/internal/model"

// Database is the local transactional metadata store. Every multi-row
// mutation runs inside a single transaction; on error it is rolled back.
// Single-writer: one service process per host.
type Database interface {
	// Directory operations

	// FindDirectoryByPath returns the directory with an exact path match,
	// or nil if none.
	FindDirectoryByPath(path string) (*model.Directory, error)

	// SearchDirectoryForPath returns the tracked directory that is path or
	// an ancestor of path, or nil. Because tracked roots form an antichain
	// there is at most one.
	SearchDirectoryForPath(path string) (*model.Directory, error)

	// FindDirectoriesByPathPrefix returns the tracked directories strictly
	// under path.
	FindDirectoriesByPathPrefix(path string) ([]*model.Directory, error)

	// CreateDirectory transactionally inserts a new tracked directory,
	// reparents the files of every tracked directory strictly under it
	// (prepending the old root's suffix to each file name), then deletes
	// those child directories.
	CreateDirectory(path string) (*model.Directory, error)

	// File operations

	FindFilesByDirectory(dir *model.Directory) ([]*model.File, error)
	FindFileByPath(dir *model.Directory, relativePath string) (*model.File, error)
	FindFileByID(id string) (*model.File, error)

	// FindOrCreateFile returns the existing file row for (dir, relativePath)
	// or inserts a fresh one with no current snapshot.
	FindOrCreateFile(dir *model.Directory, relativePath string) (*model.File, error)

	// MarkFileDeleted records that the file's on-disk path has vanished.
	MarkFileDeleted(fileID string, deleted bool) error

	// Snapshot operations

	// AppendSnapshot atomically inserts the content row if absent, inserts
	// the snapshot, and moves the file's current-snapshot pointer to it.
	AppendSnapshot(snapshot *model.FileSnapshot) error

	// ListSnapshots returns a file's snapshots ordered newest first.
	ListSnapshots(fileID string) ([]*model.FileSnapshot, error)

	FindSnapshotByID(id string) (*model.FileSnapshot, error)
	FindSnapshotByDigest(fileID string, digest string) (*model.FileSnapshot, error)

	// Content operations

	FindContentByDigest(digest string) (*model.Content, error)

	// Operation journal

	CreateBackupOperation(operation, parameters string) (*model.BackupOperation, error)
	FinishBackupOperation(id int64, status string) error
	ListBackupOperations(limit int) ([]*model.BackupOperation, error)

	// BackupTo writes a consistent copy of the database to destPath,
	// suitable for uploading to a vault's metadata slot. Never the live file.
	BackupTo(destPath string) error

	Close() error
}
