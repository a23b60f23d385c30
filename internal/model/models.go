package model

import "time"

// Content is an immutable reference to a blob stored in the vaults.
// The ID is the SHA-256 digest of the payload, not a synthetic identifier.
// A row exists only once the payload is durably stored in every vault it
// was promised to.
type Content struct {
	ID        string
	CreatedAt time.Time
}

// Directory is a tracked root on this host. Paths form an antichain under
// the prefix order: no tracked directory is an ancestor of another.
type Directory struct {
	ID        string // UUID
	Path      string // absolute, canonicalized
	CreatedAt time.Time
}

// File is a filesystem entry inside a tracked directory. Name is the path
// relative to the directory root, stored with forward slashes.
type File struct {
	ID                string // UUID
	DirectoryID       string
	Name              string
	CurrentSnapshotID string // empty until the first successful backup
	Deleted           bool
}

// FileSnapshot is an append-only, point-in-time record of a file.
// Snapshots are never mutated after insert.
type FileSnapshot struct {
	ID          string // UUID
	FileID      string
	ContentID   string // SHA-256 digest
	CreatedAt   time.Time
	Size        int64
	Permissions uint32
	UID         int64
	GID         int64
	AccessedAt  time.Time
	ModifiedAt  time.Time
	ChangedAt   time.Time
	BornAt      *time.Time // nil on platforms without birthtime
}

// BackupOperation journals a CLI operation that mutated local state.
type BackupOperation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string // "success" or "error"
}
