package bt

import "bt/internal/model"

// StagedOperation is one pending backup operation in the write-ahead log:
// a copied blob plus the record describing how to commit it.
type StagedOperation struct {
	Seq         uint64
	OpID        string // UUID
	FileID      string
	DirectoryID string
	Name        string // relative to the directory root, forward slashes
	Digest      string
	Stats       FileStats
	SourcePath  string // absolute source path, for diagnostics

	// BlobPath is where the staged content copy lives on disk.
	BlobPath string
}

// StagingArea is the crash-safe persistent queue of pending backup
// operations. Entries are drained strictly in Seq order; the queue is
// append-only between cleanup events and never compacted mid-op.
type StagingArea interface {
	// Stage copies the file at src into the staging area and enqueues an
	// operation record. The source is stat'd before and after the copy;
	// if any field but atime differs, the blob is discarded and
	// ErrFileMutated returned without writing a queue entry.
	Stage(dir *model.Directory, file *model.File, src *Path) (*StagedOperation, error)

	// Next returns the head of the queue, or nil if the queue is empty.
	Next() (*StagedOperation, error)

	// Complete retires a processed operation: removes the queue record,
	// then the blob.
	Complete(op *StagedOperation) error

	// IsStaged reports whether any queued operation references the file.
	IsStaged(fileID string) (bool, error)

	// Count returns the number of queued operations.
	Count() (int, error)
}
