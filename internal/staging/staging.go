// Package staging implements the write-ahead log: a crash-safe persistent
// queue of pending backup operations together with the copied payloads they
// refer to.
//
// On-disk layout under the staging root:
//
//	staging/<op_uuid>.blob   copied file bytes
//	queue/<seq>-<op_uuid>.op operation record, seq a zero-padded monotonic integer
//
// A record is written to a temporary file and atomically renamed into
// queue/; the rename is the commit point of staging. The queue is drained
// strictly in seq order and never compacted mid-op.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"bt/internal/bt"
	"bt/internal/model"
)

const (
	blobSuffix   = ".blob"
	recordSuffix = ".op"
)

// Area is the filesystem-backed staging area. It is exclusive to the service
// process (guarded by the process lock file) and safe for concurrent use
// within it.
type Area struct {
	stagingDir string
	queueDir   string
	fsmgr      bt.FilesystemManager
	idgen      bt.IDGenerator

	mu      sync.Mutex
	nextSeq uint64
}

// NewArea opens (creating if needed) the staging area under root and resumes
// the sequence counter from the queue entries already on disk.
func NewArea(root string, fsmgr bt.FilesystemManager, idgen bt.IDGenerator) (*Area, error) {
	a := &Area{
		stagingDir: filepath.Join(root, "staging"),
		queueDir:   filepath.Join(root, "queue"),
		fsmgr:      fsmgr,
		idgen:      idgen,
	}
	if idgen == nil {
		a.idgen = bt.UUIDGenerator{}
	}

	for _, dir := range []string{a.stagingDir, a.queueDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating staging directory: %w", err)
		}
	}

	entries, err := a.queueEntries()
	if err != nil {
		return nil, err
	}
	if n := len(entries); n > 0 {
		a.nextSeq = entries[n-1].seq + 1
	}
	return a, nil
}

// Stage copies src into the staging area and commits an operation record.
//
// The source is stat'd before and after the copy; if anything but the access
// time changed in between, the copy cannot be trusted to be a consistent
// point-in-time image: the blob is discarded and ErrFileMutated returned
// without a queue entry.
func (a *Area) Stage(dir *model.Directory, file *model.File, src *bt.Path) (*bt.StagedOperation, error) {
	stat1, err := a.fsmgr.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("stat before copy: %w", err)
	}

	opID := a.idgen.New()
	blobPath := filepath.Join(a.stagingDir, opID+blobSuffix)

	digest, size, err := a.fsmgr.CopyToStaging(src, blobPath)
	if err != nil {
		return nil, fmt.Errorf("copying to staging: %w", err)
	}

	stat2, err := a.fsmgr.Stat(src)
	if err != nil {
		os.Remove(blobPath)
		return nil, fmt.Errorf("stat after copy: %w", err)
	}
	if size != stat1.Size || !stat1.EqualIgnoringAtime(stat2) {
		os.Remove(blobPath)
		return nil, fmt.Errorf("%s: %w", src.String(), bt.ErrFileMutated)
	}

	op := &bt.StagedOperation{
		OpID:        opID,
		FileID:      file.ID,
		DirectoryID: dir.ID,
		Name:        file.Name,
		Digest:      digest,
		Stats:       stat1,
		SourcePath:  src.String(),
		BlobPath:    blobPath,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	op.Seq = a.nextSeq
	if err := a.writeRecord(op); err != nil {
		os.Remove(blobPath)
		return nil, err
	}
	a.nextSeq++
	return op, nil
}

// writeRecord serializes op to a temp file and renames it into the queue.
func (a *Area) writeRecord(op *bt.StagedOperation) error {
	data, err := encodeRecord(op)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(a.queueDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating record temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing record: %w", err)
	}

	final := filepath.Join(a.queueDir, recordName(op.Seq, op.OpID))
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("committing record: %w", err)
	}
	return syncDir(a.queueDir)
}

// Next returns the head of the queue, or nil when the queue is empty.
func (a *Area) Next() (*bt.StagedOperation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.queueEntries()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return a.loadOperation(entries[0])
}

// Complete retires a processed operation: the queue record first, then the
// blob. Either may already be gone after a crash mid-cleanup.
func (a *Area) Complete(op *bt.StagedOperation) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	recordPath := filepath.Join(a.queueDir, recordName(op.Seq, op.OpID))
	if err := os.Remove(recordPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing queue record: %w", err)
	}
	if err := syncDir(a.queueDir); err != nil {
		return err
	}
	blobPath := filepath.Join(a.stagingDir, op.OpID+blobSuffix)
	if err := os.Remove(blobPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing staged blob: %w", err)
	}
	return nil
}

// IsStaged reports whether any queued operation references the file.
func (a *Area) IsStaged(fileID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.queueEntries()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		op, err := a.loadOperation(e)
		if err != nil {
			return false, err
		}
		if op.FileID == fileID {
			return true, nil
		}
	}
	return false, nil
}

// Count returns the number of queued operations.
func (a *Area) Count() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.queueEntries()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

type queueEntry struct {
	seq  uint64
	opID string
	name string
}

// queueEntries lists the committed queue records in ascending seq order.
// Temp files and unparseable names are skipped.
func (a *Area) queueEntries() ([]queueEntry, error) {
	dirents, err := os.ReadDir(a.queueDir)
	if err != nil {
		return nil, fmt.Errorf("reading queue directory: %w", err)
	}

	var entries []queueEntry
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		base := strings.TrimSuffix(name, recordSuffix)
		seqStr, opID, ok := strings.Cut(base, "-")
		if !ok {
			continue
		}
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, queueEntry{seq: seq, opID: opID, name: name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries, nil
}

func (a *Area) loadOperation(e queueEntry) (*bt.StagedOperation, error) {
	data, err := os.ReadFile(filepath.Join(a.queueDir, e.name))
	if err != nil {
		return nil, fmt.Errorf("reading queue record %s: %w", e.name, err)
	}
	r, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("queue record %s: %w", e.name, err)
	}
	return &bt.StagedOperation{
		Seq:         e.seq,
		OpID:        r.OpID,
		FileID:      r.FileID,
		DirectoryID: r.DirectoryID,
		Name:        r.Name,
		Digest:      r.Digest,
		Stats:       r.Stats,
		SourcePath:  r.SourcePath,
		BlobPath:    filepath.Join(a.stagingDir, r.OpID+blobSuffix),
	}, nil
}

func recordName(seq uint64, opID string) string {
	return fmt.Sprintf("%020d-%s%s", seq, opID, recordSuffix)
}

// syncDir makes a rename or unlink in dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing directory: %w", err)
	}
	return nil
}

// Compile-time check.
var _ bt.StagingArea = (*Area)(nil)
