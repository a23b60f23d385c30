package bt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bt/internal/model"
)

// BackupAll drains the staging queue in sequence order, committing each
// operation: upload to every vault, append the snapshot in one durable
// transaction, then retire the queue entry and blob. A failed head operation
// stops the run; the next invocation retries from the head.
//
// After the queue drains, if anything was committed this cycle the metadata
// database is mirrored to every vault's metadata slot.
// Returns the number of operations committed.
func (s *Service) BackupAll(ctx context.Context) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		op, err := s.staging.Next()
		if err != nil {
			return processed, fmt.Errorf("reading staging queue: %w", err)
		}
		if op == nil {
			break
		}

		if err := s.commitOne(ctx, op); err != nil {
			s.logger.Error("commit failed, operation stays queued",
				"seq", op.Seq, "name", op.Name, "error", err)
			return processed, err
		}
		processed++
	}

	if processed > 0 {
		if err := s.uploadMetadata(ctx); err != nil {
			return processed, err
		}
	}

	s.logger.Info("backup complete", "count", processed)
	return processed, nil
}

// commitOne runs the commit protocol for a single staged operation.
func (s *Service) commitOne(ctx context.Context, op *StagedOperation) error {
	// Recovery rule: a crash between the snapshot commit and cleanup leaves
	// an operation whose effects are already in the database. Re-appending
	// would duplicate the snapshot, so detect it and skip to cleanup.
	done, err := s.alreadyCommitted(op)
	if err != nil {
		return err
	}
	if done {
		s.logger.Info("operation already committed, cleaning up", "seq", op.Seq, "name", op.Name)
		return s.staging.Complete(op)
	}

	// 1. Content into every vault. Uploads by digest are idempotent, so a
	// partially completed earlier attempt retries harmlessly.
	if err := s.uploadContent(ctx, op.Digest, op.BlobPath); err != nil {
		return err
	}

	// 2–3. Snapshot and content rows in one transaction; the store makes the
	// commit durable before returning.
	snap := &model.FileSnapshot{
		ID:          s.idgen.New(),
		FileID:      op.FileID,
		ContentID:   op.Digest,
		CreatedAt:   s.clock.Now(),
		Size:        op.Stats.Size,
		Permissions: op.Stats.Permissions,
		UID:         op.Stats.UID,
		GID:         op.Stats.GID,
		AccessedAt:  op.Stats.AccessedAt,
		ModifiedAt:  op.Stats.ModifiedAt,
		ChangedAt:   op.Stats.ChangedAt,
		BornAt:      op.Stats.BornAt,
	}
	if err := s.db.AppendSnapshot(snap); err != nil {
		return fmt.Errorf("recording snapshot: %w", err)
	}

	// 4. Retire the queue entry, then the blob.
	if err := s.staging.Complete(op); err != nil {
		return err
	}

	s.logger.Info("file backed up", "name", op.Name, "digest", op.Digest)
	return nil
}

// alreadyCommitted reports whether the head op's digest and stats equal the
// file's current snapshot.
func (s *Service) alreadyCommitted(op *StagedOperation) (bool, error) {
	file, err := s.db.FindFileByID(op.FileID)
	if err != nil {
		return false, err
	}
	if file == nil || file.CurrentSnapshotID == "" {
		return false, nil
	}

	snap, err := s.db.FindSnapshotByID(file.CurrentSnapshotID)
	if err != nil {
		return false, err
	}
	if snap == nil || snap.ContentID != op.Digest {
		return false, nil
	}
	return snapshotMatchesStats(snap, op.Stats), nil
}

// snapshotMatchesStats compares everything but atime, which our own staging
// read is allowed to have bumped between two stagings of an unchanged file.
func snapshotMatchesStats(snap *model.FileSnapshot, stats FileStats) bool {
	return snap.Size == stats.Size &&
		snap.Permissions == stats.Permissions &&
		snap.UID == stats.UID &&
		snap.GID == stats.GID &&
		snap.ModifiedAt.Equal(stats.ModifiedAt) &&
		snap.ChangedAt.Equal(stats.ChangedAt) &&
		equalBornAt(snap.BornAt, stats.BornAt)
}

// uploadContent fans the blob out to every vault concurrently. All must
// succeed.
func (s *Service) uploadContent(ctx context.Context, digest, blobPath string) error {
	errs := make([]error, len(s.vaults))
	var wg sync.WaitGroup
	for i, v := range s.vaults {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := v.PutContent(ctx, digest, blobPath); err != nil {
				errs[i] = fmt.Errorf("vault %s: %w", v.Name(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// uploadMetadata mirrors a consistent copy of the metadata database to every
// vault's metadata slot. Never the live file.
func (s *Service) uploadMetadata(ctx context.Context) error {
	tmpDir, err := os.MkdirTemp("", "bt-metadata-*")
	if err != nil {
		return fmt.Errorf("creating metadata temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, "metadata.db")
	if err := s.db.BackupTo(tmpPath); err != nil {
		return err
	}

	errs := make([]error, len(s.vaults))
	var wg sync.WaitGroup
	for i, v := range s.vaults {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := v.PutMetadata(ctx, s.hostID, tmpPath); err != nil {
				errs[i] = fmt.Errorf("vault %s: %w", v.Name(), err)
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("uploading metadata: %w", err)
	}
	s.logger.Info("metadata uploaded", "host", s.hostID)
	return nil
}
