package database_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"bt/internal/database"
	"bt/internal/model"
	"bt/internal/testutil"
)

type DB = database.DB

func newTestDB(t *testing.T) (*DB, *testutil.FixedClock) {
	t.Helper()
	clock := testutil.NewFixedClock()
	db, err := database.Open(filepath.Join(t.TempDir(), "metadata.db"), clock, &testutil.SeqIDGenerator{})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, clock
}

func mustCreateDir(t *testing.T, db *DB, path string) *model.Directory {
	t.Helper()
	dir, err := db.CreateDirectory(path)
	if err != nil {
		t.Fatalf("CreateDirectory(%s): %v", path, err)
	}
	return dir
}

func snapshotFor(fileID, digest string, at time.Time) *model.FileSnapshot {
	return &model.FileSnapshot{
		ID:          "snap-" + fileID + "-" + digest[:8] + "-" + strconv.FormatInt(at.UnixNano(), 10),
		FileID:      fileID,
		ContentID:   digest,
		CreatedAt:   at,
		Size:        3,
		Permissions: 0o644,
		UID:         1000,
		GID:         1000,
		AccessedAt:  at,
		ModifiedAt:  at,
		ChangedAt:   at,
	}
}

func TestDirectoryLookup(t *testing.T) {
	db, _ := newTestDB(t)
	mustCreateDir(t, db, "/home/user/docs")

	dir, err := db.FindDirectoryByPath("/home/user/docs")
	if err != nil {
		t.Fatalf("FindDirectoryByPath: %v", err)
	}
	if dir == nil {
		t.Fatal("exact match not found")
	}

	if dir, _ := db.FindDirectoryByPath("/home/user"); dir != nil {
		t.Error("exact match must not hit ancestors")
	}

	inside, err := db.SearchDirectoryForPath("/home/user/docs/sub/file.txt")
	if err != nil {
		t.Fatalf("SearchDirectoryForPath: %v", err)
	}
	if inside == nil || inside.Path != "/home/user/docs" {
		t.Errorf("search inside = %+v, want /home/user/docs", inside)
	}

	// Prefix comparison must respect path boundaries.
	if dir, _ := db.SearchDirectoryForPath("/home/user/docs2/file.txt"); dir != nil {
		t.Error("sibling with shared string prefix must not match")
	}

	self, _ := db.SearchDirectoryForPath("/home/user/docs")
	if self == nil {
		t.Error("search must match the directory itself")
	}
}

func TestFindDirectoriesByPathPrefix(t *testing.T) {
	db, _ := newTestDB(t)
	mustCreateDir(t, db, "/t/a")
	mustCreateDir(t, db, "/t/b/c")
	mustCreateDir(t, db, "/taxes")

	dirs, err := db.FindDirectoriesByPathPrefix("/t")
	if err != nil {
		t.Fatalf("FindDirectoriesByPathPrefix: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("got %d directories, want 2 (strictly under /t)", len(dirs))
	}
	if dirs[0].Path != "/t/a" || dirs[1].Path != "/t/b/c" {
		t.Errorf("dirs = %s, %s", dirs[0].Path, dirs[1].Path)
	}
}

func TestCreateDirectoryRejectsTrackedAncestor(t *testing.T) {
	db, _ := newTestDB(t)
	mustCreateDir(t, db, "/t")

	if _, err := db.CreateDirectory("/t/sub"); err == nil {
		t.Error("tracking under an existing root must fail (antichain)")
	}
	if _, err := db.CreateDirectory("/t"); err == nil {
		t.Error("re-tracking the same path must fail")
	}
}

func TestConsolidation(t *testing.T) {
	db, clock := newTestDB(t)

	sub := mustCreateDir(t, db, "/t/sub")
	other := mustCreateDir(t, db, "/t/deep/nested")

	f1, err := db.FindOrCreateFile(sub, "x")
	if err != nil {
		t.Fatalf("FindOrCreateFile: %v", err)
	}
	if _, err := db.FindOrCreateFile(other, "a/b.txt"); err != nil {
		t.Fatalf("FindOrCreateFile: %v", err)
	}

	digest := testutil.HashOf("v1")
	if err := db.AppendSnapshot(snapshotFor(f1.ID, digest, clock.Now())); err != nil {
		t.Fatalf("AppendSnapshot: %v", err)
	}

	// Track the ancestor: both children are absorbed.
	parent := mustCreateDir(t, db, "/t")

	if d, _ := db.FindDirectoryByPath("/t/sub"); d != nil {
		t.Error("child directory should be deleted after consolidation")
	}
	if d, _ := db.FindDirectoryByPath("/t/deep/nested"); d != nil {
		t.Error("nested child directory should be deleted after consolidation")
	}

	moved, err := db.FindFileByPath(parent, "sub/x")
	if err != nil {
		t.Fatalf("FindFileByPath: %v", err)
	}
	if moved == nil {
		t.Fatal("file not reparented under /t as sub/x")
	}
	if moved.ID != f1.ID {
		t.Error("file identity must be preserved across consolidation")
	}

	// Snapshot history untouched.
	snaps, err := db.ListSnapshots(moved.ID)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ContentID != digest {
		t.Errorf("snapshots after consolidation = %+v", snaps)
	}

	if nested, _ := db.FindFileByPath(parent, "deep/nested/a/b.txt"); nested == nil {
		t.Error("nested file not reparented as deep/nested/a/b.txt")
	}
}

func TestFindOrCreateFileIdempotent(t *testing.T) {
	db, _ := newTestDB(t)
	dir := mustCreateDir(t, db, "/t")

	f1, err := db.FindOrCreateFile(dir, "a.txt")
	if err != nil {
		t.Fatalf("FindOrCreateFile: %v", err)
	}
	f2, err := db.FindOrCreateFile(dir, "a.txt")
	if err != nil {
		t.Fatalf("FindOrCreateFile (again): %v", err)
	}
	if f1.ID != f2.ID {
		t.Errorf("expected same file row, got %s and %s", f1.ID, f2.ID)
	}
	if f1.CurrentSnapshotID != "" {
		t.Error("fresh file must have no current snapshot")
	}
}

func TestAppendSnapshot(t *testing.T) {
	db, clock := newTestDB(t)
	dir := mustCreateDir(t, db, "/t")
	file, _ := db.FindOrCreateFile(dir, "f")

	d1 := testutil.HashOf("v1")
	d2 := testutil.HashOf("v2")

	if err := db.AppendSnapshot(snapshotFor(file.ID, d1, clock.Now())); err != nil {
		t.Fatalf("AppendSnapshot v1: %v", err)
	}
	clock.Advance(time.Minute)
	if err := db.AppendSnapshot(snapshotFor(file.ID, d2, clock.Now())); err != nil {
		t.Fatalf("AppendSnapshot v2: %v", err)
	}

	// Current pointer follows the latest snapshot.
	got, err := db.FindFileByID(file.ID)
	if err != nil {
		t.Fatalf("FindFileByID: %v", err)
	}
	current, err := db.FindSnapshotByID(got.CurrentSnapshotID)
	if err != nil {
		t.Fatalf("FindSnapshotByID: %v", err)
	}
	if current.ContentID != d2 {
		t.Errorf("current snapshot content = %s, want %s", current.ContentID, d2)
	}

	// Newest first, created_at non-decreasing in insertion order.
	snaps, err := db.ListSnapshots(file.ID)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	if snaps[0].ContentID != d2 || snaps[1].ContentID != d1 {
		t.Error("snapshots not ordered newest first")
	}
	if snaps[0].CreatedAt.Before(snaps[1].CreatedAt) {
		t.Error("created_at must be non-decreasing in insertion order")
	}

	// Content rows are idempotent and deduplicated.
	clock.Advance(time.Minute)
	if err := db.AppendSnapshot(snapshotFor(file.ID, d2, clock.Now())); err != nil {
		t.Fatalf("AppendSnapshot duplicate content: %v", err)
	}
	content, err := db.FindContentByDigest(d2)
	if err != nil || content == nil {
		t.Fatalf("FindContentByDigest: %v, %v", content, err)
	}

	// Lookup by digest returns the matching version.
	byDigest, err := db.FindSnapshotByDigest(file.ID, d1)
	if err != nil {
		t.Fatalf("FindSnapshotByDigest: %v", err)
	}
	if byDigest == nil || byDigest.ContentID != d1 {
		t.Errorf("FindSnapshotByDigest = %+v", byDigest)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	db, _ := newTestDB(t)
	dir := mustCreateDir(t, db, "/t")
	file, _ := db.FindOrCreateFile(dir, "f")

	born := time.Date(2020, 6, 15, 8, 30, 0, 123456789, time.UTC)
	at := time.Date(2024, 1, 2, 3, 4, 5, 987654321, time.UTC)
	snap := snapshotFor(file.ID, testutil.HashOf("x"), at)
	snap.BornAt = &born

	if err := db.AppendSnapshot(snap); err != nil {
		t.Fatalf("AppendSnapshot: %v", err)
	}

	got, err := db.FindSnapshotByID(snap.ID)
	if err != nil {
		t.Fatalf("FindSnapshotByID: %v", err)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want %v (nanosecond precision)", got.CreatedAt, at)
	}
	if got.BornAt == nil || !got.BornAt.Equal(born) {
		t.Errorf("born_at = %v, want %v", got.BornAt, born)
	}

	// born_at stays nullable.
	snap2 := snapshotFor(file.ID, testutil.HashOf("y"), at)
	if err := db.AppendSnapshot(snap2); err != nil {
		t.Fatalf("AppendSnapshot: %v", err)
	}
	got2, _ := db.FindSnapshotByID(snap2.ID)
	if got2.BornAt != nil {
		t.Errorf("born_at = %v, want nil", got2.BornAt)
	}
}

func TestMarkFileDeleted(t *testing.T) {
	db, _ := newTestDB(t)
	dir := mustCreateDir(t, db, "/t")
	file, _ := db.FindOrCreateFile(dir, "f")

	if err := db.MarkFileDeleted(file.ID, true); err != nil {
		t.Fatalf("MarkFileDeleted: %v", err)
	}
	got, _ := db.FindFileByID(file.ID)
	if !got.Deleted {
		t.Error("file not marked deleted")
	}

	if err := db.MarkFileDeleted(file.ID, false); err != nil {
		t.Fatalf("MarkFileDeleted(false): %v", err)
	}
	got, _ = db.FindFileByID(file.ID)
	if got.Deleted {
		t.Error("deleted flag not cleared")
	}
}

func TestBackupOperationJournal(t *testing.T) {
	db, _ := newTestDB(t)

	op, err := db.CreateBackupOperation("BackupAll", "")
	if err != nil {
		t.Fatalf("CreateBackupOperation: %v", err)
	}
	if op.ID == 0 {
		t.Fatal("operation did not receive an ID")
	}

	if err := db.FinishBackupOperation(op.ID, "success"); err != nil {
		t.Fatalf("FinishBackupOperation: %v", err)
	}

	ops, err := db.ListBackupOperations(10)
	if err != nil {
		t.Fatalf("ListBackupOperations: %v", err)
	}
	if len(ops) != 1 || ops[0].FinishedAt == nil || ops[0].Status != "success" {
		t.Errorf("journal = %+v", ops[0])
	}
}

func TestBackupTo(t *testing.T) {
	db, clock := newTestDB(t)
	dir := mustCreateDir(t, db, "/t")
	file, _ := db.FindOrCreateFile(dir, "f")
	if err := db.AppendSnapshot(snapshotFor(file.ID, testutil.HashOf("x"), clock.Now())); err != nil {
		t.Fatalf("AppendSnapshot: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo: %v", err)
	}

	if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
		t.Fatal("backup copy not written")
	}

	// The copy is a fully usable database.
	copyDB, err := database.Open(dest, nil, nil)
	if err != nil {
		t.Fatalf("opening backup copy: %v", err)
	}
	defer copyDB.Close()

	got, err := copyDB.FindDirectoryByPath("/t")
	if err != nil || got == nil {
		t.Errorf("backup copy missing directory row: %v, %v", got, err)
	}
}
