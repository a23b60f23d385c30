package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"bt/internal/bt"
	"bt/internal/database/migrations"
	"bt/internal/model"
)

// DB implements bt.Database on a single-file SQLite database.
//
// All timestamps are stored as 64-bit nanoseconds since epoch, UTC.
// synchronous=FULL makes every transaction commit durable before it returns,
// which the WAL commit protocol relies on before retiring queue entries.
type DB struct {
	db    *sql.DB
	path  string
	clock bt.Clock
	idgen bt.IDGenerator
}

// Open opens (creating if needed) the metadata database at path and applies
// any pending migrations. clock and idgen may be nil, in which case the real
// clock and random UUIDs are used.
func Open(path string, clock bt.Clock, idgen bt.IDGenerator) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return New(db, path, clock, idgen), nil
}

// New wraps an existing connection. The caller remains responsible for
// schema setup when not going through Open.
func New(db *sql.DB, path string, clock bt.Clock, idgen bt.IDGenerator) *DB {
	if clock == nil {
		clock = bt.RealClock{}
	}
	if idgen == nil {
		idgen = bt.UUIDGenerator{}
	}
	return &DB{db: db, path: path, clock: clock, idgen: idgen}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the store depends on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// The metadata store is single-writer; one connection avoids SQLITE_BUSY
	// surprises between the pool's connections.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// Timestamp codec: INTEGER nanoseconds since epoch, UTC.

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// Directory operations

func (d *DB) FindDirectoryByPath(p string) (*model.Directory, error) {
	row := d.db.QueryRow(`SELECT id, path, created_at FROM directories WHERE path = ?`, p)
	dir, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding directory by path: %w", err)
	}
	return dir, nil
}

func (d *DB) SearchDirectoryForPath(p string) (*model.Directory, error) {
	// The tracked roots form an antichain, so at most one of them is p or an
	// ancestor of p. substr comparison keeps the prefix test on path
	// boundaries ("/a/bc" is not under "/a/b").
	row := d.db.QueryRow(
		`SELECT id, path, created_at FROM directories
		 WHERE path = ?1 OR substr(?1, 1, length(path) + 1) = path || '/'
		 ORDER BY length(path) LIMIT 1`, p)
	dir, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("searching directory for path: %w", err)
	}
	return dir, nil
}

func (d *DB) FindDirectoriesByPathPrefix(p string) ([]*model.Directory, error) {
	rows, err := d.db.Query(
		`SELECT id, path, created_at FROM directories WHERE path LIKE ? ESCAPE '\' ORDER BY path`,
		likePrefix(p)+"/%")
	if err != nil {
		return nil, fmt.Errorf("finding directories by prefix: %w", err)
	}
	defer rows.Close()

	var dirs []*model.Directory
	for rows.Next() {
		dir, err := scanDirectory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning directory: %w", err)
		}
		dirs = append(dirs, dir)
	}
	return dirs, rows.Err()
}

func (d *DB) CreateDirectory(p string) (*model.Directory, error) {
	ctx := context.Background()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// The antichain invariant: refuse if a tracked ancestor already exists.
	var ancestors int
	err = tx.QueryRow(
		`SELECT count(*) FROM directories
		 WHERE path = ?1 OR substr(?1, 1, length(path) + 1) = path || '/'`, p).Scan(&ancestors)
	if err != nil {
		return nil, fmt.Errorf("checking ancestors: %w", err)
	}
	if ancestors > 0 {
		return nil, fmt.Errorf("directory or an ancestor is already tracked: %s", p)
	}

	dir := &model.Directory{
		ID:        d.idgen.New(),
		Path:      p,
		CreatedAt: d.clock.Now(),
	}
	_, err = tx.Exec(`INSERT INTO directories (id, path, created_at) VALUES (?, ?, ?)`,
		dir.ID, dir.Path, toNanos(dir.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting directory: %w", err)
	}

	// Consolidate: absorb previously tracked roots under p, preserving file
	// identity and snapshot history.
	children, err := queryDirectories(tx,
		`SELECT id, path, created_at FROM directories WHERE path LIKE ? ESCAPE '\' AND id != ?`,
		likePrefix(p)+"/%", dir.ID)
	if err != nil {
		return nil, fmt.Errorf("finding child directories: %w", err)
	}

	for _, child := range children {
		suffix := strings.TrimPrefix(child.Path, p+"/")

		rows, err := tx.Query(`SELECT id, name FROM files WHERE directory_id = ?`, child.ID)
		if err != nil {
			return nil, fmt.Errorf("listing files of %s: %w", child.Path, err)
		}
		type fileRow struct{ id, name string }
		var files []fileRow
		for rows.Next() {
			var fr fileRow
			if err := rows.Scan(&fr.id, &fr.name); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning file: %w", err)
			}
			files = append(files, fr)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}

		for _, fr := range files {
			_, err := tx.Exec(`UPDATE files SET directory_id = ?, name = ? WHERE id = ?`,
				dir.ID, path.Join(suffix, fr.name), fr.id)
			if err != nil {
				return nil, fmt.Errorf("reparenting file %s: %w", fr.name, err)
			}
		}

		if _, err := tx.Exec(`DELETE FROM directories WHERE id = ?`, child.ID); err != nil {
			return nil, fmt.Errorf("deleting child directory %s: %w", child.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return dir, nil
}

// File operations

func (d *DB) FindFilesByDirectory(dir *model.Directory) ([]*model.File, error) {
	rows, err := d.db.Query(
		`SELECT id, directory_id, name, current_snapshot_id, deleted FROM files
		 WHERE directory_id = ? ORDER BY name`, dir.ID)
	if err != nil {
		return nil, fmt.Errorf("finding files by directory: %w", err)
	}
	defer rows.Close()

	var files []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (d *DB) FindFileByPath(dir *model.Directory, relativePath string) (*model.File, error) {
	row := d.db.QueryRow(
		`SELECT id, directory_id, name, current_snapshot_id, deleted FROM files
		 WHERE directory_id = ? AND name = ?`, dir.ID, relativePath)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file by path: %w", err)
	}
	return f, nil
}

func (d *DB) FindFileByID(id string) (*model.File, error) {
	row := d.db.QueryRow(
		`SELECT id, directory_id, name, current_snapshot_id, deleted FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file by id: %w", err)
	}
	return f, nil
}

func (d *DB) FindOrCreateFile(dir *model.Directory, relativePath string) (*model.File, error) {
	f, err := d.FindFileByPath(dir, relativePath)
	if err != nil {
		return nil, err
	}
	if f != nil {
		return f, nil
	}

	f = &model.File{
		ID:          d.idgen.New(),
		DirectoryID: dir.ID,
		Name:        relativePath,
	}
	_, err = d.db.Exec(
		`INSERT INTO files (id, directory_id, name, current_snapshot_id, deleted)
		 VALUES (?, ?, ?, NULL, 0)`, f.ID, f.DirectoryID, f.Name)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	return f, nil
}

func (d *DB) MarkFileDeleted(fileID string, deleted bool) error {
	if _, err := d.db.Exec(`UPDATE files SET deleted = ? WHERE id = ?`, deleted, fileID); err != nil {
		return fmt.Errorf("marking file deleted: %w", err)
	}
	return nil
}

// Snapshot operations

func (d *DB) AppendSnapshot(snapshot *model.FileSnapshot) error {
	ctx := context.Background()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// Idempotent content insert: the row may exist from an earlier snapshot
	// of the same bytes, here or for another file.
	_, err = tx.Exec(`INSERT OR IGNORE INTO contents (id, created_at) VALUES (?, ?)`,
		snapshot.ContentID, toNanos(snapshot.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting content: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO file_snapshots
		   (id, file_id, content_id, created_at, size, permissions, uid, gid,
		    accessed_at, modified_at, changed_at, born_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshot.ID, snapshot.FileID, snapshot.ContentID, toNanos(snapshot.CreatedAt),
		snapshot.Size, snapshot.Permissions, snapshot.UID, snapshot.GID,
		toNanos(snapshot.AccessedAt), toNanos(snapshot.ModifiedAt), toNanos(snapshot.ChangedAt),
		toNullNanos(snapshot.BornAt))
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	_, err = tx.Exec(`UPDATE files SET current_snapshot_id = ? WHERE id = ?`,
		snapshot.ID, snapshot.FileID)
	if err != nil {
		return fmt.Errorf("updating current snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const snapshotColumns = `id, file_id, content_id, created_at, size, permissions, uid, gid,
	accessed_at, modified_at, changed_at, born_at`

func (d *DB) ListSnapshots(fileID string) ([]*model.FileSnapshot, error) {
	rows, err := d.db.Query(
		`SELECT `+snapshotColumns+` FROM file_snapshots
		 WHERE file_id = ? ORDER BY created_at DESC, rowid DESC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*model.FileSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

func (d *DB) FindSnapshotByID(id string) (*model.FileSnapshot, error) {
	row := d.db.QueryRow(`SELECT `+snapshotColumns+` FROM file_snapshots WHERE id = ?`, id)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding snapshot by id: %w", err)
	}
	return s, nil
}

func (d *DB) FindSnapshotByDigest(fileID string, digest string) (*model.FileSnapshot, error) {
	row := d.db.QueryRow(
		`SELECT `+snapshotColumns+` FROM file_snapshots
		 WHERE file_id = ? AND content_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, fileID, digest)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding snapshot by digest: %w", err)
	}
	return s, nil
}

// Content operations

func (d *DB) FindContentByDigest(digest string) (*model.Content, error) {
	row := d.db.QueryRow(`SELECT id, created_at FROM contents WHERE id = ?`, digest)
	var c model.Content
	var createdAt int64
	err := row.Scan(&c.ID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding content by digest: %w", err)
	}
	c.CreatedAt = fromNanos(createdAt)
	return &c, nil
}

// Operation journal

func (d *DB) CreateBackupOperation(operation, parameters string) (*model.BackupOperation, error) {
	op := &model.BackupOperation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  d.clock.Now(),
		Status:     "success",
	}
	res, err := d.db.Exec(
		`INSERT INTO backup_operations (operation, parameters, started_at, status)
		 VALUES (?, ?, ?, ?)`, op.Operation, op.Parameters, toNanos(op.StartedAt), op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating backup operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return op, nil
}

func (d *DB) FinishBackupOperation(id int64, status string) error {
	_, err := d.db.Exec(
		`UPDATE backup_operations SET finished_at = ?, status = ? WHERE id = ?`,
		toNanos(d.clock.Now()), status, id)
	if err != nil {
		return fmt.Errorf("finishing backup operation: %w", err)
	}
	return nil
}

func (d *DB) ListBackupOperations(limit int) ([]*model.BackupOperation, error) {
	rows, err := d.db.Query(
		`SELECT id, operation, parameters, started_at, finished_at, status
		 FROM backup_operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing backup operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.BackupOperation
	for rows.Next() {
		var op model.BackupOperation
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &started, &finished, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning backup operation: %w", err)
		}
		op.StartedAt = fromNanos(started)
		op.FinishedAt = fromNullNanos(finished)
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// BackupTo writes a consistent copy of the database to destPath using
// VACUUM INTO. destPath must not exist.
func (d *DB) BackupTo(destPath string) error {
	if _, err := d.db.Exec(`VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDirectory(r rowScanner) (*model.Directory, error) {
	var dir model.Directory
	var createdAt int64
	if err := r.Scan(&dir.ID, &dir.Path, &createdAt); err != nil {
		return nil, err
	}
	dir.CreatedAt = fromNanos(createdAt)
	return &dir, nil
}

func scanFile(r rowScanner) (*model.File, error) {
	var f model.File
	var current sql.NullString
	if err := r.Scan(&f.ID, &f.DirectoryID, &f.Name, &current, &f.Deleted); err != nil {
		return nil, err
	}
	f.CurrentSnapshotID = current.String
	return &f, nil
}

func scanSnapshot(r rowScanner) (*model.FileSnapshot, error) {
	var s model.FileSnapshot
	var createdAt, accessedAt, modifiedAt, changedAt int64
	var bornAt sql.NullInt64
	err := r.Scan(&s.ID, &s.FileID, &s.ContentID, &createdAt, &s.Size, &s.Permissions,
		&s.UID, &s.GID, &accessedAt, &modifiedAt, &changedAt, &bornAt)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = fromNanos(createdAt)
	s.AccessedAt = fromNanos(accessedAt)
	s.ModifiedAt = fromNanos(modifiedAt)
	s.ChangedAt = fromNanos(changedAt)
	s.BornAt = fromNullNanos(bornAt)
	return &s, nil
}

func queryDirectories(tx *sql.Tx, query string, args ...any) ([]*model.Directory, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dirs []*model.Directory
	for rows.Next() {
		dir, err := scanDirectory(rows)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	return dirs, rows.Err()
}

// likePrefix escapes LIKE metacharacters in a literal path prefix.
func likePrefix(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(p)
}

// Compile-time check.
var _ bt.Database = (*DB)(nil)
