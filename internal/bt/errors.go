package bt

import "errors"

// Error taxonomy. A failure that falls into one of these kinds wraps the
// matching sentinel so the orchestrator (and the CLI) can decide policy with
// errors.Is. Not every error carries one: rejected symlinks or special files,
// an already tracked ancestor, an explicitly named ignored file, and plain
// I/O errors wrap no sentinel.
var (
	// ErrTransient marks failures worth retrying: network timeouts, 5xx
	// responses, temporary disk pressure.
	ErrTransient = errors.New("transient failure")

	// ErrCorrupt marks a digest mismatch or a truncated artifact. Fatal to
	// the operation; the WAL entry stays queued for operator attention.
	ErrCorrupt = errors.New("corrupt content")

	// ErrFileMutated is returned by staging when a file changed between the
	// two stat calls bracketing the content copy. Per-file; skip and continue.
	ErrFileMutated = errors.New("file mutated during staging")

	// ErrNotTracked is a user error: the path is not inside a tracked directory.
	ErrNotTracked = errors.New("not tracked")

	// ErrNotFound is a user error: no such file, snapshot, or vault object.
	ErrNotFound = errors.New("not found")

	// ErrAuthDenied is fatal to the run: the vault rejected our credentials.
	ErrAuthDenied = errors.New("authorization denied")

	// ErrConfigInvalid is fatal to the run: the configuration cannot be used.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrFatal covers everything that must stop the process while preserving
	// persistent state: DB corruption, lock contention.
	ErrFatal = errors.New("fatal")
)
