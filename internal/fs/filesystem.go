package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bt/internal/bt"
)

// digestBufSize is the buffer used for streaming hashes and staging copies,
// so large files never load whole into memory.
const digestBufSize = 8 << 20

// Manager is the real-filesystem implementation of bt.FilesystemManager.
// Ignore matchers are compiled per tracked root and refreshed when a
// .btignore file is observed to have changed.
type Manager struct {
	globalIgnore []string

	mu       sync.Mutex
	matchers map[string]*cachedMatcher
}

type cachedMatcher struct {
	matcher *Matcher
	sources map[string]time.Time // .btignore path -> mtime at compile
}

// NewManager creates a filesystem manager with the given global ignore
// patterns from configuration.
func NewManager(globalIgnore []string) *Manager {
	return &Manager{
		globalIgnore: globalIgnore,
		matchers:     make(map[string]*cachedMatcher),
	}
}

// Resolve canonicalizes rawPath and validates it names a regular file or
// directory. Symlinks, devices, pipes and sockets are rejected.
func (m *Manager) Resolve(rawPath string) (*bt.Path, error) {
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	abs = filepath.Clean(abs)

	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("path does not exist: %s: %w", abs, bt.ErrNotFound)
		}
		return nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	if mode&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlinks not supported: %s", abs)
	}
	if !mode.IsRegular() && !mode.IsDir() {
		return nil, fmt.Errorf("special files not supported: %s", abs)
	}

	return bt.NewPath(abs, info.IsDir()), nil
}

// Stat returns a fresh stat record for the path.
func (m *Manager) Stat(path *bt.Path) (bt.FileStats, error) {
	info, err := os.Lstat(path.String())
	if err != nil {
		return bt.FileStats{}, fmt.Errorf("stat %s: %w", path.String(), err)
	}
	return statsFromInfo(info)
}

// DigestOf streams the file and returns its hex SHA-256 digest.
func (m *Manager) DigestOf(path *bt.Path) (string, error) {
	f, err := os.Open(path.String())
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path.String(), err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, digestBufSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path.String(), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CopyToStaging copies the file's bytes to dst, recording the digest while
// copying. Content only; no metadata is preserved.
func (m *Manager) CopyToStaging(src *bt.Path, dst string) (string, int64, error) {
	in, err := os.Open(src.String())
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", src.String(), err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("creating staging copy: %w", err)
	}

	h := sha256.New()
	buf := make([]byte, digestBufSize)
	size, err := io.CopyBuffer(io.MultiWriter(out, h), in, buf)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return "", 0, fmt.Errorf("copying to staging: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return "", 0, fmt.Errorf("syncing staging copy: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", 0, fmt.Errorf("closing staging copy: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// Walk returns the regular files under root in lexical order. Symlinks are
// never followed. rootDir is the tracked root whose ignore rules apply.
func (m *Manager) Walk(root *bt.Path, rootDir string, includeIgnored bool) ([]*bt.Path, error) {
	if !root.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root.String())
	}

	matcher, err := m.matcherFor(rootDir)
	if err != nil {
		return nil, err
	}

	var paths []*bt.Path
	err = filepath.WalkDir(root.String(), func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(rootDir, p)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if p != root.String() && !includeIgnored && matcher.Ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !includeIgnored && matcher.Ignored(rel, false) {
			return nil
		}
		paths = append(paths, bt.NewPath(p, false))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root.String(), err)
	}
	return paths, nil
}

// IsIgnored reports whether path matches the ignore rules of the tracked
// directory rooted at rootDir.
func (m *Manager) IsIgnored(path *bt.Path, rootDir string) (bool, error) {
	matcher, err := m.matcherFor(rootDir)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(rootDir, path.String())
	if err != nil {
		return false, fmt.Errorf("relativizing %s: %w", path.String(), err)
	}
	return matcher.Ignored(filepath.ToSlash(rel), path.IsDir()), nil
}

// matcherFor returns the compiled matcher for a tracked root, rebuilding it
// when any previously seen .btignore changed. Ignore files created after the
// first compile are picked up on the next rebuild.
func (m *Manager) matcherFor(rootDir string) (*Matcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.matchers[rootDir]; ok && cached.fresh() {
		return cached.matcher, nil
	}

	matcher := NewMatcher(m.globalIgnore)
	sources := make(map[string]time.Time)

	err := filepath.WalkDir(rootDir, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != IgnoreFileName {
			return nil
		}
		baseRel, rerr := filepath.Rel(rootDir, filepath.Dir(p))
		if rerr != nil {
			return rerr
		}
		if baseRel == "." {
			baseRel = ""
		}
		if err := matcher.AddIgnoreFile(p, filepath.ToSlash(baseRel)); err != nil {
			return err
		}
		if info, ierr := d.Info(); ierr == nil {
			sources[p] = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting ignore files under %s: %w", rootDir, err)
	}

	m.matchers[rootDir] = &cachedMatcher{matcher: matcher, sources: sources}
	return matcher, nil
}

func (c *cachedMatcher) fresh() bool {
	for p, mtime := range c.sources {
		info, err := os.Lstat(p)
		if err != nil || !info.ModTime().Equal(mtime) {
			return false
		}
	}
	return true
}

// Compile-time check.
var _ bt.FilesystemManager = (*Manager)(nil)
