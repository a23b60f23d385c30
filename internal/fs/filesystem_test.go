package fs

import (
	"os"
	"path/filepath"
	"testing"

	"bt/internal/bt"
	"bt/internal/testutil"
)

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	file := testutil.WriteFile(t, dir, "a.txt", "hello")

	m := NewManager(nil)

	p, err := m.Resolve(file)
	if err != nil {
		t.Fatalf("Resolve(file): %v", err)
	}
	if p.IsDir() {
		t.Error("regular file resolved as directory")
	}

	d, err := m.Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve(dir): %v", err)
	}
	if !d.IsDir() {
		t.Error("directory not resolved as directory")
	}

	if _, err := m.Resolve(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestResolveRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := testutil.WriteFile(t, dir, "target.txt", "x")
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	if _, err := NewManager(nil).Resolve(link); err == nil {
		t.Error("expected error resolving a symlink")
	}
}

func TestDigestOf(t *testing.T) {
	dir := t.TempDir()
	file := testutil.WriteFile(t, dir, "hi.txt", "hi\n")

	m := NewManager(nil)
	p, err := m.Resolve(file)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	digest, err := m.DigestOf(p)
	if err != nil {
		t.Fatalf("DigestOf: %v", err)
	}
	if want := testutil.HashOf("hi\n"); digest != want {
		t.Errorf("digest = %s, want %s", digest, want)
	}
}

func TestCopyToStaging(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteFile(t, dir, "data.bin", "payload bytes")

	m := NewManager(nil)
	p, err := m.Resolve(src)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "copy.blob")
	digest, size, err := m.CopyToStaging(p, dst)
	if err != nil {
		t.Fatalf("CopyToStaging: %v", err)
	}
	if want := testutil.HashOf("payload bytes"); digest != want {
		t.Errorf("digest = %s, want %s", digest, want)
	}
	if size != int64(len("payload bytes")) {
		t.Errorf("size = %d, want %d", size, len("payload bytes"))
	}

	copied, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading copy: %v", err)
	}
	if string(copied) != "payload bytes" {
		t.Errorf("copy content = %q", copied)
	}
}

func TestWalkOrderAndIgnores(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "b.txt", "b")
	testutil.WriteFile(t, root, "a.txt", "a")
	testutil.WriteFile(t, root, "skip.log", "log")
	testutil.WriteFile(t, root, "sub/c.txt", "c")
	testutil.WriteFile(t, root, "sub/d.log", "log")

	m := NewManager([]string{"*.log"})
	rootPath, err := m.Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	files, err := m.Walk(rootPath, root, false)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	got := relNames(t, root, files)
	want := []string{"a.txt", "b.txt", "sub/c.txt"}
	if len(got) != len(want) {
		t.Fatalf("walked %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("walked %v, want %v", got, want)
		}
	}

	// includeIgnored surfaces everything for status labeling.
	all, err := m.Walk(rootPath, root, true)
	if err != nil {
		t.Fatalf("Walk(includeIgnored): %v", err)
	}
	if len(all) != 5 {
		t.Errorf("includeIgnored walked %d files, want 5", len(all))
	}
}

func TestWalkHonorsNestedBtignore(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "keep.txt", "k")
	testutil.WriteFile(t, root, "sub/.btignore", "secret.txt\n")
	testutil.WriteFile(t, root, "sub/secret.txt", "s")
	testutil.WriteFile(t, root, "sub/open.txt", "o")

	m := NewManager(nil)
	rootPath, err := m.Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	files, err := m.Walk(rootPath, root, false)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	got := relNames(t, root, files)
	want := []string{"keep.txt", "sub/open.txt"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("walked %v, want %v", got, want)
	}
}

func relNames(t *testing.T, root string, paths []*bt.Path) []string {
	t.Helper()
	var names []string
	for _, p := range paths {
		rel, err := filepath.Rel(root, p.String())
		if err != nil {
			t.Fatalf("Rel: %v", err)
		}
		names = append(names, filepath.ToSlash(rel))
	}
	return names
}
