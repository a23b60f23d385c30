package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"bt/internal/bt"
)

// FilesystemVault stores content and metadata under a directory root:
//
//	<root>/content/<digest>
//	<root>/metadata/<host_id>
//
// Writes go to a temporary sibling and are renamed into place, so no
// partial object is ever observable.
type FilesystemVault struct {
	name        string
	root        string
	contentDir  string
	metadataDir string
}

// NewFilesystemVault creates a filesystem vault rooted at root.
func NewFilesystemVault(name, root string) (*FilesystemVault, error) {
	v := &FilesystemVault{
		name:        name,
		root:        root,
		contentDir:  filepath.Join(root, "content"),
		metadataDir: filepath.Join(root, "metadata"),
	}
	for _, dir := range []string{v.contentDir, v.metadataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating vault directory: %w", err)
		}
	}
	return v, nil
}

func (v *FilesystemVault) Name() string { return v.name }

// PutContent uploads the bytes at sourcePath under the digest. If the object
// already exists the call is a no-op. The bytes are hashed while copying and
// the write is discarded on a digest mismatch.
func (v *FilesystemVault) PutContent(ctx context.Context, digest, sourcePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := filepath.Join(v.contentDir, digest)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	actual, err := v.copyVerified(sourcePath, dest)
	if err != nil {
		return err
	}
	if actual != digest {
		os.Remove(dest)
		return fmt.Errorf("content %s hashed to %s: %w", digest, actual, bt.ErrCorrupt)
	}
	return nil
}

// GetContent streams the object to outputPath, verifying the digest. On a
// mismatch the partial file is deleted and ErrCorrupt returned.
func (v *FilesystemVault) GetContent(ctx context.Context, digest, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src := filepath.Join(v.contentDir, digest)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("content %s: %w", digest, bt.ErrNotFound)
		}
		return fmt.Errorf("stat content: %w", err)
	}

	actual, err := v.copyVerified(src, outputPath)
	if err != nil {
		return err
	}
	if actual != digest {
		os.Remove(outputPath)
		return fmt.Errorf("content %s downloaded as %s: %w", digest, actual, bt.ErrCorrupt)
	}
	return nil
}

// PutMetadata uploads the metadata database under the host's slot,
// overwriting any previous copy.
func (v *FilesystemVault) PutMetadata(ctx context.Context, hostID, sourcePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := v.copyVerified(sourcePath, filepath.Join(v.metadataDir, hostID))
	return err
}

// GetMetadata downloads the host's metadata blob.
func (v *FilesystemVault) GetMetadata(ctx context.Context, hostID, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src := filepath.Join(v.metadataDir, hostID)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("metadata for host %s: %w", hostID, bt.ErrNotFound)
		}
		return fmt.Errorf("stat metadata: %w", err)
	}
	_, err := v.copyVerified(src, outputPath)
	return err
}

// ValidateSetup creates the namespace directories and roundtrips a probe
// object through each.
func (v *FilesystemVault) ValidateSetup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, dir := range []string{v.contentDir, v.metadataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating vault directory: %w", err)
		}

		probe := filepath.Join(dir, ".bt-probe")
		if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
			return fmt.Errorf("writing probe object: %w", err)
		}
		if _, err := os.ReadFile(probe); err != nil {
			os.Remove(probe)
			return fmt.Errorf("reading probe object: %w", err)
		}
		if err := os.Remove(probe); err != nil {
			return fmt.Errorf("deleting probe object: %w", err)
		}
	}
	return nil
}

// copyVerified copies src into dest via a temporary sibling and an atomic
// rename, returning the hex SHA-256 of the copied bytes.
func (v *FilesystemVault) copyVerified(src, dest string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	h := sha256.New()
	buf := make([]byte, hashBufSize)
	if _, err := io.CopyBuffer(io.MultiWriter(tmp, h), in, buf); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("copying: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming into place: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compile-time check.
var _ bt.Vault = (*FilesystemVault)(nil)
