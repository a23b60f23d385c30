package bt

import "context"

// Vault is a remote content-addressed object store plus a per-host metadata
// slot. All payload methods operate over file paths, never whole-file
// buffers, so large files stream.
//
// Key scheme, shared by every backend: content/<digest>, metadata/<host_id>.
type Vault interface {
	// Name identifies the vault in logs and error messages.
	Name() string

	// PutContent uploads the bytes at sourcePath under the content digest.
	// Idempotent: if an object with that digest already exists the call
	// succeeds without re-upload. Implementations verify the uploaded bytes
	// hash to digest.
	PutContent(ctx context.Context, digest string, sourcePath string) error

	// GetContent streams the object to outputPath and verifies its hash.
	// On a mismatch the partial file is deleted and ErrCorrupt returned.
	GetContent(ctx context.Context, digest string, outputPath string) error

	// PutMetadata uploads the metadata database under the host's slot,
	// overwriting any previous copy.
	PutMetadata(ctx context.Context, hostID string, sourcePath string) error

	// GetMetadata downloads the most recent metadata blob for the host.
	// Returns ErrNotFound if none exists.
	GetMetadata(ctx context.Context, hostID string, outputPath string) error

	// ValidateSetup performs idempotent backend initialization and a
	// permission probe (create namespaces, roundtrip a probe object).
	ValidateSetup(ctx context.Context) error
}
