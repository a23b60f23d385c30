package bt

// Path is a validated, canonicalized absolute filesystem path. Values are
// created by FilesystemManager.Resolve, which rejects symlinks and other
// irregular entries.
type Path struct {
	abs   string
	isDir bool
}

// NewPath builds a Path from its components. For use by FilesystemManager
// implementations.
func NewPath(abs string, isDir bool) *Path {
	return &Path{abs: abs, isDir: isDir}
}

// String returns the absolute path.
func (p *Path) String() string { return p.abs }

// IsDir reports whether the path pointed at a directory when resolved.
func (p *Path) IsDir() bool { return p.isDir }
