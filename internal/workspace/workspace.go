// Package workspace manages request-scoped temporary files. Every request
// gets its own uniquely named directory so concurrent compressions never
// collide on the filesystem, and closing the scope removes everything the
// request wrote.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace hands out request-scoped temporary directories under a root.
type Workspace struct {
	root string
}

// New returns a Workspace rooted at dir, creating it if needed.
// An empty dir falls back to the system temp directory.
func New(dir string) (*Workspace, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "tiff-squeeze")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Workspace{root: dir}, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// NewScope creates a fresh uniquely named directory for one request.
func (w *Workspace) NewScope() (*Scope, error) {
	dir := filepath.Join(w.root, uuid.NewString())
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("create request scope: %w", err)
	}
	return &Scope{dir: dir}, nil
}

// Scope is the temporary-resource handle owned by a single request.
// All paths it derives live inside one per-request directory.
type Scope struct {
	dir string
}

// Dir returns the scope directory.
func (s *Scope) Dir() string {
	return s.dir
}

// InputPath returns the path for the uploaded source file.
func (s *Scope) InputPath() string {
	return filepath.Join(s.dir, "input.tiff")
}

// OutputPath returns the path for the compressed artifact.
func (s *Scope) OutputPath() string {
	return filepath.Join(s.dir, "output.tiff")
}

// Close removes the scope directory and everything in it. Removal is best
// effort on the caller's error paths; the returned error must never replace
// the error that led here.
func (s *Scope) Close() error {
	return os.RemoveAll(s.dir)
}
