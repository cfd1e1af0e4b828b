package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/log"
)

// Store persists binary generation outputs under a sandboxed root
// directory. Every path it returns resolves inside that root.
type Store struct {
	root   string
	logger zerolog.Logger
}

// New creates an asset store rooted at dir, creating it if necessary. The
// root is canonicalized once so later prefix checks compare like with like.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset root: %w", err)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return &Store{
		root:   root,
		logger: log.WithComponent("assets"),
	}, nil
}

// Root returns the canonicalized asset root.
func (s *Store) Root() string {
	return s.root
}

// unsafe characters are replaced with '_' in logical filenames.
const unsafeChars = `<>:"/\|?*`

// SanitizeName maps an arbitrary logical filename onto a single safe path
// component. Dot and dot-dot components are rejected outright rather than
// rewritten.
func SanitizeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty asset name: %w", errdefs.ErrPathViolation)
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("asset name %q is a relative component: %w", name, errdefs.ErrPathViolation)
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r == 0 || strings.ContainsRune(unsafeChars, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	out := b.String()
	// Sanitization must not have manufactured a traversal component.
	if out == "." || out == ".." {
		return "", fmt.Errorf("asset name %q sanitizes to a relative component: %w", name, errdefs.ErrPathViolation)
	}
	return out, nil
}

// resolve validates that the sanitized project/name pair lands inside the
// root and returns the absolute target path.
func (s *Store) resolve(projectID, name string) (string, error) {
	safeName, err := SanitizeName(name)
	if err != nil {
		return "", err
	}
	safeProject, err := SanitizeName(projectID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.root, safeProject, safeName)

	// Prefix check on the cleaned absolute path. Join already cleans, but
	// the explicit comparison is the contract, not an optimization.
	if path != s.root && !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes asset root: %w", path, errdefs.ErrPathViolation)
	}
	return path, nil
}

// WriteResult describes a completed atomic write.
type WriteResult struct {
	Path string
	Size int64
}

// Write atomically persists data as <root>/<projectID>/<name>: the bytes
// land in a .part sibling, are fsynced, then renamed over the target.
// An existing target fails unless overwrite is set.
func (s *Store) Write(projectID, name string, data []byte, overwrite bool) (*WriteResult, error) {
	path, err := s.resolve(projectID, name)
	if err != nil {
		return nil, err
	}

	if !overwrite {
		if _, err := os.Lstat(path); err == nil {
			return nil, errdefs.Conflictf("asset file %s already exists", filepath.Base(path))
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}

	part := path + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(part)
		return nil, fmt.Errorf("failed to write asset data: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(part)
		return nil, fmt.Errorf("failed to sync asset data: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return nil, fmt.Errorf("failed to finalize asset file: %w", err)
	}

	s.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("asset written")
	return &WriteResult{Path: path, Size: int64(len(data))}, nil
}

// Remove deletes a previously returned asset path. Paths outside the root
// are refused; a missing file is not an error.
func (s *Store) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve asset path: %w", err)
	}
	if !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %q outside asset root: %w", path, errdefs.ErrPathViolation)
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove asset file: %w", err)
	}
	return nil
}

// RemoveProjectDir deletes a project's asset directory after its files are
// gone. Best-effort: an empty-or-missing directory is fine.
func (s *Store) RemoveProjectDir(projectID string) error {
	safeProject, err := SanitizeName(projectID)
	if err != nil {
		return err
	}
	dir := filepath.Join(s.root, safeProject)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove project directory: %w", err)
	}
	return nil
}

// Contains reports whether path canonically resolves under the asset root.
func (s *Store) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs == s.root || strings.HasPrefix(abs, s.root+string(filepath.Separator))
}
