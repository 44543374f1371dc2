package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideBase is returned when a path resolves outside of its allowed
// base directory
var ErrOutsideBase = errors.New("path is outside the allowed base directory")

// FileExists checks to see if a path exists and is a file
func FileExists(path string) bool {
	info, err := os.Stat(path)

	if err != nil && !os.IsNotExist(err) {
		return false
	}

	return info != nil && err == nil && !info.IsDir()
}

// PathExists checks to see if a path exists
func PathExists(path string) bool {
	info, err := os.Stat(path)

	if err != nil && !os.IsNotExist(err) {
		return false
	}

	return info != nil && err == nil
}

// Canonicalize returns the absolute, cleaned form of path with symlinks
// resolved. When the path doesn't exist the deepest existing ancestor is
// resolved and the missing elements are joined back on.
func Canonicalize(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	existing, missing := absPath, ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(resolved, missing), nil
		}

		if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			return absPath, nil
		}

		missing = filepath.Join(filepath.Base(existing), missing)
		existing = parent
	}
}

// WithinBase canonicalizes both base and path and returns the canonical
// path only if it is base itself or lives under it. The comparison is case
// insensitive. The lexical check runs before anything touches the
// filesystem so traversal attempts never get resolved.
func WithinBase(base, path string) (string, error) {
	if len(strings.TrimSpace(path)) == 0 {
		return "", fmt.Errorf("empty path")
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if !hasPathPrefix(absPath, absBase) {
		return "", fmt.Errorf("%w: path=%q", ErrOutsideBase, path)
	}

	canonicalBase, err := Canonicalize(absBase)
	if err != nil {
		return "", err
	}

	canonicalPath, err := Canonicalize(absPath)
	if err != nil {
		return "", err
	}

	if !hasPathPrefix(canonicalPath, canonicalBase) {
		return "", fmt.Errorf("%w: path=%q", ErrOutsideBase, path)
	}

	return canonicalPath, nil
}

// hasPathPrefix reports whether path equals prefix or is nested under it,
// so /base-other doesn't match /base
func hasPathPrefix(path, prefix string) bool {
	path = strings.ToLower(filepath.Clean(path))
	prefix = strings.ToLower(filepath.Clean(prefix))

	if path == prefix {
		return true
	}

	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}

	return strings.HasPrefix(path, prefix)
}
