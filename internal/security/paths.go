// Package security checks the paths the command line tool writes to.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// canonical returns the absolute, symlink-free form of path. A path that
// does not exist yet is resolved through its nearest existing ancestor, so
// a missing file below a symlinked directory still resolves to the link
// target.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
	}
}

// Within reports an error unless path resolves to dir or a location below it.
func Within(path, dir string) error {
	p, err := canonical(path)
	if err != nil {
		return err
	}
	d, err := canonical(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return fmt.Errorf("path %s is outside %s: %w", path, dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %s escapes %s", path, dir)
	}
	return nil
}

// ValidateOutputPath accepts path when it lies within one of allowedDirs.
// With no allowedDirs the temp directory and the working directory are
// allowed.
func ValidateOutputPath(path string, allowedDirs ...string) error {
	if len(allowedDirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		allowedDirs = []string{os.TempDir(), cwd}
	}
	for _, dir := range allowedDirs {
		if Within(path, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("output path %s must be within one of %v", path, allowedDirs)
}
