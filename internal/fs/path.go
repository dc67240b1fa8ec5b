package fs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/taskmesh/taskmesh/internal/turbopath"
)

// AbsoluteSystemPathFromUpstream converts an externally-sourced path string
// (an env var, an XDG directory, a CLI flag) into a turbopath.AbsoluteSystemPath,
// for fs-package call sites that don't otherwise import turbopath directly.
func AbsoluteSystemPathFromUpstream(path string) turbopath.AbsoluteSystemPath {
	return turbopath.AbsoluteSystemPathFromUpstream(path)
}

// UnsafeToAbsoluteSystemPath casts a path string to an AbsoluteSystemPath
// without validation. The caller is asserting that it has checked the input.
func UnsafeToAbsoluteSystemPath(path string) turbopath.AbsoluteSystemPath {
	return turbopath.AbsoluteSystemPath(path)
}

// UnsafeToAnchoredSystemPath casts a path string to an AnchoredSystemPath
// without validation. The caller is asserting that it has checked the input.
func UnsafeToAnchoredSystemPath(path string) turbopath.AnchoredSystemPath {
	return turbopath.AnchoredSystemPath(path)
}

// CheckedToAbsoluteSystemPath verifies that the given string is an absolute
// path before casting it.
func CheckedToAbsoluteSystemPath(s string) (turbopath.AbsoluteSystemPath, error) {
	if filepath.IsAbs(s) {
		return turbopath.AbsoluteSystemPath(s), nil
	}
	return "", fmt.Errorf("%v is not an absolute path", s)
}

// ResolveUnknownPath returns unknown if it is an absolute path, otherwise, it
// assumes unknown is a path relative to the given root.
func ResolveUnknownPath(root turbopath.AbsoluteSystemPath, unknown string) turbopath.AbsoluteSystemPath {
	if filepath.IsAbs(unknown) {
		return turbopath.AbsoluteSystemPath(unknown)
	}
	return root.UntypedJoin(unknown)
}

// GetCwd returns the calling process's current working directory, with
// symlinks resolved the same way the package managers we support do.
func GetCwd() (turbopath.AbsoluteSystemPath, error) {
	cwdRaw, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}
	cwdRaw, err = filepath.EvalSymlinks(cwdRaw)
	if err != nil {
		return "", fmt.Errorf("evaluating symlinks in cwd: %w", err)
	}
	return CheckedToAbsoluteSystemPath(cwdRaw)
}

// TempDir returns the absolute path of a directory with the given name
// under the system's default temp directory location
func TempDir(subDir string) turbopath.AbsoluteSystemPath {
	return turbopath.AbsoluteSystemPath(os.TempDir()).UntypedJoin(subDir)
}

// DirContainsPath returns true if the path 'target' is contained within 'dir'
// Expects both paths to be absolute and does not verify that either path exists.
func DirContainsPath(dir string, target string) (bool, error) {
	return turbopath.AbsoluteSystemPath(dir).ContainsPath(turbopath.AbsoluteSystemPath(target))
}

// PathExists returns true if the given path exists.
func PathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// FileExists returns true if the given path exists and is a file.
func FileExists(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && !info.IsDir()
}

// EnsureDir ensures that the directory containing the given filename exists.
func EnsureDir(filename string) error {
	return turbopath.AbsoluteSystemPath(filename).EnsureDir()
}
