package lockfile

import (
	"fmt"
	"io"

	"github.com/taskmesh/taskmesh/internal/turbopath"
)

// BunLockfile representation of bun lockfile. Bun's lockfile is a binary
// format, but `bun bun.lockb` prints a yarn v1 compatible rendering of it,
// which is what we are handed here and parse.
type BunLockfile struct {
	inner *YarnLockfile
}

var _ Lockfile = (*BunLockfile)(nil)

// ResolvePackage Given a package and version returns the key, resolved version, and if it was found
func (l *BunLockfile) ResolvePackage(workspacePath turbopath.AnchoredUnixPath, name string, version string) (Package, error) {
	return l.inner.ResolvePackage(workspacePath, name, version)
}

// AllDependencies Given a lockfile key return all (dev/optional/peer) dependencies of that package
func (l *BunLockfile) AllDependencies(key string) (map[string]string, bool) {
	return l.inner.AllDependencies(key)
}

// Subgraph Given a list of lockfile keys returns a Lockfile based off the original one that only contains the packages given
func (l *BunLockfile) Subgraph(workspacePackages []turbopath.AnchoredSystemPath, packages []string) (Lockfile, error) {
	inner, err := l.inner.Subgraph(workspacePackages, packages)
	if err != nil {
		return nil, err
	}
	yarnInner, ok := inner.(*YarnLockfile)
	if !ok {
		return nil, fmt.Errorf("expected yarn lockfile from subgraph, got %T", inner)
	}
	return &BunLockfile{inner: yarnInner}, nil
}

// Encode encode the lockfile representation and write it to the given writer
func (l *BunLockfile) Encode(w io.Writer) error {
	return l.inner.Encode(w)
}

// Patches return a list of patches used in the lockfile
func (l *BunLockfile) Patches() []turbopath.AnchoredUnixPath {
	return nil
}

// DecodeBunLockfile Takes the yarn-rendered contents of a bun lockfile and returns a struct representation
func DecodeBunLockfile(contents []byte) (*BunLockfile, error) {
	inner, err := DecodeYarnLockfile(contents)
	if err != nil {
		return nil, err
	}
	return &BunLockfile{inner: inner}, nil
}

// GlobalChange checks if there are any differences between lockfiles that would completely invalidate
// the cache.
func (l *BunLockfile) GlobalChange(other Lockfile) bool {
	_, ok := other.(*BunLockfile)
	return !ok
}
