package lockfile

import (
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"gopkg.in/yaml.v3"
)

// PnpmLockfile Go representation of the contents of 'pnpm-lock.yaml'
// Reference https://github.com/pnpm/pnpm/blob/main/packages/lockfile-types/src/index.ts
type PnpmLockfile struct {
	Version   float32                    `yaml:"lockfileVersion"`
	Importers map[string]ProjectSnapshot `yaml:"importers"`
	// Keys are of the form '/$PACKAGE/$VERSION'
	Packages           map[string]PackageSnapshot `yaml:"packages,omitempty"`
	NeverBuiltDeps     []string                   `yaml:"neverBuiltDependencies,omitempty"`
	OnlyBuiltDeps      []string                   `yaml:"onlyBuiltDependencies,omitempty"`
	Overrides          map[string]string          `yaml:"overrides,omitempty"`
	PackageExtChecksum string                     `yaml:"packageExtensionsChecksum,omitempty"`
	PatchedDeps        map[string]PatchFile       `yaml:"patchedDependencies,omitempty"`
}

var _ Lockfile = (*PnpmLockfile)(nil)

// ProjectSnapshot Snapshot used to represent projects in the importers section
type ProjectSnapshot struct {
	Specifiers           map[string]string         `yaml:"specifiers"`
	Dependencies         map[string]string         `yaml:"dependencies,omitempty"`
	OptionalDependencies map[string]string         `yaml:"optionalDependencies,omitempty"`
	DevDependencies      map[string]string         `yaml:"devDependencies,omitempty"`
	DependenciesMeta     map[string]DependencyMeta `yaml:"dependenciesMeta,omitempty"`
	PublishDirectory     string                    `yaml:"publishDirectory,omitempty"`
}

// PackageSnapshot Snapshot used to represent a package in the packages setion
type PackageSnapshot struct {
	ID string `yaml:"id,omitempty"`

	Resolution PackageResolution `yaml:"resolution,flow"`
	Engines    struct {
		Node string `yaml:"node"`
		NPM  string `yaml:"npm,omitempty"`
	} `yaml:"engines,omitempty,flow"`
	HasBin bool `yaml:"hasBin,omitempty"`

	PeerDependencies     map[string]string `yaml:"peerDependencies,omitempty"`
	PeerDependenciesMeta map[string]struct {
		Optional bool `yaml:"optional"`
	} `yaml:"peerDependenciesMeta,omitempty"`
	Dependencies         map[string]string `yaml:"dependencies,omitempty"`
	OptionalDependencies map[string]string `yaml:"optionalDependencies,omitempty"`
	TransitivePeerDeps   []string          `yaml:"transitivePeerDependencies,omitempty"`
	BundledDependencies  []string          `yaml:"bundledDependencies,omitempty"`

	Dev           bool `yaml:"dev"`
	Optional      bool `yaml:"optional,omitempty"`
	RequiresBuild bool `yaml:"requiresBuild,omitempty"`
	Patched       bool `yaml:"patched,omitempty"`
	Prepare       bool `yaml:"prepare,omitempty"`

	// only needed for packages that aren't in npm
	Name    string `yaml:"name,omitempty"`
	Version string `yaml:"version,omitempty"`

	Os         []string `yaml:"os,omitempty"`
	CPU        []string `yaml:"cpu,omitempty"`
	LibC       []string `yaml:"libc,omitempty"`
	Deprecated string   `yaml:"deprecated,omitempty"`
}

// PackageResolution Various resolution strategies for packages
type PackageResolution struct {
	Type string `yaml:"type,omitempty"`
	// For npm or tarball
	Integrity string `yaml:"integrity,omitempty"`

	// For tarball
	Tarball string `yaml:"tarball,omitempty"`

	// For local directory
	Dir string `yaml:"directory,omitempty"`

	// For git repo
	Repo   string `yaml:"repo,omitempty"`
	Commit string `yaml:"commit,omitempty"`
}

// PatchFile represent a patch applied to a package
type PatchFile struct {
	Path string `yaml:"path"`
	Hash string `yaml:"hash"`
}

func isSupportedVersion(version float32) error {
	if version != 5.3 && version != 5.4 {
		return errors.Errorf("Unable to handle pnpm-lock.yaml with lockfileVersion: %f", version)
	}
	return nil
}

// DependencyMeta metadata for dependencies
type DependencyMeta struct {
	Injected bool   `yaml:"injected,omitempty"`
	Node     string `yaml:"node,omitempty"`
	Patch    string `yaml:"patch,omitempty"`
}

// DecodePnpmLockfile parse a pnpm lockfile
func DecodePnpmLockfile(contents []byte) (*PnpmLockfile, error) {
	var lockfile PnpmLockfile
	if err := yaml.Unmarshal(contents, &lockfile); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal lockfile: ")
	}

	if err := isSupportedVersion(lockfile.Version); err != nil {
		return nil, err
	}

	return &lockfile, nil
}

// ResolvePackage Given a workspace, a package it imports and version returns the key, resolved version, and if it was found
func (p *PnpmLockfile) ResolvePackage(workspacePath turbopath.AnchoredUnixPath, name string, version string) (Package, error) {
	importer, ok := p.Importers[importerKey(workspacePath)]
	if !ok {
		return Package{}, fmt.Errorf("no workspace '%v' found in lockfile", workspacePath)
	}
	resolvedVersion, ok := resolveSpecifier(importer, name, version)
	if !ok {
		// Dependencies of lockfile packages are listed by their resolved version
		if _, isKey := p.Packages[fmt.Sprintf("/%s/%s", name, version)]; !isKey {
			return Package{}, nil
		}
		resolvedVersion = version
	}
	key := fmt.Sprintf("/%s/%s", name, resolvedVersion)
	if entry, ok := p.Packages[key]; ok {
		version := entry.Version
		if version == "" {
			version = resolvedVersion
		}
		return Package{Key: key, Version: version, Found: true}, nil
	}

	return Package{}, nil
}

// AllDependencies Given a lockfile key return all (dev/optional/peer) dependencies of that package
func (p *PnpmLockfile) AllDependencies(key string) (map[string]string, bool) {
	deps := map[string]string{}
	entry, ok := p.Packages[key]
	if !ok {
		return deps, false
	}

	for name, version := range entry.Dependencies {
		deps[name] = version
	}

	for name, version := range entry.OptionalDependencies {
		deps[name] = version
	}

	return deps, true
}

// Subgraph Given a list of lockfile keys returns a Lockfile based off the original one that only contains the packages given
func (p *PnpmLockfile) Subgraph(workspacePackages []turbopath.AnchoredSystemPath, packages []string) (Lockfile, error) {
	lockfilePackages := make(map[string]PackageSnapshot, len(packages))
	for _, key := range packages {
		entry, ok := p.Packages[key]
		if ok {
			lockfilePackages[key] = entry
		} else {
			return nil, fmt.Errorf("Unable to find lockfile entry for %s", key)
		}
	}

	importers := make(map[string]ProjectSnapshot, len(workspacePackages)+1)
	importers["."] = p.Importers["."]
	for _, workspace := range workspacePackages {
		key := importerKey(workspace.ToUnixPath())
		importer, ok := p.Importers[key]
		if !ok {
			return nil, fmt.Errorf("no workspace '%v' found in lockfile", workspace)
		}
		importers[key] = importer
	}

	lockfile := PnpmLockfile{
		Version:            p.Version,
		Importers:          importers,
		Packages:           lockfilePackages,
		NeverBuiltDeps:     p.NeverBuiltDeps,
		OnlyBuiltDeps:      p.OnlyBuiltDeps,
		Overrides:          p.Overrides,
		PackageExtChecksum: p.PackageExtChecksum,
		PatchedDeps:        p.PatchedDeps,
	}

	return &lockfile, nil
}

// Encode encode the lockfile representation and write it to the given writer
func (p *PnpmLockfile) Encode(w io.Writer) error {
	if err := isSupportedVersion(p.Version); err != nil {
		return err
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	return encoder.Encode(p)
}

// Patches return a list of patches used in the lockfile
func (p *PnpmLockfile) Patches() []turbopath.AnchoredUnixPath {
	if len(p.PatchedDeps) == 0 {
		return nil
	}
	patches := make([]string, 0, len(p.PatchedDeps))
	for _, patch := range p.PatchedDeps {
		patches = append(patches, patch.Path)
	}
	sort.Strings(patches)

	patchPaths := make([]turbopath.AnchoredUnixPath, len(patches))
	for i, patch := range patches {
		patchPaths[i] = turbopath.AnchoredUnixPath(patch)
	}
	return patchPaths
}

// GlobalChange checks if there are any differences between lockfiles that would completely invalidate
// the cache.
func (p *PnpmLockfile) GlobalChange(other Lockfile) bool {
	o, ok := other.(*PnpmLockfile)
	if !ok {
		return true
	}
	return p.Version != o.Version ||
		p.PackageExtChecksum != o.PackageExtChecksum ||
		!stringMapsEqual(p.Overrides, o.Overrides) ||
		!patchesEqual(p.PatchedDeps, o.PatchedDeps)
}

func importerKey(workspacePath turbopath.AnchoredUnixPath) string {
	key := workspacePath.ToString()
	if key == "" {
		key = "."
	}
	return key
}

func resolveSpecifier(importer ProjectSnapshot, name string, specifier string) (string, bool) {
	pkgSpecifier, ok := importer.Specifiers[name]
	if !ok || pkgSpecifier != specifier {
		return "", false
	}
	if version, ok := importer.Dependencies[name]; ok {
		return version, true
	}
	if version, ok := importer.DevDependencies[name]; ok {
		return version, true
	}
	if version, ok := importer.OptionalDependencies[name]; ok {
		return version, true
	}
	return "", false
}

func stringMapsEqual(a map[string]string, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for key, valueA := range a {
		if valueB, ok := b[key]; !ok || valueA != valueB {
			return false
		}
	}
	return true
}

func patchesEqual(a map[string]PatchFile, b map[string]PatchFile) bool {
	if len(a) != len(b) {
		return false
	}
	for key, valueA := range a {
		if valueB, ok := b[key]; !ok || valueA != valueB {
			return false
		}
	}
	return true
}
