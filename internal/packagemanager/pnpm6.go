package packagemanager

import (
	"fmt"

	"github.com/Masterminds/semver"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/lockfile"
	"github.com/taskmesh/taskmesh/internal/turbopath"
)

var nodejsPnpm6 = PackageManager{
	Name:                       "nodejs-pnpm6",
	Slug:                       "pnpm",
	Command:                    "pnpm",
	Specfile:                   "package.json",
	Lockfile:                   "pnpm-lock.yaml",
	PackageDir:                 "node_modules",
	WorkspaceConfigurationPath: "pnpm-workspace.yaml",
	ArgSeparator: func(userArgs []string) []string {
		return []string{"--"}
	},

	getWorkspaceGlobs:   getPnpmWorkspaceGlobs,
	getWorkspaceIgnores: getPnpmWorkspaceIgnores,

	canPrune: func(cwd turbopath.AbsoluteSystemPath) (bool, error) {
		return true, nil
	},

	prunePatches: pnpmPrunePatches,

	Matches: func(manager string, version string) (bool, error) {
		if manager != "pnpm" {
			return false, nil
		}

		v, err := semver.NewVersion(version)
		if err != nil {
			return false, fmt.Errorf("could not parse pnpm version: %w", err)
		}
		c, err := semver.NewConstraint("<7.0.0")
		if err != nil {
			return false, fmt.Errorf("could not create constraint: %w", err)
		}

		return c.Check(v), nil
	},

	// pnpm6 and pnpm7 share a lockfile location and workspace configuration,
	// so file presence can't tell them apart; only the packageManager field
	// (via Matches) selects this entry.
	detect: func(projectDirectory turbopath.AbsoluteSystemPath, packageManager *PackageManager) (bool, error) {
		return false, nil
	},

	UnmarshalLockfile: func(_rootPackageJSON *fs.PackageJSON, contents []byte) (lockfile.Lockfile, error) {
		return lockfile.DecodePnpmLockfile(contents)
	},
}
