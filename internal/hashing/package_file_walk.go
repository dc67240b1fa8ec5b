package hashing

import (
	"fmt"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/taskmesh/taskmesh/internal/doublestar"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/globby"
	"github.com/taskmesh/taskmesh/internal/turbopath"
)

func safeCompileIgnoreFile(filepath turbopath.AbsoluteSystemPath) (*gitignore.GitIgnore, error) {
	if filepath.FileExists() {
		return gitignore.CompileIgnoreFile(filepath.ToString())
	}
	// no-op verifies against an empty gitignore.
	return gitignore.CompileIgnoreLines([]string{}...), nil
}

// getPackageFileHashesFromProcessingGitIgnore walks the package directory,
// hashing every file that is not matched by the repository's or the package's
// .gitignore. It is the fallback for repositories that aren't git work trees.
func getPackageFileHashesFromProcessingGitIgnore(rootPath turbopath.AbsoluteSystemPath, packagePath turbopath.AnchoredSystemPath, inputs []string) (map[turbopath.AnchoredUnixPath]string, error) {
	result := make(map[turbopath.AnchoredUnixPath]string)
	absolutePackagePath := packagePath.RestoreAnchor(rootPath)

	// Instead of using the git query, try and walk the whole tree
	ignore, err := safeCompileIgnoreFile(rootPath.UntypedJoin(".gitignore"))
	if err != nil {
		return nil, err
	}

	ignorePkg, err := safeCompileIgnoreFile(absolutePackagePath.UntypedJoin(".gitignore"))
	if err != nil {
		return nil, err
	}

	includePattern := ""
	excludePattern := ""
	if len(inputs) > 0 {
		var includePatterns []string
		var excludePatterns []string
		for _, pattern := range inputs {
			if len(pattern) > 0 && pattern[0] == '!' {
				excludePatterns = append(excludePatterns, absolutePackagePath.UntypedJoin(pattern[1:]).ToString())
			} else {
				includePatterns = append(includePatterns, absolutePackagePath.UntypedJoin(pattern).ToString())
			}
		}
		if len(includePatterns) > 0 {
			includePattern = "{" + strings.Join(includePatterns, ",") + "}"
		}
		if len(excludePatterns) > 0 {
			excludePattern = "{" + strings.Join(excludePatterns, ",") + "}"
		}
	}

	err = fs.Walk(absolutePackagePath.ToString(), func(name string, isDir bool) error {
		convertedName := turbopath.AbsoluteSystemPath(name)
		rootMatch := ignore.MatchesPath(convertedName.ToString())
		otherMatch := ignorePkg.MatchesPath(convertedName.ToString())
		if !rootMatch && !otherMatch {
			if !isDir {
				if includePattern != "" {
					val, err := doublestar.PathMatch(includePattern, convertedName.ToString())
					if err != nil {
						return err
					}
					if !val {
						return nil
					}
				}
				if excludePattern != "" {
					val, err := doublestar.PathMatch(excludePattern, convertedName.ToString())
					if err != nil {
						return err
					}
					if val {
						return nil
					}
				}
				hash, err := fs.GitLikeHashFile(convertedName)
				if err != nil {
					return fmt.Errorf("could not hash file %v. \n%w", convertedName.ToString(), err)
				}

				relativePath, err := convertedName.RelativeTo(absolutePackagePath)
				if err != nil {
					return fmt.Errorf("File path cannot be made relative: %w", err)
				}
				result[relativePath.ToUnixPath()] = hash
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// getPackageFileHashesFromInputs hashes the files in a package that match
// the given set of input globs, plus the package.json and turbo.json that
// define the package's behavior.
func getPackageFileHashesFromInputs(rootPath turbopath.AbsoluteSystemPath, packagePath turbopath.AnchoredSystemPath, inputs []string) (map[turbopath.AnchoredUnixPath]string, error) {
	absolutePackagePath := packagePath.RestoreAnchor(rootPath)

	// Add all the checked in hashes.
	// make a copy of the inputPatterns array, because we may be appending to it
	calculatedInputs := make([]string, len(inputs))
	copy(calculatedInputs, inputs)

	// Add in package.json and turbo.json to input patterns. Both file paths
	// are relative to the package.
	calculatedInputs = append(calculatedInputs, "package.json")
	calculatedInputs = append(calculatedInputs, "turbo.json")

	// The input patterns are relative to the package, but globbing runs
	// anchored at the repo root, so prepend the package path to each pattern.
	prefixedInputPatterns := []string{}
	prefixedExcludePatterns := []string{}
	for _, pattern := range calculatedInputs {
		if len(pattern) > 0 && pattern[0] == '!' {
			rerooted, err := rootPath.RelativePathString(absolutePackagePath.UntypedJoin(pattern[1:]).ToString())
			if err != nil {
				return nil, err
			}
			prefixedExcludePatterns = append(prefixedExcludePatterns, rerooted)
		} else {
			rerooted, err := rootPath.RelativePathString(absolutePackagePath.UntypedJoin(pattern).ToString())
			if err != nil {
				return nil, err
			}
			prefixedInputPatterns = append(prefixedInputPatterns, rerooted)
		}
	}
	absoluteFilesToHash, err := globby.GlobAll(rootPath.ToStringDuringMigration(), prefixedInputPatterns, prefixedExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve input globs %v: %w", inputs, err)
	}

	filesToHash := make([]turbopath.AnchoredSystemPath, 0, len(absoluteFilesToHash))
	for _, rawPath := range absoluteFilesToHash {
		relativePathString, err := absolutePackagePath.RelativePathString(rawPath)
		if err != nil {
			return nil, fmt.Errorf("not relative to package: %v: %w", rawPath, err)
		}
		filesToHash = append(filesToHash, turbopath.AnchoredSystemPathFromUpstream(relativePathString))
	}

	// The input patterns may have matched files that don't exist (or matched
	// directories), so hash only what is actually on disk. Hashes anchor at
	// the package directory, the same anchor the git-index path uses.
	return GetHashesForExistingFiles(absolutePackagePath, filesToHash)
}
