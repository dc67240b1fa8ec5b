package fs

import (
	"github.com/adrg/xdg"
	"github.com/taskmesh/taskmesh/internal/turbopath"
)

// GetTurboDataDir returns a directory outside of the repo
// where turbo can store data files related to turbo.
func GetTurboDataDir() turbopath.AbsoluteSystemPath {
	dataHome := AbsoluteSystemPathFromUpstream(xdg.DataHome)
	return dataHome.UntypedJoin("turborepo")
}

// GetTurboConfigDir returns the directory that holds user-level
// configuration, outside of any repository.
func GetTurboConfigDir() turbopath.AbsoluteSystemPath {
	configHome := AbsoluteSystemPathFromUpstream(xdg.ConfigHome)
	return configHome.UntypedJoin("turborepo")
}
