package runcache

import (
	"context"
	"io/ioutil"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/taskmesh/taskmesh/internal/cache"
	"github.com/taskmesh/taskmesh/internal/colorcache"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/nodes"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"github.com/taskmesh/taskmesh/internal/util"
	"gotest.tools/v3/assert"
)

type noopCache struct{}

func (noopCache) Fetch(_ turbopath.AbsoluteSystemPath, _ string, _ []string) (cache.ItemStatus, []turbopath.AnchoredSystemPath, int, error) {
	return cache.ItemStatus{}, nil, 0, nil
}
func (noopCache) Exists(_ string) cache.ItemStatus { return cache.ItemStatus{} }
func (noopCache) Put(_ turbopath.AbsoluteSystemPath, _ string, _ int, _ []turbopath.AnchoredSystemPath) error {
	return nil
}
func (noopCache) Clean(_ turbopath.AbsoluteSystemPath) {}
func (noopCache) CleanAll()                            {}
func (noopCache) Shutdown()                            {}

func newTestPackageTask() *nodes.PackageTask {
	return &nodes.PackageTask{
		TaskID:      "docs#build",
		Task:        "build",
		PackageName: "docs",
		Dir:         "apps/docs",
		Pkg:         &fs.PackageJSON{Dir: turbopath.AnchoredSystemPath("apps/docs")},
		TaskDefinition: &fs.TaskDefinition{
			Outputs:     fs.TaskOutputs{Inclusions: []string{".next/**"}, Exclusions: []string{".next/cache/**"}},
			ShouldCache: true,
		},
	}
}

func TestTaskCacheRepoRelativeGlobs(t *testing.T) {
	repoRoot := turbopath.AbsoluteSystemPath(t.TempDir())
	rc := New(noopCache{}, repoRoot, Opts{}, colorcache.New())

	tc := rc.TaskCache(newTestPackageTask(), "some-hash")

	assert.Assert(t, len(tc.repoRelativeGlobs.Inclusions) == 2, "log file plus configured output")
	for _, glob := range tc.repoRelativeGlobs.Inclusions {
		assert.Assert(t, glob == "apps/docs/.turbo/turbo-build.log" || glob == "apps/docs/.next/**", glob)
	}
	assert.DeepEqual(t, tc.repoRelativeGlobs.Exclusions, []string{"apps/docs/.next/cache/**"})
}

func TestRestoreOutputsSkipsWhenCachingDisabled(t *testing.T) {
	repoRoot := turbopath.AbsoluteSystemPath(t.TempDir())
	rc := New(noopCache{}, repoRoot, Opts{SkipReads: true}, colorcache.New())

	tc := rc.TaskCache(newTestPackageTask(), "some-hash")

	prefixedUI := &cli.PrefixedUi{
		Ui:           &cli.BasicUi{Writer: ioutil.Discard, ErrorWriter: ioutil.Discard},
		OutputPrefix: "docs:build: ",
		InfoPrefix:   "docs:build: ",
		ErrorPrefix:  "docs:build: ",
		WarnPrefix:   "docs:build: ",
	}
	hit, err := tc.RestoreOutputs(context.Background(), prefixedUI, hclog.NewNullLogger())
	assert.NilError(t, err)
	assert.Assert(t, !hit, "cache reads are disabled, restore must report a miss")
}

func TestOutputWriterWritesLogFile(t *testing.T) {
	repoRoot := turbopath.AbsoluteSystemPath(t.TempDir())
	rc := New(noopCache{}, repoRoot, Opts{TaskOutputModeOverride: taskOutputModePtr(util.NoTaskOutput)}, colorcache.New())

	tc := rc.TaskCache(newTestPackageTask(), "some-hash")

	writer, err := tc.OutputWriter("docs:build: ")
	assert.NilError(t, err)
	_, err = writer.Write([]byte("hello from build\n"))
	assert.NilError(t, err)
	assert.NilError(t, writer.Close())

	contents, err := tc.LogFileName.ReadFile()
	assert.NilError(t, err)
	assert.Equal(t, string(contents), "hello from build\n")
}

func taskOutputModePtr(mode util.TaskOutputMode) *util.TaskOutputMode {
	return &mode
}
