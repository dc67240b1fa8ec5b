package fs

import (
	"strings"
	"testing"

	"github.com/taskmesh/taskmesh/internal/turbopath"
	"github.com/taskmesh/taskmesh/internal/util"
	"gotest.tools/v3/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestProcessGlobResolution(t *testing.T) {
	for _, tc := range []struct {
		raw       string
		turboRoot string
		resolved  string
	}{
		{"$TURBO_ROOT$/x", "../..", "../../x"},
		{"!$TURBO_ROOT$/x", "../..", "!../../x"},
		{"src/**", "../..", "src/**"},
		{"!dist/**", "../..", "!dist/**"},
	} {
		glob, err := ProcessGlob(tc.raw)
		assert.NilError(t, err, tc.raw)
		assert.Equal(t, glob.Resolve(tc.turboRoot), tc.resolved, tc.raw)
	}
}

func TestProcessGlobRejectsBadTurboRootUse(t *testing.T) {
	_, err := ProcessGlob("$TURBO_ROOT$x")
	assert.ErrorContains(t, err, "$TURBO_ROOT$")

	_, err = ProcessGlob("src/$TURBO_ROOT$/x")
	assert.ErrorContains(t, err, "$TURBO_ROOT$")

	_, err = ProcessGlob("/absolute/path/**")
	assert.ErrorContains(t, err, "absolute")
}

func TestValidateRootRejectsEnvPrefix(t *testing.T) {
	config := &TurboConfigJSON{
		Tasks: Pipeline{
			"build": {Env: []string{"$NODE_ENV"}},
		},
	}
	err := config.ValidateRoot()
	assert.Assert(t, err != nil)
	assert.Assert(t, strings.Contains(err.Error(), `Environment variables should not be prefixed with "$"`), err.Error())
}

func TestValidateRootCrossFieldRules(t *testing.T) {
	// interruptible requires persistent
	config := &TurboConfigJSON{
		Tasks: Pipeline{
			"dev": {Interruptible: boolPtr(true)},
		},
	}
	assert.ErrorContains(t, config.ValidateRoot(), "interruptible requires persistent")

	// interactive requires cache: false
	config = &TurboConfigJSON{
		Tasks: Pipeline{
			"shell": {Interactive: boolPtr(true)},
		},
	}
	assert.ErrorContains(t, config.ValidateRoot(), "interactive")

	// with entries may not be topological
	config = &TurboConfigJSON{
		Tasks: Pipeline{
			"dev": {With: []string{"^api"}},
		},
	}
	assert.ErrorContains(t, config.ValidateRoot(), "with")
}

func TestValidateWorkspaceRules(t *testing.T) {
	// extends is required
	config := &TurboConfigJSON{
		Tasks: Pipeline{"build": {}},
	}
	assert.ErrorContains(t, config.ValidateWorkspace(false), "extends")

	// only "//" is a valid extends target without the future flag
	config = &TurboConfigJSON{
		Extends: []string{"other-package"},
		Tasks:   Pipeline{"build": {}},
	}
	assert.ErrorContains(t, config.ValidateWorkspace(false), "extends")
	assert.NilError(t, config.ValidateWorkspace(true))

	// package-task syntax is not allowed in a workspace config
	config = &TurboConfigJSON{
		Extends: []string{"//"},
		Tasks:   Pipeline{"web#build": {}},
	}
	assert.ErrorContains(t, config.ValidateWorkspace(false), "package-task")

	// futureFlags is root-only
	config = &TurboConfigJSON{
		Extends:     []string{"//"},
		FutureFlags: map[string]bool{"anything": true},
		Tasks:       Pipeline{"build": {}},
	}
	assert.ErrorContains(t, config.ValidateWorkspace(false), "futureFlags")
}

func TestResolveTaskDefinitionMergesWorkspaceOverRoot(t *testing.T) {
	rootConfig := &TurboConfigJSON{
		Tasks: Pipeline{
			"build": {
				Outputs:   []string{"dist/**"},
				DependsOn: []string{"^build"},
				Env:       []string{"A"},
			},
		},
	}
	workspaceConfig := &TurboConfigJSON{
		Extends: []string{"//"},
		Tasks: Pipeline{
			"build": {
				Outputs: []string{"lib/**", "dist/**"},
				Env:     []string{"B"},
			},
		},
	}

	def, err := ResolveTaskDefinition(rootConfig, workspaceConfig, "web", "build")
	assert.NilError(t, err)
	assert.Assert(t, def != nil)
	// Lists concatenate then dedupe, then normalize sorts outputs
	assert.DeepEqual(t, def.Outputs.Inclusions, []string{"dist/**", "lib/**"})
	assert.DeepEqual(t, def.Env, []string{"A", "B"})
	assert.DeepEqual(t, def.DependsOn, []string{"^build"})
}

func TestResolveTaskDefinitionPackageQualifiedEntry(t *testing.T) {
	rootConfig := &TurboConfigJSON{
		Tasks: Pipeline{
			"build":     {Outputs: []string{"dist/**"}},
			"web#build": {OutputMode: taskOutputModePtr(util.HashTaskOutput)},
		},
	}

	def, err := ResolveTaskDefinition(rootConfig, nil, "web", "build")
	assert.NilError(t, err)
	assert.Equal(t, def.OutputMode, util.HashTaskOutput)
	assert.DeepEqual(t, def.Outputs.Inclusions, []string{"dist/**"})

	other, err := ResolveTaskDefinition(rootConfig, nil, "docs", "build")
	assert.NilError(t, err)
	assert.Equal(t, other.OutputMode, util.FullTaskOutput)
}

func TestResolveTaskDefinitionExtendsFalse(t *testing.T) {
	rootConfig := &TurboConfigJSON{
		Tasks: Pipeline{
			"build": {Outputs: []string{"dist/**"}, Env: []string{"A"}},
		},
	}
	workspaceConfig := &TurboConfigJSON{
		Extends: []string{"//"},
		Tasks: Pipeline{
			"build": {Extends: boolPtr(false), Outputs: []string{"lib/**"}},
		},
	}

	def, err := ResolveTaskDefinition(rootConfig, workspaceConfig, "web", "build")
	assert.NilError(t, err)
	// The inherited definition was discarded entirely
	assert.DeepEqual(t, def.Outputs.Inclusions, []string{"lib/**"})
	assert.Equal(t, len(def.Env), 0)
}

func TestResolveTaskDefinitionExtendsFalseNotInChain(t *testing.T) {
	rootConfig := &TurboConfigJSON{Tasks: Pipeline{}}
	workspaceConfig := &TurboConfigJSON{
		Extends: []string{"//"},
		Tasks: Pipeline{
			"custom": {Extends: boolPtr(false)},
		},
	}

	_, err := ResolveTaskDefinition(rootConfig, workspaceConfig, "web", "custom")
	assert.ErrorContains(t, err, "extends chain")
}

func TestLoadTurboConfigRejectsBothJSONAndJSONC(t *testing.T) {
	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	assert.NilError(t, dir.UntypedJoin(configFile).WriteFile([]byte(`{"tasks":{}}`), 0644))
	assert.NilError(t, dir.UntypedJoin(configFileC).WriteFile([]byte(`{"tasks":{}}`), 0644))

	_, err := LoadTurboConfig(dir, nil, false)
	assert.ErrorContains(t, err, "turbo.jsonc")
}

func TestLoadTurboConfigReadsJSONC(t *testing.T) {
	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	contents := `{
  // comments are allowed here
  "tasks": {
    "build": {
      "outputs": ["dist/**"] // and here
    }
  }
}`
	assert.NilError(t, dir.UntypedJoin(configFileC).WriteFile([]byte(contents), 0644))

	config, err := LoadTurboConfig(dir, nil, false)
	assert.NilError(t, err)
	entry, ok := config.TaskMap()["build"]
	assert.Assert(t, ok)
	assert.DeepEqual(t, entry.Outputs, []string{"dist/**"})
}

func TestLegacyPipelineKeyStillParses(t *testing.T) {
	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	assert.NilError(t, dir.UntypedJoin(configFile).WriteFile([]byte(`{"pipeline":{"build":{"outputs":["dist/**"]}}}`), 0644))

	config, err := LoadTurboConfig(dir, nil, false)
	assert.NilError(t, err)
	_, ok := config.TaskMap()["build"]
	assert.Assert(t, ok)
}

func taskOutputModePtr(mode util.TaskOutputMode) *util.TaskOutputMode {
	return &mode
}
