package runengine

import (
	"strings"
	"testing"

	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/util"
	"gotest.tools/v3/assert"
)

func envContains(env []string, name string, value string) bool {
	for _, pair := range env {
		if pair == name+"="+value {
			return true
		}
	}
	return false
}

func envHasName(env []string, name string) bool {
	for _, pair := range env {
		if strings.HasPrefix(pair, name+"=") {
			return true
		}
	}
	return false
}

func TestChildEnvStrictHidesUndeclaredVars(t *testing.T) {
	t.Setenv("FOO", "1")
	t.Setenv("BAR", "1")

	def := &TaskDefinition{
		Def: &fs.TaskDefinition{Env: []string{"FOO"}},
	}
	env := childEnv(def, nil, nil, util.Strict)

	assert.Assert(t, envContains(env, "FOO", "1"), "declared var must be visible")
	assert.Assert(t, !envHasName(env, "BAR"), "undeclared var must not be visible in strict mode")
	assert.Assert(t, envHasName(env, "PATH"), "system defaults must survive strict mode")
}

func TestChildEnvStrictIncludesPassThrough(t *testing.T) {
	t.Setenv("SECRET_TOKEN", "tok")

	def := &TaskDefinition{
		Def: &fs.TaskDefinition{PassThroughEnv: []string{"SECRET_TOKEN"}},
	}
	env := childEnv(def, nil, nil, util.Strict)
	assert.Assert(t, envContains(env, "SECRET_TOKEN", "tok"))
}

func TestChildEnvLoosePassesEverything(t *testing.T) {
	t.Setenv("ANYTHING_AT_ALL", "yes")

	def := &TaskDefinition{Def: &fs.TaskDefinition{}}
	env := childEnv(def, nil, nil, util.Loose)
	assert.Assert(t, envContains(env, "ANYTHING_AT_ALL", "yes"))
}

func TestResolveTaskEnvMode(t *testing.T) {
	r := &Runner{GlobalEnvMode: util.Infer}

	// Infer with no pass-through anywhere resolves to loose
	assert.Equal(t, r.resolveTaskEnvMode(util.Infer, nil), util.Loose)
	// Infer with a task-level pass-through resolves to strict
	assert.Equal(t, r.resolveTaskEnvMode(util.Infer, []string{"TOKEN"}), util.Strict)
	// An explicit task-level mode wins
	assert.Equal(t, r.resolveTaskEnvMode(util.Loose, []string{"TOKEN"}), util.Loose)

	// A global pass-through set also forces strict for inferring tasks
	r.GlobalPassThroughEnv = []string{"CI_TOKEN"}
	assert.Equal(t, r.resolveTaskEnvMode(util.Infer, nil), util.Strict)
}

func TestResolveInputGlobs(t *testing.T) {
	resolved, err := resolveInputGlobs("apps/web", []string{"$TURBO_ROOT$/.env", "src/**", "!src/**/*.test.js"})
	assert.NilError(t, err)
	assert.DeepEqual(t, resolved, []string{"../../.env", "src/**", "!src/**/*.test.js"})

	_, err = resolveInputGlobs("apps/web", []string{"$TURBO_ROOT$.env"})
	assert.ErrorContains(t, err, "$TURBO_ROOT$")
}
