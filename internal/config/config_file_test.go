package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"gotest.tools/v3/assert"
)

func TestReadRepoConfigWhenMissing(t *testing.T) {
	testDir := turbopath.AbsoluteSystemPath(t.TempDir())

	config, err := ReadRepoConfigFile(GetRepoConfigPath(testDir), nil)
	assert.NilError(t, err, "ReadRepoConfigFile")
	remoteConfig := config.GetRemoteConfig("")
	assert.Equal(t, remoteConfig.APIURL, "https://vercel.com/api")
	assert.Equal(t, remoteConfig.TeamID, "")
}

func TestRepoConfigPrecedence(t *testing.T) {
	testDir := turbopath.AbsoluteSystemPath(t.TempDir())
	path := GetRepoConfigPath(testDir)
	assert.NilError(t, path.EnsureDir(), "EnsureDir")
	assert.NilError(t, path.WriteFile([]byte(`{"teamid":"team_from_file","apiurl":"https://file.example.com"}`), 0644), "WriteFile")

	t.Setenv("TURBO_API", "https://env.example.com")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddRepoConfigFlags(flags)
	assert.NilError(t, flags.Parse([]string{"--team", "my-team"}), "Parse")

	config, err := ReadRepoConfigFile(path, flags)
	assert.NilError(t, err, "ReadRepoConfigFile")
	remoteConfig := config.GetRemoteConfig("some-token")
	// flag > env > file
	assert.Equal(t, remoteConfig.TeamSlug, "my-team")
	assert.Equal(t, remoteConfig.APIURL, "https://env.example.com")
	assert.Equal(t, remoteConfig.TeamID, "team_from_file")
	assert.Equal(t, remoteConfig.Token, "some-token")
}

func TestUserConfigToken(t *testing.T) {
	testDir := turbopath.AbsoluteSystemPath(t.TempDir())
	path := testDir.UntypedJoin("config.json")

	config, err := ReadUserConfigFile(path, nil)
	assert.NilError(t, err, "ReadUserConfigFile")
	assert.Equal(t, config.Token(), "")

	assert.NilError(t, path.WriteFile([]byte(`{"token":"file-token"}`), 0644), "WriteFile")
	config, err = ReadUserConfigFile(path, nil)
	assert.NilError(t, err, "ReadUserConfigFile")
	assert.Equal(t, config.Token(), "file-token")

	t.Setenv("TURBO_TOKEN", "env-token")
	config, err = ReadUserConfigFile(path, nil)
	assert.NilError(t, err, "ReadUserConfigFile")
	assert.Equal(t, config.Token(), "env-token")
}
