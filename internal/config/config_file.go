package config

import (
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/taskmesh/taskmesh/internal/client"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/turbopath"
)

// RepoConfig is a helper around the repo-specific config values stored
// in <repo>/.turbo/config.json
type RepoConfig struct {
	repoViper *viper.Viper
	path      turbopath.AbsoluteSystemPath
}

// GetRemoteConfig produces the necessary values for an API client configuration
func (rc *RepoConfig) GetRemoteConfig(defaultToken string) client.RemoteConfig {
	return client.RemoteConfig{
		Token:    defaultToken,
		TeamID:   rc.repoViper.GetString(_teamIDKey),
		TeamSlug: rc.repoViper.GetString(_teamSlugKey),
		APIURL:   rc.repoViper.GetString(_apiURLKey),
	}
}

// LoginURL returns the configured URL for authenticating the user
func (rc *RepoConfig) LoginURL() string {
	return rc.repoViper.GetString(_loginURLKey)
}

// Path returns the path to the repo config file
func (rc *RepoConfig) Path() turbopath.AbsoluteSystemPath {
	return rc.path
}

// UserConfig is a wrapper around the user-specific config values, stored
// outside of any repository in the user's XDG config home.
type UserConfig struct {
	userViper *viper.Viper
	path      turbopath.AbsoluteSystemPath
}

// Token returns the token, or an empty string if one is not set
func (uc *UserConfig) Token() string {
	return uc.userViper.GetString(_tokenKey)
}

// Path returns the path to the user config file
func (uc *UserConfig) Path() turbopath.AbsoluteSystemPath {
	return uc.path
}

// GetRepoConfigPath returns the path of the repo-specific config file
func GetRepoConfigPath(repoRoot turbopath.AbsoluteSystemPath) turbopath.AbsoluteSystemPath {
	return repoRoot.UntypedJoin(".turbo", "config.json")
}

// DefaultUserConfigPath returns the default platform-dependent place that
// we store the user-specific configuration.
func DefaultUserConfigPath() turbopath.AbsoluteSystemPath {
	return fs.GetTurboConfigDir().UntypedJoin("config.json")
}

// ReadRepoConfigFile reads the repo-specific configuration values, layering
// the given flags and the TURBO_* environment on top of the file's contents.
func ReadRepoConfigFile(path turbopath.AbsoluteSystemPath, flags *pflag.FlagSet) (*RepoConfig, error) {
	repoViper := viper.New()
	repoViper.SetConfigFile(path.ToString())
	repoViper.SetConfigType("json")
	repoViper.SetDefault(_apiURLKey, "https://vercel.com/api")
	repoViper.SetDefault(_loginURLKey, "https://vercel.com")
	for key, envVar := range map[string]string{
		_apiURLKey:   "TURBO_API",
		_loginURLKey: "TURBO_LOGIN",
		_teamSlugKey: "TURBO_TEAM",
		_teamIDKey:   "TURBO_TEAMID",
	} {
		if err := repoViper.BindEnv(key, envVar); err != nil {
			return nil, err
		}
	}
	if flags != nil {
		if err := repoViper.BindPFlag(_apiURLKey, flags.Lookup("api")); err != nil {
			return nil, err
		}
		if err := repoViper.BindPFlag(_loginURLKey, flags.Lookup("login")); err != nil {
			return nil, err
		}
		if err := repoViper.BindPFlag(_teamSlugKey, flags.Lookup("team")); err != nil {
			return nil, err
		}
	}
	if err := repoViper.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	return &RepoConfig{
		repoViper: repoViper,
		path:      path,
	}, nil
}

// ReadUserConfigFile reads a user config file at the given path, layering
// the token flag and TURBO_TOKEN on top of the file's contents.
func ReadUserConfigFile(path turbopath.AbsoluteSystemPath, flags *pflag.FlagSet) (*UserConfig, error) {
	userViper := viper.New()
	userViper.SetConfigFile(path.ToString())
	userViper.SetConfigType("json")
	if err := userViper.BindEnv(_tokenKey, "TURBO_TOKEN"); err != nil {
		return nil, err
	}
	if flags != nil {
		if err := userViper.BindPFlag(_tokenKey, flags.Lookup("token")); err != nil {
			return nil, err
		}
	}
	if err := userViper.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	return &UserConfig{
		userViper: userViper,
		path:      path,
	}, nil
}
