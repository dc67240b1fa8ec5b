// Package config handles the repo- and user-level configuration files that
// carry remote cache credentials and endpoints. Values resolve with the
// precedence CLI flag > environment variable > config file > default.
package config

import (
	"github.com/spf13/pflag"
)

const (
	_apiURLKey   = "apiurl"
	_loginURLKey = "loginurl"
	_teamSlugKey = "teamslug"
	_teamIDKey   = "teamid"
	_tokenKey    = "token"
)

// AddRepoConfigFlags adds the repo-level configuration flags to the given flagset
func AddRepoConfigFlags(flags *pflag.FlagSet) {
	flags.String("team", "", "Set the team slug for API calls")
	flags.String("api", "", "Override the endpoint for API calls")
	flags.String("login", "", "Override the login endpoint")
}

// AddUserConfigFlags adds the user-level configuration flags to the given flagset
func AddUserConfigFlags(flags *pflag.FlagSet) {
	flags.String("token", "", "Set the auth token for API calls")
}
