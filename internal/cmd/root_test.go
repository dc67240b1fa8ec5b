package cmd

import (
	"testing"

	"github.com/taskmesh/taskmesh/internal/cmdutil"
	"github.com/taskmesh/taskmesh/internal/signals"
)

func TestResolveArgsAddsDefaultCommand(t *testing.T) {
	testCases := []struct {
		name         string
		args         []string
		defaultAdded bool
	}{
		{
			name:         "normal run build",
			args:         []string{"run", "build"},
			defaultAdded: false,
		},
		{
			name:         "empty args",
			args:         []string{},
			defaultAdded: true,
		},
		{
			name:         "root help",
			args:         []string{"--help"},
			defaultAdded: false,
		},
		{
			name:         "run help",
			args:         []string{"run", "--help"},
			defaultAdded: false,
		},
		{
			name:         "version",
			args:         []string{"--version"},
			defaultAdded: false,
		},
		{
			name:         "daemon subcommand",
			args:         []string{"daemon", "status"},
			defaultAdded: false,
		},
	}

	helper := cmdutil.NewHelper("test-version")
	signalWatcher := signals.NewWatcher()
	defer signalWatcher.Close()
	root := getCmd(helper, signalWatcher)

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resolved := resolveArgs(root, tc.args)
			gotDefault := len(resolved) == len(tc.args)+1 && resolved[0] == _defaultCmd
			if gotDefault != tc.defaultAdded {
				t.Errorf("resolveArgs(%v) = %v, defaultAdded got %v, want %v", tc.args, resolved, gotDefault, tc.defaultAdded)
			}
		})
	}
}
