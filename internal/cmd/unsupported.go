package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// unsupportedCmds returns stub cobra commands for the remote-linking and
// prune surfaces. Remote linking, the auth login flows, and prune are
// external collaborators with fixed interfaces in this tree, not
// subsystems it implements; these stubs keep `turbo <cmd> --help` listing
// them while reporting that they are unavailable.
func unsupportedCmds() []*cobra.Command {
	specs := []struct {
		use   string
		short string
	}{
		{"link", "Link the current directory to a remote cache"},
		{"login", "Log in to your Vercel account"},
		{"logout", "Log out of your Vercel account"},
		{"unlink", "Unlink the current directory from a remote cache"},
		{"bin", "Print the path to the turbo binary"},
		{"prune", "Prepare a subset of a monorepo for deployment"},
	}
	cmds := make([]*cobra.Command, 0, len(specs))
	for _, s := range specs {
		s := s
		cmds = append(cmds, &cobra.Command{
			Use:   s.use,
			Short: s.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return fmt.Errorf("%s: not available in this build", s.use)
			},
		})
	}
	return cmds
}
