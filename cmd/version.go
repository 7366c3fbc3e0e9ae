package cmd

import (
	"fmt"

	"github.com/metal-toolbox/toolshed/internal/version"
	"github.com/spf13/cobra"
)

var cmdVersion = &cobra.Command{
	Use:   "version",
	Short: "Print toolshed version along with the Go version it was built with",
	Run: func(cmd *cobra.Command, _ []string) {
		v := version.Current()

		fmt.Fprintf(
			cmd.OutOrStdout(),
			"commit: %s\nbranch: %s\ngit summary: %s\nbuildDate: %s\nversion: %s\nGo version: %s\n",
			v.GitCommit, v.GitBranch, v.GitSummary, v.BuildDate, v.AppVersion, v.GoVersion,
		)
	},
}

func init() {
	RootCmd.AddCommand(cmdVersion)
}
