package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chartd-org/chartd/internal/build"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s", build.AppName, build.Version)
			if build.CommitSHA != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (%s)", build.CommitSHA)
			}
			if build.BuildDate != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " built %s", build.BuildDate)
			}
			fmt.Fprintln(cmd.OutOrStdout())
		},
	}
}
