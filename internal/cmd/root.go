// Package cmd wires the chartd daemon together and exposes the CLI.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/chartd-org/chartd/internal/build"
	"github.com/chartd-org/chartd/internal/config"
)

var (
	cfgFile string
	dataDir string

	rootCmd = &cobra.Command{
		Use:           build.Slug,
		Short:         "Media playback stats bot for Discord.",
		Long:          "Pulls playback history from Tautulli, renders charts, and posts them to a Discord channel on a schedule.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $XDG_CONFIG_HOME/chartd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"data directory (default is $XDG_DATA_HOME/chartd)")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())
}

func loaderOptions() []config.LoaderOption {
	var opts []config.LoaderOption
	if cfgFile != "" {
		opts = append(opts, config.WithConfigFile(cfgFile))
	}
	if dataDir != "" {
		opts = append(opts, config.WithDataDir(dataDir))
	}
	return opts
}
